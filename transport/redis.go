package transport

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker over a Redis server. It holds two clients,
// one for publishing and one for subscribing, because a Redis connection in
// subscriber mode cannot issue regular commands.
type RedisBroker struct {
	publisher  *redis.Client
	subscriber *redis.Client
}

// RedisOptions configures a RedisBroker connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// DialRedis connects a RedisBroker and verifies the connection with a ping.
func DialRedis(ctx context.Context, opts RedisOptions) (*RedisBroker, error) {
	publisher := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	subscriber := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := publisher.Ping(ctx).Err(); err != nil {
		publisher.Close()
		subscriber.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBroker{publisher: publisher, subscriber: subscriber}, nil
}

// RedisDialer adapts DialRedis to the Dialer contract.
func RedisDialer(opts RedisOptions) Dialer {
	return func(ctx context.Context) (Broker, error) {
		return DialRedis(ctx, opts)
	}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.publisher.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := b.subscriber.Subscribe(ctx, channel)

	// Receive forces the SUBSCRIBE handshake so errors surface here rather
	// than silently on the message channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe to %s: %w", channel, err)
	}

	sub := &redisSubscription{
		pubsub:   pubsub,
		payloads: make(chan []byte),
	}
	go sub.pump()
	return sub, nil
}

func (b *RedisBroker) Close() error {
	subErr := b.subscriber.Close()
	pubErr := b.publisher.Close()
	if subErr != nil {
		return subErr
	}
	return pubErr
}

type redisSubscription struct {
	pubsub   *redis.PubSub
	payloads chan []byte
}

func (s *redisSubscription) pump() {
	defer close(s.payloads)
	for msg := range s.pubsub.Channel() {
		s.payloads <- []byte(msg.Payload)
	}
}

func (s *redisSubscription) Payloads() <-chan []byte {
	return s.payloads
}

func (s *redisSubscription) Unsubscribe() error {
	return s.pubsub.Close()
}
