// Package syncer provides an eventually-consistent state synchronizer.
// Changes are recorded durably first, then applied in the background with
// per-key ordering: operations for the same key apply strictly in the
// order they were submitted, while different keys proceed independently.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentfabric/relay/config"
	"github.com/agentfabric/relay/observability"
)

var (
	// ErrOperationNotFound is returned by Store.UpdateSync for unknown IDs.
	ErrOperationNotFound = errors.New("sync operation not found")

	// ErrAlreadyStarted is returned by Start when the loop is running.
	ErrAlreadyStarted = errors.New("synchronizer already started")
)

// ApplyFunc performs the durable write for one operation. It must be safe
// to call concurrently for different keys; the synchronizer never applies
// two operations for the same key at once.
type ApplyFunc func(ctx context.Context, key string, value json.RawMessage) error

// Synchronizer queues state changes per key and applies them in the
// background. Synchronize returns as soon as the operation is durably
// recorded; the apply happens on a later tick.
type Synchronizer struct {
	store      Store
	apply      ApplyFunc
	interval   time.Duration
	maxRetries int
	observer   observability.Observer

	mu       sync.Mutex
	queues   map[string][]*Operation
	inFlight map[string]bool
	failed   []Operation
	started  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Synchronizer. Nothing runs until Start.
func New(cfg config.SyncConfig, store Store, apply ApplyFunc) (*Synchronizer, error) {
	observer, err := observability.GetObserver(cfg.Observer)
	if err != nil {
		return nil, err
	}

	return &Synchronizer{
		store:      store,
		apply:      apply,
		interval:   cfg.Interval.Std(),
		maxRetries: cfg.MaxRetries,
		observer:   observer,
		queues:     make(map[string][]*Operation),
		inFlight:   make(map[string]bool),
	}, nil
}

// Synchronize records a state change for key and queues it for background
// application. It returns once the pending operation is durable; it never
// applies inline.
func (s *Synchronizer) Synchronize(ctx context.Context, key string, value any) (*Operation, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode sync value for %s: %w", key, err)
	}

	op := &Operation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Key:       key,
		Value:     raw,
		Timestamp: time.Now(),
		Status:    StatusPending,
	}

	if err := s.store.CreateSync(ctx, op); err != nil {
		return nil, fmt.Errorf("record sync for %s: %w", key, err)
	}

	s.mu.Lock()
	s.queues[key] = append(s.queues[key], op)
	s.mu.Unlock()

	s.emit(ctx, EventEnqueued, observability.LevelVerbose, map[string]any{
		"operation_id": op.ID,
		"key":          key,
	})
	return op, nil
}

// Start loads pending operations from the store and launches the
// background loop. Recovered operations keep their original per-key order.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	pending, err := s.store.FindPendingSyncs(ctx)
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("recover pending syncs: %w", err)
	}

	s.mu.Lock()
	for i := range pending {
		op := pending[i]
		if s.queued(op.ID, op.Key) {
			continue
		}
		s.queues[op.Key] = append(s.queues[op.Key], &op)
	}
	s.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	return nil
}

// Stop halts the background loop and waits for it to exit. In-flight
// applies finish; queued operations stay in the store for the next Start.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// Failed returns the operations that exhausted their retry budget since
// startup.
func (s *Synchronizer) Failed() []Operation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Operation, len(s.failed))
	copy(out, s.failed)
	return out
}

// PendingKeys returns how many keys currently have queued operations.
func (s *Synchronizer) PendingKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, q := range s.queues {
		if len(q) > 0 {
			n++
		}
	}
	return n
}

// queued reports whether the operation is already in key's queue. Caller
// holds s.mu.
func (s *Synchronizer) queued(id, key string) bool {
	for _, op := range s.queues[key] {
		if op.ID == id {
			return true
		}
	}
	return false
}

func (s *Synchronizer) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick launches one apply per key that has work and is not already in
// flight. Heads are removed only after the apply resolves, so a crash
// between tick and resolution leaves the operation pending in the store.
func (s *Synchronizer) tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, q := range s.queues {
		if len(q) == 0 || s.inFlight[key] {
			continue
		}
		s.inFlight[key] = true
		go s.applyHead(ctx, key, q[0])
	}
}

// applyHead resolves one operation. Store writes happen outside s.mu so a
// slow store never stalls Synchronize callers; the in-flight flag keeps
// the key serialized until the write resolves.
func (s *Synchronizer) applyHead(ctx context.Context, key string, op *Operation) {
	err := s.apply(ctx, key, op.Value)

	if err == nil {
		now := time.Now()
		status := StatusCompleted
		s.update(ctx, op.ID, Patch{Status: &status, AppliedAt: &now})

		s.mu.Lock()
		op.Status = StatusCompleted
		op.AppliedAt = now
		s.popLocked(key, op.ID)
		s.inFlight[key] = false
		s.mu.Unlock()

		s.emit(ctx, EventApplied, observability.LevelVerbose, map[string]any{
			"operation_id": op.ID,
			"key":          key,
		})
		return
	}

	op.Retries++
	if op.Retries >= s.maxRetries {
		status := StatusFailed
		msg := err.Error()
		s.update(ctx, op.ID, Patch{Status: &status, Retries: &op.Retries, Error: &msg})

		s.mu.Lock()
		op.Status = StatusFailed
		op.Error = msg
		s.popLocked(key, op.ID)
		s.failed = append(s.failed, *op)
		s.inFlight[key] = false
		s.mu.Unlock()

		s.emit(ctx, EventFailed, observability.LevelWarning, map[string]any{
			"operation_id": op.ID,
			"key":          key,
			"retries":      op.Retries,
			"error":        msg,
		})
		return
	}

	s.update(ctx, op.ID, Patch{Retries: &op.Retries})

	s.mu.Lock()
	s.inFlight[key] = false
	s.mu.Unlock()

	s.emit(ctx, EventRetry, observability.LevelVerbose, map[string]any{
		"operation_id": op.ID,
		"key":          key,
		"retries":      op.Retries,
	})
}

// popLocked removes the head of key's queue if it matches id. Caller
// holds s.mu.
func (s *Synchronizer) popLocked(key, id string) {
	q := s.queues[key]
	if len(q) > 0 && q[0].ID == id {
		s.queues[key] = q[1:]
	}
	if len(s.queues[key]) == 0 {
		delete(s.queues, key)
	}
}

// update writes a patch to the store, downgrading failures to a warning
// event; the in-memory state stays authoritative for this process.
func (s *Synchronizer) update(ctx context.Context, id string, patch Patch) {
	if err := s.store.UpdateSync(ctx, id, patch); err != nil {
		s.emit(ctx, EventRetry, observability.LevelWarning, map[string]any{
			"operation_id": id,
			"error":        fmt.Sprintf("store update: %v", err),
		})
	}
}

func (s *Synchronizer) emit(ctx context.Context, event observability.EventType, level observability.Level, data map[string]any) {
	s.observer.OnEvent(ctx, observability.Event{
		Type:      event,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "syncer",
		Data:      data,
	})
}
