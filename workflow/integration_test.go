package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentfabric/relay/config"
	"github.com/agentfabric/relay/queue"
	"github.com/agentfabric/relay/retry"
	"github.com/agentfabric/relay/transport"
	"github.com/agentfabric/relay/workflow"
)

func connectedAdapter(t *testing.T, ctx context.Context, name string, broker *transport.MemoryBroker) *transport.Adapter {
	t.Helper()

	cfg := config.DefaultTransportConfig()
	cfg.Name = name
	cfg.Observer = "noop"

	adapter, err := transport.New(ctx, cfg, func(ctx context.Context) (transport.Broker, error) {
		return broker, nil
	})
	if err != nil {
		t.Fatalf("transport.New() error = %v", err)
	}
	if err := adapter.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return adapter
}

// TestWorkflowOverTransport drives a two-step workflow end to end: the
// engine queues step requests on the outbound delivery queue, the
// response processor publishes them over the broker, a worker agent
// executes them, and replies come back through the inbound message queue
// to the requester's correlation map.
func TestWorkflowOverTransport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := transport.NewMemoryBroker(16)

	orchestrator := connectedAdapter(t, ctx, "orchestrator", broker)
	defer orchestrator.Close()
	worker := connectedAdapter(t, ctx, "worker", broker)
	defer worker.Close()

	qcfg := config.DefaultQueueConfig()
	qcfg.Observer = "noop"
	manager, err := queue.NewManager(qcfg)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	policy := retry.Policy{
		MaxAttempts:       3,
		InitialDelay:      time.Millisecond,
		BackoffMultiplier: 2,
		MaxDelay:          50 * time.Millisecond,
	}

	requester := transport.NewQueuedRequester(orchestrator, "orchestrator-1", nil)
	if err := orchestrator.Subscribe(transport.AgentChannel("orchestrator-1"), queue.IngressHandler(manager)); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	go queue.NewMessageQueue(manager, policy, requester.Receive).Run(ctx)
	go queue.NewResponseQueue(manager, policy, orchestrator).Run(ctx)

	actions := map[string]workflow.ActionFunc{
		"transform": func(ctx context.Context, params map[string]any) (any, error) {
			return map[string]any{"output": params["input"]}, nil
		},
		"analyze": func(ctx context.Context, params map[string]any) (any, error) {
			return map[string]any{"score": 0.9}, nil
		},
	}
	handler := workflow.NewStepHandler(worker, "worker-1", actions)
	if err := worker.Subscribe(transport.AgentChannel("worker-1"), handler); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	registry := workflow.NewRegistry()
	if err := registry.Register(workflow.AgentInfo{
		ID:           "worker-1",
		Name:         "Worker",
		Capabilities: []string{"transform", "analyze"},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	dispatcher := workflow.NewTransportDispatcher(requester, "orchestrator-1", queue.NewOutbox(manager))

	cfg := config.DefaultEngineConfig()
	cfg.Observer = "noop"
	cfg.StepTimeout = config.Duration(2 * time.Second)
	engine, err := workflow.NewEngine(cfg, registry, dispatcher)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	first := workflow.NewStep("worker-1", "transform", map[string]any{"input": "raw"})
	second := workflow.NewStep("worker-1", "analyze", nil, first.ID)
	wf := workflow.NewWorkflow("end-to-end", first, second)

	run, err := engine.Execute(ctx, wf)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	select {
	case <-run.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for workflow")
	}

	if err := run.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
	if wf.Status != workflow.StatusCompleted {
		t.Errorf("workflow Status = %q, want %q", wf.Status, workflow.StatusCompleted)
	}
	if string(first.Result) != `{"output":"raw"}` {
		t.Errorf("transform Result = %s, want {\"output\":\"raw\"}", first.Result)
	}
	if string(second.Result) != `{"score":0.9}` {
		t.Errorf("analyze Result = %s, want {\"score\":0.9}", second.Result)
	}

	// Two step requests left through the response queue and two replies
	// arrived through the message queue. The delivery counter trails the
	// handler return, so poll briefly.
	deadline := time.After(2 * time.Second)
	for {
		metrics := manager.Metrics()
		if metrics.Enqueued == 4 && metrics.Delivered == 4 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("queue metrics = %+v, want Enqueued=4 Delivered=4", metrics)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestStepHandlerRejectsUnknownAction covers the executing side on its
// own: an unsupported action comes back as a step error, not a dropped
// request.
func TestStepHandlerRejectsUnknownAction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := transport.NewMemoryBroker(16)

	orchestrator := connectedAdapter(t, ctx, "orchestrator", broker)
	defer orchestrator.Close()
	worker := connectedAdapter(t, ctx, "worker", broker)
	defer worker.Close()

	requester, err := transport.NewRequester(orchestrator, "orchestrator-1", nil)
	if err != nil {
		t.Fatalf("NewRequester() error = %v", err)
	}

	handler := workflow.NewStepHandler(worker, "worker-1", map[string]workflow.ActionFunc{})
	if err := worker.Subscribe(transport.AgentChannel("worker-1"), handler); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	dispatcher := workflow.NewTransportDispatcher(requester, "orchestrator-1", nil)
	step := workflow.NewStep("worker-1", "paint", nil)

	_, err = dispatcher.DispatchStep(ctx, "wf-1", step, 2*time.Second)
	if err == nil {
		t.Fatal("DispatchStep() should fail for an unsupported action")
	}
}
