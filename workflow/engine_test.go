package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentfabric/relay/config"
	"github.com/agentfabric/relay/retry"
	"github.com/agentfabric/relay/workflow"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		Observer:    "noop",
		StepTimeout: config.Duration(time.Second),
		StepRetry: config.RetryConfig{
			MaxAttempts:       1,
			InitialDelay:      config.Duration(time.Millisecond),
			BackoffMultiplier: 2,
			MaxDelay:          config.Duration(10 * time.Millisecond),
		},
	}
}

func workerRegistry(t *testing.T) *workflow.Registry {
	t.Helper()

	r := workflow.NewRegistry()
	err := r.Register(workflow.AgentInfo{
		ID:           "worker-1",
		Name:         "Worker",
		Capabilities: []string{"transform", "analyze"},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return r
}

// recordingDispatcher tracks which steps were dispatched and answers from
// a per-action script.
type recordingDispatcher struct {
	mu         sync.Mutex
	dispatched []string
	fail       map[string]error
	delay      time.Duration
}

func (d *recordingDispatcher) DispatchStep(ctx context.Context, workflowID string, step *workflow.Step, timeout time.Duration) (json.RawMessage, error) {
	d.mu.Lock()
	d.dispatched = append(d.dispatched, step.Action)
	d.mu.Unlock()

	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := d.fail[step.Action]; err != nil {
		return nil, err
	}
	return json.RawMessage(`{"done":true}`), nil
}

func (d *recordingDispatcher) count(action string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, a := range d.dispatched {
		if a == action {
			n++
		}
	}
	return n
}

func execute(t *testing.T, e *workflow.Engine, wf *workflow.Workflow) *workflow.Run {
	t.Helper()

	run, err := e.Execute(context.Background(), wf)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run")
	}
	return run
}

func TestEngine_ExecuteLinearWorkflow(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	e, err := workflow.NewEngine(testEngineConfig(), workerRegistry(t), dispatcher)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	first := workflow.NewStep("worker-1", "transform", map[string]any{"input": "raw"})
	second := workflow.NewStep("worker-1", "analyze", nil, first.ID)
	wf := workflow.NewWorkflow("pipeline", first, second)

	run := execute(t, e, wf)

	if err := run.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
	if wf.Status != workflow.StatusCompleted {
		t.Errorf("workflow Status = %q, want %q", wf.Status, workflow.StatusCompleted)
	}
	for _, step := range wf.Steps {
		if step.Status != workflow.StepCompleted {
			t.Errorf("step %s Status = %q, want %q", step.Action, step.Status, workflow.StepCompleted)
		}
		if string(step.Result) != `{"done":true}` {
			t.Errorf("step %s Result = %s", step.Action, step.Result)
		}
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.dispatched) != 2 || dispatcher.dispatched[0] != "transform" || dispatcher.dispatched[1] != "analyze" {
		t.Errorf("dispatch order = %v, want [transform analyze]", dispatcher.dispatched)
	}
}

func TestEngine_DependencyGating(t *testing.T) {
	// A fails permanently: B must never be dispatched and the workflow
	// ends in error.
	dispatcher := &recordingDispatcher{fail: map[string]error{"transform": errors.New("agent crashed")}}
	e, err := workflow.NewEngine(testEngineConfig(), workerRegistry(t), dispatcher)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	stepA := workflow.NewStep("worker-1", "transform", nil)
	stepB := workflow.NewStep("worker-1", "analyze", nil, stepA.ID)
	wf := workflow.NewWorkflow("gated", stepA, stepB)

	run := execute(t, e, wf)

	if wf.Status != workflow.StatusError {
		t.Errorf("workflow Status = %q, want %q", wf.Status, workflow.StatusError)
	}
	if stepA.Status != workflow.StepFailed {
		t.Errorf("step A Status = %q, want %q", stepA.Status, workflow.StepFailed)
	}
	if stepB.Status != workflow.StepSkipped {
		t.Errorf("step B Status = %q, want %q", stepB.Status, workflow.StepSkipped)
	}
	if dispatcher.count("analyze") != 0 {
		t.Error("dependent step was dispatched despite failed dependency")
	}

	var stepErr *workflow.StepError
	if !errors.As(run.Err(), &stepErr) {
		t.Fatalf("Err() = %v, want *StepError", run.Err())
	}
	if stepErr.StepID != stepA.ID {
		t.Errorf("StepError.StepID = %q, want %q", stepErr.StepID, stepA.ID)
	}
}

func TestEngine_IndependentBranchesFinish(t *testing.T) {
	dispatcher := &recordingDispatcher{fail: map[string]error{"transform": errors.New("agent crashed")}}
	e, err := workflow.NewEngine(testEngineConfig(), workerRegistry(t), dispatcher)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	failing := workflow.NewStep("worker-1", "transform", nil)
	independent := workflow.NewStep("worker-1", "analyze", nil)
	wf := workflow.NewWorkflow("branches", failing, independent)

	execute(t, e, wf)

	if wf.Status != workflow.StatusError {
		t.Errorf("workflow Status = %q, want %q", wf.Status, workflow.StatusError)
	}
	if independent.Status != workflow.StepCompleted {
		t.Errorf("independent step Status = %q, want %q", independent.Status, workflow.StepCompleted)
	}
}

func TestEngine_StepRetriesThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	dispatcher := workflow.DispatcherFunc(func(ctx context.Context, workflowID string, step *workflow.Step, timeout time.Duration) (json.RawMessage, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return json.RawMessage(`"ok"`), nil
	})

	e, err := workflow.NewEngine(testEngineConfig(), workerRegistry(t), dispatcher)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	step := workflow.NewStep("worker-1", "transform", nil)
	step.Retry = retry.Policy{
		MaxAttempts:       3,
		InitialDelay:      time.Millisecond,
		BackoffMultiplier: 2,
		MaxDelay:          10 * time.Millisecond,
	}
	wf := workflow.NewWorkflow("retrying", step)

	run := execute(t, e, wf)

	if err := run.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if wf.Status != workflow.StatusCompleted {
		t.Errorf("workflow Status = %q, want %q", wf.Status, workflow.StatusCompleted)
	}
}

func TestEngine_StepTimeoutIsRetryable(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	dispatcher := workflow.DispatcherFunc(func(ctx context.Context, workflowID string, step *workflow.Step, timeout time.Duration) (json.RawMessage, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()

		if n == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return json.RawMessage(`"ok"`), nil
	})

	e, err := workflow.NewEngine(testEngineConfig(), workerRegistry(t), dispatcher)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	step := workflow.NewStep("worker-1", "transform", nil)
	step.Timeout = 20 * time.Millisecond
	step.Retry = retry.Policy{
		MaxAttempts:       2,
		InitialDelay:      time.Millisecond,
		BackoffMultiplier: 2,
		MaxDelay:          10 * time.Millisecond,
	}
	wf := workflow.NewWorkflow("timeouts", step)

	run := execute(t, e, wf)

	if err := run.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil after timeout retry", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestEngine_ValidationRejectsBeforeDispatch(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	e, err := workflow.NewEngine(testEngineConfig(), workerRegistry(t), dispatcher)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	known := workflow.NewStep("worker-1", "transform", nil)

	cycleA := workflow.NewStep("worker-1", "transform", nil)
	cycleB := workflow.NewStep("worker-1", "analyze", nil, cycleA.ID)
	cycleA.DependsOn = []string{cycleB.ID}

	tests := []struct {
		name  string
		steps []*workflow.Step
	}{
		{name: "no steps", steps: nil},
		{name: "unknown agent", steps: []*workflow.Step{workflow.NewStep("ghost", "transform", nil)}},
		{name: "unsupported action", steps: []*workflow.Step{workflow.NewStep("worker-1", "paint", nil)}},
		{name: "unknown dependency", steps: []*workflow.Step{workflow.NewStep("worker-1", "transform", nil, "missing")}},
		{name: "self dependency", steps: []*workflow.Step{func() *workflow.Step {
			s := workflow.NewStep("worker-1", "transform", nil)
			s.DependsOn = []string{s.ID}
			return s
		}()}},
		{name: "dependency cycle", steps: []*workflow.Step{known, cycleA, cycleB}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := workflow.NewWorkflow(tt.name, tt.steps...)

			_, err := e.Execute(context.Background(), wf)

			var vErr *workflow.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Execute() error = %v, want *ValidationError", err)
			}
			if wf.Status != workflow.StatusDraft {
				t.Errorf("workflow Status = %q after rejection, want %q", wf.Status, workflow.StatusDraft)
			}
		})
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.dispatched) != 0 {
		t.Errorf("dispatched %v for invalid workflows, want none", dispatcher.dispatched)
	}
}

func TestEngine_TerminalWorkflowRejectsExecute(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	e, err := workflow.NewEngine(testEngineConfig(), workerRegistry(t), dispatcher)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	wf := workflow.NewWorkflow("once", workflow.NewStep("worker-1", "transform", nil))
	execute(t, e, wf)

	if _, err := e.Execute(context.Background(), wf); !errors.Is(err, workflow.ErrWorkflowTerminal) {
		t.Errorf("Execute() on terminal workflow error = %v, want ErrWorkflowTerminal", err)
	}
}

func TestRun_CancelStopsNewDispatches(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var dispatched []string

	dispatcher := workflow.DispatcherFunc(func(ctx context.Context, workflowID string, step *workflow.Step, timeout time.Duration) (json.RawMessage, error) {
		mu.Lock()
		dispatched = append(dispatched, step.Action)
		mu.Unlock()
		<-release
		return json.RawMessage(`"ok"`), nil
	})

	e, err := workflow.NewEngine(testEngineConfig(), workerRegistry(t), dispatcher)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	first := workflow.NewStep("worker-1", "transform", nil)
	second := workflow.NewStep("worker-1", "analyze", nil, first.ID)
	wf := workflow.NewWorkflow("cancelable", first, second)

	run, err := e.Execute(context.Background(), wf)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// Wait for the first step to be in flight, cancel, then release it.
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(dispatched)
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first step never dispatched")
		case <-time.After(time.Millisecond):
		}
	}
	run.Cancel()
	close(release)

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for canceled run")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(dispatched) != 1 {
		t.Errorf("dispatched = %v after Cancel, want only the first step", dispatched)
	}
	if first.Status != workflow.StepCompleted {
		t.Errorf("in-flight step Status = %q, want %q", first.Status, workflow.StepCompleted)
	}
	if second.Status != workflow.StepPending {
		t.Errorf("undispatched step Status = %q, want %q", second.Status, workflow.StepPending)
	}
	if wf.Status != workflow.StatusError {
		t.Errorf("workflow Status = %q, want %q", wf.Status, workflow.StatusError)
	}
}

func TestEngine_StatusEvents(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	e, err := workflow.NewEngine(testEngineConfig(), workerRegistry(t), dispatcher)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	var mu sync.Mutex
	var events []workflow.StatusEvent
	e.OnStatus(func(event workflow.StatusEvent) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	step := workflow.NewStep("worker-1", "transform", nil)
	wf := workflow.NewWorkflow("observed", step)
	execute(t, e, wf)

	mu.Lock()
	defer mu.Unlock()

	want := []string{
		string(workflow.StatusRunning),
		string(workflow.StepDispatched),
		string(workflow.StepCompleted),
		string(workflow.StatusCompleted),
	}
	if len(events) != len(want) {
		t.Fatalf("got %d status events, want %d: %v", len(events), len(want), events)
	}
	for i, status := range want {
		if events[i].Status != status {
			t.Errorf("events[%d].Status = %q, want %q", i, events[i].Status, status)
		}
		if events[i].WorkflowID != wf.ID {
			t.Errorf("events[%d].WorkflowID = %q, want %q", i, events[i].WorkflowID, wf.ID)
		}
	}
	if events[1].StepID != step.ID {
		t.Errorf("dispatch event StepID = %q, want %q", events[1].StepID, step.ID)
	}
}
