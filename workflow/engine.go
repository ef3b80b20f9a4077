package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agentfabric/relay/config"
	"github.com/agentfabric/relay/observability"
	"github.com/agentfabric/relay/retry"
)

// Engine validates and executes workflows against a registry of agents.
// It holds no per-workflow state; each Execute call returns an
// independent Run.
type Engine struct {
	registry   *Registry
	dispatcher Dispatcher
	observer   observability.Observer

	stepTimeout time.Duration
	stepRetry   retry.Policy

	mu       sync.Mutex
	listener StatusListener
}

// NewEngine creates an Engine from the given configuration.
func NewEngine(cfg config.EngineConfig, registry *Registry, dispatcher Dispatcher) (*Engine, error) {
	observer, err := observability.GetObserver(cfg.Observer)
	if err != nil {
		return nil, err
	}

	return &Engine{
		registry:    registry,
		dispatcher:  dispatcher,
		observer:    observer,
		stepTimeout: cfg.StepTimeout.Std(),
		stepRetry:   cfg.StepRetry.Policy(),
	}, nil
}

// OnStatus installs a listener for workflow and step transitions. Calls
// are serialized per run.
func (e *Engine) OnStatus(listener StatusListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = listener
}

// Execute validates the workflow and starts executing it. Validation
// happens entirely before any side effects: an invalid workflow is
// rejected with no step dispatched and no status change. The returned
// Run tracks completion.
func (e *Engine) Execute(ctx context.Context, wf *Workflow) (*Run, error) {
	if wf.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrWorkflowTerminal, wf.ID, wf.Status)
	}
	if err := e.validate(wf); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		engine: e,
		wf:     wf,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	wf.Status = StatusRunning
	e.emit(runCtx, wf.ID, "", string(StatusRunning), EventStarted, observability.LevelInfo, map[string]any{
		"workflow": wf.Name,
		"steps":    len(wf.Steps),
	})

	go run.loop(runCtx)
	return run, nil
}

// validate checks agents, capabilities, dependency references, and graph
// acyclicity.
func (e *Engine) validate(wf *Workflow) error {
	if len(wf.Steps) == 0 {
		return &ValidationError{WorkflowID: wf.ID, Reason: "workflow has no steps", Err: ErrNoSteps}
	}

	byID := make(map[string]*Step, len(wf.Steps))
	for _, step := range wf.Steps {
		if step.ID == "" {
			return &ValidationError{WorkflowID: wf.ID, Reason: "step has no ID"}
		}
		if _, dup := byID[step.ID]; dup {
			return &ValidationError{WorkflowID: wf.ID, StepID: step.ID, Reason: "duplicate step ID"}
		}
		byID[step.ID] = step
	}

	for _, step := range wf.Steps {
		if _, err := e.registry.Capabilities(step.AgentID); err != nil {
			return &ValidationError{
				WorkflowID: wf.ID,
				StepID:     step.ID,
				Reason:     fmt.Sprintf("unknown agent %q", step.AgentID),
				Err:        err,
			}
		}
		if !e.registry.Supports(step.AgentID, step.Action) {
			return &ValidationError{
				WorkflowID: wf.ID,
				StepID:     step.ID,
				Reason:     fmt.Sprintf("agent %q does not support action %q", step.AgentID, step.Action),
			}
		}

		for _, dep := range step.DependsOn {
			if dep == step.ID {
				return &ValidationError{WorkflowID: wf.ID, StepID: step.ID, Reason: "step depends on itself"}
			}
			if _, exists := byID[dep]; !exists {
				return &ValidationError{
					WorkflowID: wf.ID,
					StepID:     step.ID,
					Reason:     fmt.Sprintf("unknown dependency %q", dep),
				}
			}
		}
	}

	if cycle := findCycle(wf.Steps, byID); cycle != "" {
		return &ValidationError{
			WorkflowID: wf.ID,
			StepID:     cycle,
			Reason:     "dependency cycle",
		}
	}
	return nil
}

// findCycle runs a three-color depth-first search over the dependency
// graph and returns a step ID on a cycle, or "".
func findCycle(steps []*Step, byID map[string]*Step) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(steps))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range byID[id].DependsOn {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if found := visit(dep); found != "" {
					return found
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, step := range steps {
		if color[step.ID] == white {
			if found := visit(step.ID); found != "" {
				return found
			}
		}
	}
	return ""
}

func (e *Engine) emit(ctx context.Context, workflowID, stepID, status string, event observability.EventType, level observability.Level, data map[string]any) {
	e.mu.Lock()
	listener := e.listener
	e.mu.Unlock()

	if listener != nil {
		listener(StatusEvent{
			WorkflowID: workflowID,
			StepID:     stepID,
			Status:     status,
			Timestamp:  time.Now(),
		})
	}

	if data == nil {
		data = make(map[string]any)
	}
	data["workflow_id"] = workflowID
	if stepID != "" {
		data["step_id"] = stepID
	}

	e.observer.OnEvent(ctx, observability.Event{
		Type:      event,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "workflow",
		Data:      data,
	})
}

type stepOutcome struct {
	step   *Step
	output json.RawMessage
	err    error
}

// Run is one execution of a workflow. The engine mutates the workflow's
// steps from the run's scheduler goroutine only; read them after Done is
// closed.
type Run struct {
	engine *Engine
	wf     *Workflow
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	canceled bool
	err      error
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Err returns the run's first permanent failure, nil for a completed
// workflow. Call after Done is closed.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Cancel stops dispatching new steps. Steps already in flight finish or
// time out on their own; the run then reaches a terminal state.
func (r *Run) Cancel() {
	r.mu.Lock()
	r.canceled = true
	r.mu.Unlock()
}

func (r *Run) isCanceled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canceled
}

// loop is the run's scheduler. It owns all step status mutations:
// dispatch decisions, outcome application, and dependency skipping all
// happen here, so no step transition ever races another.
func (r *Run) loop(ctx context.Context) {
	defer close(r.done)
	defer r.cancel()

	results := make(chan stepOutcome)
	running := 0

	for {
		r.skipBlocked(ctx)

		if !r.isCanceled() && ctx.Err() == nil {
			for _, step := range r.wf.Steps {
				if step.Status != StepPending || !r.depsCompleted(step) {
					continue
				}
				step.Status = StepDispatched
				r.engine.emit(ctx, r.wf.ID, step.ID, string(StepDispatched), EventStepDispatched, observability.LevelVerbose, map[string]any{
					"agent":  step.AgentID,
					"action": step.Action,
				})
				running++
				go r.runStep(ctx, step, results)
			}
		}

		if running == 0 {
			break
		}

		outcome := <-results
		running--
		r.applyOutcome(ctx, outcome)
	}

	r.finalize(ctx)
}

func (r *Run) depsCompleted(step *Step) bool {
	for _, dep := range step.DependsOn {
		if r.wf.StepByID(dep).Status != StepCompleted {
			return false
		}
	}
	return true
}

// skipBlocked marks pending steps whose dependencies can no longer
// complete. Repeated passes propagate the skip through the graph.
func (r *Run) skipBlocked(ctx context.Context) {
	for changed := true; changed; {
		changed = false
		for _, step := range r.wf.Steps {
			if step.Status != StepPending || !r.depsBlocked(step) {
				continue
			}
			step.Status = StepSkipped
			changed = true
			r.engine.emit(ctx, r.wf.ID, step.ID, string(StepSkipped), EventStepSkipped, observability.LevelWarning, nil)
		}
	}
}

func (r *Run) depsBlocked(step *Step) bool {
	for _, dep := range step.DependsOn {
		switch r.wf.StepByID(dep).Status {
		case StepFailed, StepSkipped:
			return true
		}
	}
	return false
}

func (r *Run) runStep(ctx context.Context, step *Step, results chan<- stepOutcome) {
	policy := step.Retry
	if policy.MaxAttempts <= 0 {
		policy = r.engine.stepRetry
	}
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = r.engine.stepTimeout
	}

	output, err := retry.DoValue(ctx, policy, func(ctx context.Context) (json.RawMessage, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return r.engine.dispatcher.DispatchStep(attemptCtx, r.wf.ID, step, timeout)
	})

	results <- stepOutcome{step: step, output: output, err: err}
}

func (r *Run) applyOutcome(ctx context.Context, outcome stepOutcome) {
	step := outcome.step

	if outcome.err == nil {
		step.Status = StepCompleted
		step.Result = outcome.output
		r.engine.emit(ctx, r.wf.ID, step.ID, string(StepCompleted), EventStepCompleted, observability.LevelVerbose, nil)
		return
	}

	step.Status = StepFailed
	step.Err = &StepError{
		WorkflowID: r.wf.ID,
		StepID:     step.ID,
		AgentID:    step.AgentID,
		Action:     step.Action,
		Err:        outcome.err,
	}

	r.mu.Lock()
	if r.err == nil {
		r.err = step.Err
	}
	r.mu.Unlock()

	r.engine.emit(ctx, r.wf.ID, step.ID, string(StepFailed), EventStepFailed, observability.LevelError, map[string]any{
		"error": outcome.err.Error(),
	})
}

func (r *Run) finalize(ctx context.Context) {
	r.skipBlocked(ctx)

	completed := true
	for _, step := range r.wf.Steps {
		if step.Status != StepCompleted {
			completed = false
			break
		}
	}

	if completed {
		r.wf.Status = StatusCompleted
		r.engine.emit(ctx, r.wf.ID, "", string(StatusCompleted), EventCompleted, observability.LevelInfo, nil)
		return
	}

	r.wf.Status = StatusError
	r.mu.Lock()
	if r.err == nil {
		switch {
		case ctx.Err() != nil:
			r.err = ctx.Err()
		case r.canceled:
			r.err = context.Canceled
		}
	}
	err := r.err
	r.mu.Unlock()

	data := map[string]any{}
	if err != nil {
		data["error"] = err.Error()
	}
	r.engine.emit(ctx, r.wf.ID, "", string(StatusError), EventError, observability.LevelError, data)
}
