package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrAgentNotFound indicates a lookup for an unregistered agent ID.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentExists indicates a registration conflict.
	ErrAgentExists = errors.New("agent already registered")

	// ErrEmptyAgentID indicates a registration with no ID.
	ErrEmptyAgentID = errors.New("agent ID cannot be empty")

	// ErrWorkflowTerminal indicates an Execute call on a completed or
	// errored workflow.
	ErrWorkflowTerminal = errors.New("workflow is terminal")

	// ErrNoSteps indicates a workflow with nothing to execute.
	ErrNoSteps = errors.New("workflow has no steps")
)

// ValidationError describes why a workflow was rejected before any step
// was dispatched.
type ValidationError struct {
	WorkflowID string
	StepID     string
	Reason     string
	Err        error
}

func (e *ValidationError) Error() string {
	if e.StepID == "" {
		return fmt.Sprintf("workflow %s invalid: %s", e.WorkflowID, e.Reason)
	}
	return fmt.Sprintf("workflow %s step %s invalid: %s", e.WorkflowID, e.StepID, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// StepError captures a permanent step failure with enough context to
// route it: the agent and action that failed and the underlying error
// after retries were exhausted.
type StepError struct {
	WorkflowID string
	StepID     string
	AgentID    string
	Action     string
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s (%s.%s) failed: %v", e.StepID, e.AgentID, e.Action, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
