package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentfabric/relay/messaging"
	"github.com/agentfabric/relay/transport"
)

// Dispatcher performs one step invocation against the step's agent and
// returns the agent's output. The engine supplies the resolved timeout
// for the attempt; retries wrap the whole call.
type Dispatcher interface {
	DispatchStep(ctx context.Context, workflowID string, step *Step, timeout time.Duration) (json.RawMessage, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, workflowID string, step *Step, timeout time.Duration) (json.RawMessage, error)

func (f DispatcherFunc) DispatchStep(ctx context.Context, workflowID string, step *Step, timeout time.Duration) (json.RawMessage, error) {
	return f(ctx, workflowID, step, timeout)
}

// StepRequest is the wire content of a step-request message.
type StepRequest struct {
	WorkflowID string         `json:"workflow_id"`
	StepID     string         `json:"step_id"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Step result statuses on the wire.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// StepResult is the wire content of a step-result message.
type StepResult struct {
	StepID string          `json:"step_id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Outbox queues an outbound message for delivery. *queue.Outbox satisfies
// it.
type Outbox interface {
	Send(ctx context.Context, msg *messaging.Message) error
}

// TransportDispatcher sends step requests through the delivery queue and
// waits for the executing agent's correlated result from the transport.
type TransportDispatcher struct {
	requester *transport.Requester
	source    string
	outbox    Outbox
}

// NewTransportDispatcher creates a dispatcher that requests step execution
// as the given source agent, typically the orchestrator's own ID. Step
// requests leave through the outbox so delivery gets the queue's retry
// and dead-letter handling; a nil outbox publishes directly over the
// requester's transport.
func NewTransportDispatcher(requester *transport.Requester, source string, outbox Outbox) *TransportDispatcher {
	return &TransportDispatcher{requester: requester, source: source, outbox: outbox}
}

func (d *TransportDispatcher) DispatchStep(ctx context.Context, workflowID string, step *Step, timeout time.Duration) (json.RawMessage, error) {
	req := StepRequest{
		WorkflowID: workflowID,
		StepID:     step.ID,
		Action:     step.Action,
		Parameters: step.Parameters,
	}

	msg := messaging.NewMessage(messaging.TypeStepRequest, d.source, req).
		Target(step.AgentID).
		Priority(messaging.PriorityHigh).
		Build()

	var reply *messaging.Message
	var err error
	if d.outbox != nil {
		reply, err = d.requester.SendVia(ctx, msg, timeout, d.outbox.Send)
	} else {
		reply, err = d.requester.Send(ctx, msg, timeout)
	}
	if err != nil {
		return nil, err
	}

	result, err := messaging.ContentAs[StepResult](reply)
	if err != nil {
		return nil, fmt.Errorf("decode step result from %s: %w", step.AgentID, err)
	}
	if result.Status != ResultOK {
		return nil, fmt.Errorf("agent %s action %s: %s", step.AgentID, step.Action, result.Error)
	}
	return result.Output, nil
}

// ActionFunc executes one capability on the agent side.
type ActionFunc func(ctx context.Context, params map[string]any) (any, error)

type resultPublisher interface {
	Publish(ctx context.Context, channel string, msg *messaging.Message) error
}

// NewStepHandler returns a transport handler for the executing side of
// step dispatch: it decodes step requests, runs the matching action, and
// publishes a correlated step result back to the requesting agent.
// Non-step-request messages are ignored so the handler can share a
// channel with other traffic.
func NewStepHandler(pub resultPublisher, agentID string, actions map[string]ActionFunc) transport.Handler {
	return func(ctx context.Context, msg *messaging.Message) {
		if msg.Type != messaging.TypeStepRequest {
			return
		}

		req, err := messaging.ContentAs[StepRequest](msg)
		if err != nil {
			return
		}

		result := StepResult{StepID: req.StepID, Status: ResultOK}

		action, known := actions[req.Action]
		if !known {
			result.Status = ResultError
			result.Error = fmt.Sprintf("unsupported action %q", req.Action)
		} else if output, err := action(ctx, req.Parameters); err != nil {
			result.Status = ResultError
			result.Error = err.Error()
		} else if encoded, err := json.Marshal(output); err != nil {
			result.Status = ResultError
			result.Error = fmt.Sprintf("encode output: %v", err)
		} else {
			result.Output = encoded
		}

		reply := messaging.NewMessage(messaging.TypeStepResult, agentID, result).
			Target(msg.Source).
			ReplyTo(msg.ID).
			Build()
		_ = pub.Publish(ctx, transport.AgentChannel(msg.Source), reply)
	}
}
