package workflow_test

import (
	"errors"
	"testing"

	"github.com/agentfabric/relay/workflow"
)

func TestRegistry_RegisterAndCapabilities(t *testing.T) {
	r := workflow.NewRegistry()

	err := r.Register(workflow.AgentInfo{
		ID:           "worker-1",
		Name:         "Worker",
		Capabilities: []string{"transform", "analyze"},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	caps, err := r.Capabilities("worker-1")
	if err != nil {
		t.Fatalf("Capabilities() error = %v", err)
	}
	if len(caps) != 2 || caps[0] != "analyze" || caps[1] != "transform" {
		t.Errorf("Capabilities() = %v, want sorted [analyze transform]", caps)
	}
}

func TestRegistry_RegisterEmptyID(t *testing.T) {
	r := workflow.NewRegistry()

	if err := r.Register(workflow.AgentInfo{Name: "anonymous"}); !errors.Is(err, workflow.ErrEmptyAgentID) {
		t.Errorf("Register() error = %v, want ErrEmptyAgentID", err)
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := workflow.NewRegistry()

	if err := r.Register(workflow.AgentInfo{ID: "worker-1"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(workflow.AgentInfo{ID: "worker-1"}); !errors.Is(err, workflow.ErrAgentExists) {
		t.Errorf("second Register() error = %v, want ErrAgentExists", err)
	}
}

func TestRegistry_CapabilitiesUnknownAgent(t *testing.T) {
	r := workflow.NewRegistry()

	if _, err := r.Capabilities("ghost"); !errors.Is(err, workflow.ErrAgentNotFound) {
		t.Errorf("Capabilities() error = %v, want ErrAgentNotFound", err)
	}
}

func TestRegistry_Supports(t *testing.T) {
	r := workflow.NewRegistry()

	if err := r.Register(workflow.AgentInfo{ID: "worker-1", Capabilities: []string{"transform"}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name   string
		id     string
		action string
		want   bool
	}{
		{name: "supported action", id: "worker-1", action: "transform", want: true},
		{name: "unsupported action", id: "worker-1", action: "analyze", want: false},
		{name: "unknown agent", id: "ghost", action: "transform", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Supports(tt.id, tt.action); got != tt.want {
				t.Errorf("Supports(%q, %q) = %v, want %v", tt.id, tt.action, got, tt.want)
			}
		})
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	r := workflow.NewRegistry()

	for _, id := range []string{"worker-c", "worker-a", "worker-b"} {
		if err := r.Register(workflow.AgentInfo{ID: id}); err != nil {
			t.Fatalf("Register(%s) error = %v", id, err)
		}
	}

	infos := r.List()
	if len(infos) != 3 {
		t.Fatalf("List() returned %d agents, want 3", len(infos))
	}
	for i, want := range []string{"worker-a", "worker-b", "worker-c"} {
		if infos[i].ID != want {
			t.Errorf("List()[%d].ID = %q, want %q", i, infos[i].ID, want)
		}
	}
}

func TestRegistry_Deregister(t *testing.T) {
	r := workflow.NewRegistry()

	if err := r.Register(workflow.AgentInfo{ID: "worker-1"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	r.Deregister("worker-1")

	if _, err := r.Capabilities("worker-1"); !errors.Is(err, workflow.ErrAgentNotFound) {
		t.Errorf("Capabilities() after Deregister error = %v, want ErrAgentNotFound", err)
	}
}
