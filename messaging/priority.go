package messaging

import (
	"encoding/json"
	"fmt"
)

// Priority is the canonical delivery priority scale. The wire format uses
// the string forms "low", "medium", "high", and "urgent"; legacy producers
// that send "normal"/"critical" or bare integers are mapped onto the same
// ordinals at decode time. Higher values dequeue first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority maps a wire string onto the canonical scale. Unknown or
// empty strings fall back to PriorityMedium rather than failing: priority
// is a hint, not part of the message validity contract.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "medium", "normal", "":
		return PriorityMedium
	case "high":
		return PriorityHigh
	case "urgent", "critical":
		return PriorityUrgent
	default:
		return PriorityMedium
	}
}

// MarshalJSON emits the canonical string form.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts either a string name or a bare integer ordinal,
// clamping integers into the canonical range.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*p = ParsePriority(name)
		return nil
	}

	var ordinal int
	if err := json.Unmarshal(data, &ordinal); err != nil {
		return fmt.Errorf("priority must be a string or integer: %s", data)
	}

	switch {
	case ordinal <= int(PriorityLow):
		*p = PriorityLow
	case ordinal >= int(PriorityUrgent):
		*p = PriorityUrgent
	default:
		*p = Priority(ordinal)
	}
	return nil
}
