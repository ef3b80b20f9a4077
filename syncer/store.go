package syncer

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Status is the lifecycle state of a sync operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Operation is one recorded state change. It is written durably before the
// synchronizer ever tries to apply it, so a restart can resume from the
// store.
type Operation struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
	Status    Status          `json:"status"`
	Retries   int             `json:"retries"`
	Error     string          `json:"error,omitempty"`
	AppliedAt time.Time       `json:"applied_at,omitzero"`
}

// Patch is a partial update to a stored operation. Nil fields are left
// untouched.
type Patch struct {
	Status    *Status
	Retries   *int
	Error     *string
	AppliedAt *time.Time
}

// Store persists sync operations.
type Store interface {
	// CreateSync records a new pending operation.
	CreateSync(ctx context.Context, op *Operation) error

	// UpdateSync applies a partial update to the operation with the given ID.
	UpdateSync(ctx context.Context, id string, patch Patch) error

	// FindPendingSyncs returns all pending operations ordered by timestamp,
	// breaking millisecond ties by ID. IDs are time-ordered UUIDs, so the
	// combined order is submission order.
	FindPendingSyncs(ctx context.Context) ([]Operation, error)
}

// MemoryStore is an in-memory Store for tests and ephemeral runtimes.
type MemoryStore struct {
	mu  sync.Mutex
	ops map[string]Operation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[string]Operation)}
}

func (s *MemoryStore) CreateSync(ctx context.Context, op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.ID] = *op
	return nil
}

func (s *MemoryStore) UpdateSync(ctx context.Context, id string, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return ErrOperationNotFound
	}

	if patch.Status != nil {
		op.Status = *patch.Status
	}
	if patch.Retries != nil {
		op.Retries = *patch.Retries
	}
	if patch.Error != nil {
		op.Error = *patch.Error
	}
	if patch.AppliedAt != nil {
		op.AppliedAt = *patch.AppliedAt
	}

	s.ops[id] = op
	return nil
}

func (s *MemoryStore) FindPendingSyncs(ctx context.Context) ([]Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []Operation
	for _, op := range s.ops {
		if op.Status == StatusPending {
			pending = append(pending, op)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Timestamp.Equal(pending[j].Timestamp) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].Timestamp.Before(pending[j].Timestamp)
	})
	return pending, nil
}

// Get returns a stored operation by ID, for inspection in tests.
func (s *MemoryStore) Get(id string) (Operation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	return op, ok
}
