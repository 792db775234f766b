package cascade

import (
	"sync"

	"cantus/internal/core/id"
	"cantus/internal/domain/impact"
	"cantus/internal/domain/rollback"
)

// Registry is the active-operation registry: the sole mutual-exclusion
// point of the engine. At most one live operation exists per target;
// acquiring a slot is an atomic check-and-insert under one mutex, and no
// lock ever spans two targets.
//
// Construct one per process and inject it; tests get isolation from fresh
// instances.
type Registry struct {
	mu  sync.Mutex
	ops map[string]*Operation
}

var (
	_ impact.ActiveChecker   = (*Registry)(nil)
	_ rollback.ActiveChecker = (*Registry)(nil)
)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]*Operation)}
}

// Acquire claims the slot for op's target. When another operation already
// holds it, that operation is returned and acquired is false.
func (r *Registry) Acquire(op *Operation) (existing *Operation, acquired bool) {
	key := op.Target().Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.ops[key]; ok {
		return current, false
	}
	r.ops[key] = op
	return op, true
}

// Release frees the slot for a target. Terminal operation records persist
// in the audit log, not here.
func (r *Registry) Release(targetKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ops, targetKey)
}

// Get returns the active operation for a target, if any.
func (r *Registry) Get(targetKey string) (*Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[targetKey]
	return op, ok
}

// IsActive implements impact.ActiveChecker.
func (r *Registry) IsActive(targetKey string) bool {
	_, ok := r.Get(targetKey)
	return ok
}

// ActiveOperationID implements rollback.ActiveChecker.
func (r *Registry) ActiveOperationID(targetKey string) (id.ID, bool) {
	op, ok := r.Get(targetKey)
	if !ok {
		return id.Nil(), false
	}
	return op.ID(), true
}

// List returns summaries of all active operations.
func (r *Registry) List() []Summary {
	r.mu.Lock()
	ops := make([]*Operation, 0, len(r.ops))
	for _, op := range r.ops {
		ops = append(ops, op)
	}
	r.mu.Unlock()

	out := make([]Summary, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.Summary())
	}
	return out
}
