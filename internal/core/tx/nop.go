package tx

import "context"

// Nop is a pass-through manager for stores without a transactional
// backend, such as the in-memory store. fn runs on the caller's context
// unchanged.
type Nop struct{}

var _ ReadOnlyManager = Nop{}

// RunInTransaction runs fn directly.
func (Nop) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// ReadOnly runs fn directly.
func (Nop) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
