package cascade

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cantus/internal/core/id"
	"cantus/internal/domain/schema"
)

func TestRegistry_ConcurrentAcquireSingleWinner(t *testing.T) {
	reg := NewRegistry()
	ref := schema.StudentRef(id.New())

	var wg sync.WaitGroup
	var wins atomic.Int32
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, acquired := reg.Acquire(newOperation(ref)); acquired {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.True(t, reg.IsActive(ref.Key()))
}

func TestRegistry_UnrelatedTargetsDoNotContend(t *testing.T) {
	reg := NewRegistry()

	_, first := reg.Acquire(newOperation(schema.StudentRef(id.New())))
	_, second := reg.Acquire(newOperation(schema.StudentRef(id.New())))

	assert.True(t, first)
	assert.True(t, second)
	assert.Len(t, reg.List(), 2)
}

func TestRegistry_ReleaseFreesSlot(t *testing.T) {
	reg := NewRegistry()
	ref := schema.StudentRef(id.New())

	op := newOperation(ref)
	_, acquired := reg.Acquire(op)
	require.True(t, acquired)

	existing, acquired := reg.Acquire(newOperation(ref))
	require.False(t, acquired)
	assert.Equal(t, op.ID(), existing.ID())

	reg.Release(ref.Key())
	assert.False(t, reg.IsActive(ref.Key()))

	_, acquired = reg.Acquire(newOperation(ref))
	assert.True(t, acquired)
}

func TestOperation_CancelOnlyBeforeTerminal(t *testing.T) {
	op := newOperation(schema.StudentRef(id.New()))

	assert.True(t, op.RequestCancel())
	assert.True(t, op.CancelRequested())

	op.finish(StatusCancelled, "cancelled by operator")
	assert.False(t, op.RequestCancel())
}
