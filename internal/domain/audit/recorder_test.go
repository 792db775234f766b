package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "cantus/internal/core/context"
	"cantus/internal/core/security"
)

type captureStore struct {
	entries []Entry
	failing bool
}

func (s *captureStore) Append(ctx context.Context, entry Entry) error {
	if s.failing {
		return errors.New("disk full")
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *captureStore) Query(ctx context.Context, filter Filter) (Page, error) {
	return Page{Entries: s.entries, TotalItems: int64(len(s.entries))}, nil
}

func TestRecord_FillsDefaultsFromContext(t *testing.T) {
	store := &captureStore{}
	rec := NewRecorder(store, nil)

	ctx := appctx.WithActor(context.Background(), &appctx.ActorContext{
		ActorID: "u7",
		Roles:   []string{"registrar"},
	})
	rec.Record(ctx, Entry{Operation: OpPreview, Success: true})

	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	assert.Equal(t, "u7", entry.ActorID)
	assert.Equal(t, "registrar", entry.ActorRole)
	assert.False(t, entry.ID.String() == "00000000-0000-0000-0000-000000000000")
	assert.False(t, entry.Timestamp.IsZero())
}

func TestRecord_StoreFailureIsSwallowedAndAlerted(t *testing.T) {
	store := &captureStore{failing: true}
	var alerted []security.Violation
	rec := NewRecorder(store, security.AlertFunc(func(ctx context.Context, v security.Violation) {
		alerted = append(alerted, v)
	}))

	// Must not panic or surface the append failure in any way.
	rec.Record(context.Background(), Entry{Operation: OpExecute, ActorID: "u1"})

	require.Len(t, alerted, 1)
	assert.Equal(t, security.ViolationDataIntegrity, alerted[0].Type)
	assert.Equal(t, security.SeverityHigh, alerted[0].Severity)
	assert.Equal(t, OpExecute, alerted[0].Operation)
}

func TestRecordOutcome_DerivesSuccessAndDuration(t *testing.T) {
	store := &captureStore{}
	rec := NewRecorder(store, nil)
	start := time.Now().Add(-50 * time.Millisecond)

	rec.RecordOutcome(context.Background(), OpExecute, start, nil, map[string]any{"target": "x"})
	rec.RecordOutcome(context.Background(), OpExecute, start, errors.New("boom"), nil)

	require.Len(t, store.entries, 2)

	ok := store.entries[0]
	assert.True(t, ok.Success)
	assert.Nil(t, ok.Error)
	require.NotNil(t, ok.DurationMs)
	assert.GreaterOrEqual(t, *ok.DurationMs, int64(50))

	failed := store.entries[1]
	assert.False(t, failed.Success)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "boom", *failed.Error)
}
