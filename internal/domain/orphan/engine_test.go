package orphan

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cantus/internal/core/apperror"
	"cantus/internal/core/id"
	"cantus/internal/core/tx"
	"cantus/internal/domain/audit"
	"cantus/internal/domain/schema"
	"cantus/internal/infrastructure/storage/memory"
	"cantus/pkg/logger"
)

func newTestEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	recorder := audit.NewRecorder(memory.NewAuditStore(), nil)
	return NewEngine(store, schema.Default(), tx.Nop{}, nil, recorder, logger.Nop(), DefaultConfig()), store
}

// capScreener refuses cleanups touching more records than the cap.
type capScreener struct {
	cap int
}

func (s capScreener) ScreenCleanup(ctx context.Context, entityCount int) error {
	if entityCount > s.cap {
		return apperror.NewSuspiciousActivity("cleanup touches too many records")
	}
	return nil
}

func seedOrphanedLessons(store *memory.Store, missingStudent id.ID, n int) {
	for i := 0; i < n; i++ {
		store.Seed(schema.Lessons, schema.NewRecord(map[string]any{
			"student_id": missingStudent.String(),
			"subject":    fmt.Sprintf("subject-%d", i),
			"status":     "completed",
		}))
	}
}

func TestScan_FindsDanglingReferences(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	student := store.Seed(schema.Students, schema.NewRecord(map[string]any{
		"first_name": "Noa", "last_name": "Berg", "status": "active",
	}))
	store.Seed(schema.Lessons, schema.NewRecord(map[string]any{
		"student_id": student.ID.String(), "subject": "cello", "status": "completed",
	}))
	missing := id.New()
	seedOrphanedLessons(store, missing, 2)

	issues, err := eng.Scan(ctx, ScanOptions{})
	require.NoError(t, err)
	require.Len(t, issues, 1)

	issue := issues[0]
	assert.Equal(t, schema.Lessons, issue.Collection)
	assert.Equal(t, "student_id", issue.Field)
	assert.Equal(t, missing, issue.OwnerRef.ID)
	assert.Equal(t, 2, issue.Count)
	assert.Equal(t, SeverityLow, issue.Severity)
	assert.True(t, issue.CanAutoFix)
}

func TestScan_IsDeterministic(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	seedOrphanedLessons(store, id.New(), 3)
	store.Seed(schema.Notes, schema.NewRecord(map[string]any{
		"student_id": id.New().String(), "body": "stray",
	}))

	first, err := eng.Scan(ctx, ScanOptions{})
	require.NoError(t, err)
	second, err := eng.Scan(ctx, ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestScan_SeverityByCount(t *testing.T) {
	eng, store := newTestEngine(t)

	seedOrphanedLessons(store, id.New(), 30)
	issues, err := eng.Scan(context.Background(), ScanOptions{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityHigh, issues[0].Severity)
	assert.False(t, issues[0].CanAutoFix)
}

func TestScan_RestrictedCollections(t *testing.T) {
	eng, store := newTestEngine(t)

	seedOrphanedLessons(store, id.New(), 1)
	store.Seed(schema.Notes, schema.NewRecord(map[string]any{
		"student_id": id.New().String(), "body": "stray",
	}))

	issues, err := eng.Scan(context.Background(), ScanOptions{Collections: []string{schema.Notes}})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, schema.Notes, issues[0].Collection)

	_, err = eng.Scan(context.Background(), ScanOptions{Collections: []string{"bogus"}})
	assert.Error(t, err)
}

func TestCleanup_RemovesOrphans(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	seedOrphanedLessons(store, id.New(), 4)
	issues, err := eng.Scan(ctx, ScanOptions{})
	require.NoError(t, err)

	result, err := eng.Cleanup(ctx, issues, CleanupOptions{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Cleaned)
	assert.Empty(t, result.Errors)

	n, err := store.Count(ctx, schema.Lessons)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCleanup_DryRunDoesNotMutate(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	seedOrphanedLessons(store, id.New(), 3)
	issues, err := eng.Scan(ctx, ScanOptions{})
	require.NoError(t, err)

	result, err := eng.Cleanup(ctx, issues, CleanupOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 3, result.Cleaned)

	n, err := store.Count(ctx, schema.Lessons)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCleanup_SkipsWhenOwnerReturned(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	missing := id.New()
	seedOrphanedLessons(store, missing, 2)
	issues, err := eng.Scan(ctx, ScanOptions{})
	require.NoError(t, err)

	// Owner restored between scan and cleanup, e.g. by a rollback.
	store.Seed(schema.Students, schema.Record{ID: missing, Fields: map[string]any{
		"first_name": "Back", "last_name": "Again", "status": "active",
	}})

	result, err := eng.Cleanup(ctx, issues, CleanupOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Cleaned)
	assert.Equal(t, 2, result.Skipped)

	n, err := store.Count(ctx, schema.Lessons)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCleanup_HighSeverityNeedsOptIn(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	seedOrphanedLessons(store, id.New(), 30)
	issues, err := eng.Scan(ctx, ScanOptions{})
	require.NoError(t, err)
	require.Equal(t, SeverityHigh, issues[0].Severity)

	result, err := eng.Cleanup(ctx, issues, CleanupOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Cleaned)
	assert.Equal(t, 30, result.Skipped)

	result, err = eng.Cleanup(ctx, issues, CleanupOptions{IncludeHighSeverity: true})
	require.NoError(t, err)
	assert.Equal(t, 30, result.Cleaned)
}

func TestCleanup_ScreenerSeesRealCount(t *testing.T) {
	eng, store := newTestEngine(t)
	eng.screener = capScreener{cap: 3}
	ctx := context.Background()

	seedOrphanedLessons(store, id.New(), 4)
	issues, err := eng.Scan(ctx, ScanOptions{})
	require.NoError(t, err)

	_, err = eng.Cleanup(ctx, issues, CleanupOptions{})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeSuspiciousActivity, apperror.Code(err))

	// Nothing was deleted, and a dry run stays exempt from the gate.
	n, err := store.Count(ctx, schema.Lessons)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	result, err := eng.Cleanup(ctx, issues, CleanupOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Cleaned)
}

func TestSweepTarget_RemovesDirectReferences(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	gone := id.New()
	seedOrphanedLessons(store, gone, 2)
	store.Seed(schema.Notes, schema.NewRecord(map[string]any{
		"student_id": gone.String(), "body": "stray",
	}))
	keep := store.Seed(schema.Students, schema.NewRecord(map[string]any{
		"first_name": "Keep", "last_name": "Me", "status": "active",
	}))
	kept := store.Seed(schema.Lessons, schema.NewRecord(map[string]any{
		"student_id": keep.ID.String(), "subject": "flute", "status": "completed",
	}))

	swept, err := eng.SweepTarget(ctx, schema.StudentRef(gone))
	require.NoError(t, err)
	assert.Equal(t, 3, swept)

	exists, err := store.Exists(ctx, schema.Lessons, kept.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}
