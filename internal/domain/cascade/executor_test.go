package cascade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cantus/internal/core/apperror"
	"cantus/internal/core/id"
	"cantus/internal/core/tx"
	"cantus/internal/domain/audit"
	"cantus/internal/domain/impact"
	"cantus/internal/domain/orphan"
	"cantus/internal/domain/rollback"
	"cantus/internal/domain/schema"
	"cantus/internal/infrastructure/storage/memory"
	"cantus/pkg/logger"
)

// hookStore lets a test run arbitrary code between delete batches, which is
// the only way to cancel or race a synchronous execution deterministically.
type hookStore struct {
	schema.Store
	onDelete func(collection string)
}

func (h *hookStore) DeleteByIDs(ctx context.Context, collection string, ids []id.ID) (int, error) {
	n, err := h.Store.DeleteByIDs(ctx, collection, ids)
	if h.onDelete != nil {
		h.onDelete(collection)
	}
	return n, err
}

type fixture struct {
	store    *memory.Store
	audits   *memory.AuditStore
	snaps    *memory.SnapshotStore
	registry *Registry
	exec     *Executor
	rollback *rollback.Service
}

func newFixture(t *testing.T, wrap func(schema.Store) schema.Store) *fixture {
	t.Helper()

	f := &fixture{
		store:    memory.NewStore(),
		audits:   memory.NewAuditStore(),
		snaps:    memory.NewSnapshotStore(),
		registry: NewRegistry(),
	}

	var store schema.Store = f.store
	if wrap != nil {
		store = wrap(f.store)
	}

	sch := schema.Default()
	log := logger.Nop()
	recorder := audit.NewRecorder(f.audits, nil)
	analyzer := impact.New(store, sch, f.registry, impact.DefaultConfig())
	sweeper := orphan.NewEngine(store, sch, tx.Nop{}, nil, recorder, log, orphan.DefaultConfig())

	f.exec = NewExecutor(store, sch, analyzer, f.snaps, f.registry, recorder, tx.Nop{}, sweeper, nil, log, DefaultConfig())
	f.rollback = rollback.NewService(store, f.snaps, tx.Nop{}, f.registry, recorder, log)
	return f
}

// countingTxManager records how many delete transactions the run opens.
type countingTxManager struct {
	calls int
}

func (m *countingTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	return fn(ctx)
}

// capScreener refuses any run touching more records than the cap.
type capScreener struct {
	cap int
}

func (s capScreener) ScreenDeletion(ctx context.Context, entityCount int) error {
	if entityCount > s.cap {
		return apperror.NewSuspiciousActivity("deletion touches too many records")
	}
	return nil
}

// seedStudent inserts a student with three completed lessons and one
// orchestra membership: four dependent records in two collections.
func seedStudent(f *fixture) schema.EntityRef {
	student := f.store.Seed(schema.Students, schema.NewRecord(map[string]any{
		"first_name": "Mara", "last_name": "Lindqvist", "status": "active",
	}))
	for range 3 {
		f.store.Seed(schema.Lessons, schema.NewRecord(map[string]any{
			"student_id": student.ID.String(), "subject": "violin", "status": "completed",
		}))
	}
	f.store.Seed(schema.Orchestras, schema.NewRecord(map[string]any{
		"student_id": student.ID.String(), "name": "junior strings",
	}))
	return schema.StudentRef(student.ID)
}

func count(t *testing.T, f *fixture, collection string) int {
	t.Helper()
	n, err := f.store.Count(context.Background(), collection)
	require.NoError(t, err)
	return n
}

func auditEntries(t *testing.T, f *fixture, operation string) []audit.Entry {
	t.Helper()
	page, err := f.audits.Query(context.Background(), audit.Filter{Operation: operation})
	require.NoError(t, err)
	return page.Entries
}

func TestExecute_FullCascadeAndRollback(t *testing.T) {
	f := newFixture(t, nil)
	ref := seedStudent(f)
	ctx := context.Background()

	res, err := f.exec.Execute(ctx, ref, DefaultOptions())
	require.NoError(t, err)
	require.False(t, res.AlreadyRunning)

	op := res.Operation
	assert.Equal(t, StatusCompleted, op.Status)
	assert.Equal(t, 100, op.Progress)
	assert.Equal(t, 4, op.TotalRecords)
	assert.True(t, op.RollbackAvailable)
	require.NotNil(t, op.SnapshotID)
	assert.Equal(t, map[string]int{schema.Lessons: 3, schema.Orchestras: 1}, op.ImpactSummary)

	assert.Equal(t, 0, count(t, f, schema.Students))
	assert.Equal(t, 0, count(t, f, schema.Lessons))
	assert.Equal(t, 0, count(t, f, schema.Orchestras))

	entries := auditEntries(t, f, audit.OpExecute)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)

	// The captured snapshot restores the pre-deletion state exactly.
	outcome, err := f.rollback.Rollback(ctx, *op.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, 5, outcome.RestoredRecords)
	assert.Equal(t, 1, count(t, f, schema.Students))
	assert.Equal(t, 3, count(t, f, schema.Lessons))
	assert.Equal(t, 1, count(t, f, schema.Orchestras))
}

func TestExecute_SecondCallReturnsExistingOperation(t *testing.T) {
	f := newFixture(t, nil)
	ref := seedStudent(f)

	held := newOperation(ref)
	_, acquired := f.registry.Acquire(held)
	require.True(t, acquired)

	res, err := f.exec.Execute(context.Background(), ref, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, res.AlreadyRunning)
	assert.Equal(t, held.ID(), res.Operation.OperationID)

	// Nothing ran, so nothing was deleted — but the retry itself is an
	// attempt and leaves its own entry in the log.
	assert.Equal(t, 3, count(t, f, schema.Lessons))
	entries := auditEntries(t, f, audit.OpExecute)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, true, entries[0].Metadata["already_running"])
	assert.Equal(t, held.ID().String(), entries[0].Metadata["operation_id"])
}

func TestExecute_ScreenerRefusalFailsBeforeDeleting(t *testing.T) {
	f := newFixture(t, nil)
	ref := seedStudent(f)
	f.exec.screener = capScreener{cap: 2}

	res, err := f.exec.Execute(context.Background(), ref, DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, apperror.CodeSuspiciousActivity, apperror.Code(err))
	assert.Equal(t, StatusFailed, res.Operation.Status)

	// The refusal landed before the snapshot and the first batch.
	assert.Equal(t, 1, count(t, f, schema.Students))
	assert.Equal(t, 3, count(t, f, schema.Lessons))
	entries := auditEntries(t, f, audit.OpExecute)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
}

func TestExecute_EachBatchIsOwnTransaction(t *testing.T) {
	f := newFixture(t, nil)
	ref := seedStudent(f)
	txm := &countingTxManager{}
	f.exec.txm = txm

	opts := DefaultOptions()
	opts.BatchSize = 1
	_, err := f.exec.Execute(context.Background(), ref, opts)
	require.NoError(t, err)

	// Three lesson batches, one orchestra batch, then the target record.
	assert.Equal(t, 5, txm.calls)
}

func TestExecute_CancelBetweenBatches(t *testing.T) {
	var f *fixture
	var ref schema.EntityRef
	deletes := 0
	f = newFixture(t, func(inner schema.Store) schema.Store {
		return &hookStore{Store: inner, onDelete: func(collection string) {
			deletes++
			if deletes == 1 {
				require.True(t, f.exec.Cancel(ref.Key()))
			}
		}}
	})
	ref = seedStudent(f)

	opts := DefaultOptions()
	opts.BatchSize = 1
	res, err := f.exec.Execute(context.Background(), ref, opts)
	require.NoError(t, err)

	op := res.Operation
	assert.Equal(t, StatusCancelled, op.Status)
	assert.True(t, op.RollbackAvailable)
	require.NotNil(t, op.SnapshotID)

	// Exactly one batch ran: one lesson gone, everything else intact.
	assert.Equal(t, 2, count(t, f, schema.Lessons))
	assert.Equal(t, 1, count(t, f, schema.Students))
	assert.Equal(t, 1, count(t, f, schema.Orchestras))

	entries := auditEntries(t, f, audit.OpExecute)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)

	// The snapshot recovers the partially deleted batch.
	_, err = f.rollback.Rollback(context.Background(), *op.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, 3, count(t, f, schema.Lessons))
}

func TestExecute_WallClockTimeout(t *testing.T) {
	f := newFixture(t, nil)
	ref := seedStudent(f)

	calls := 0
	base := time.Now()
	f.exec.SetNow(func() time.Time {
		calls++
		if calls == 1 {
			return base
		}
		return base.Add(6 * time.Minute)
	})

	res, err := f.exec.Execute(context.Background(), ref, DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, apperror.CodeTimeout, apperror.Code(err))
	assert.Equal(t, StatusFailed, res.Operation.Status)

	// Registry slot released; the target can be retried.
	assert.Empty(t, f.exec.Active())
	assert.Equal(t, 1, count(t, f, schema.Students))
}

func TestExecute_TargetNotFound(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.exec.Execute(context.Background(), schema.StudentRef(id.New()), DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, apperror.CodeNotFound, apperror.Code(err))
	assert.Equal(t, StatusFailed, res.Operation.Status)

	entries := auditEntries(t, f, audit.OpExecute)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
}

func TestExecute_HardDependentsRequireForce(t *testing.T) {
	f := newFixture(t, nil)
	ref := seedStudent(f)
	f.store.Seed(schema.Lessons, schema.NewRecord(map[string]any{
		"student_id": ref.ID.String(), "subject": "piano", "status": "scheduled",
	}))

	res, err := f.exec.Execute(context.Background(), ref, DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, apperror.CodeValidation, apperror.Code(err))
	assert.Equal(t, StatusFailed, res.Operation.Status)
	assert.Equal(t, 1, count(t, f, schema.Students))

	opts := DefaultOptions()
	opts.Force = true
	res, err = f.exec.Execute(context.Background(), ref, opts)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Operation.Status)
	assert.Equal(t, 0, count(t, f, schema.Lessons))
}

func TestExecute_SweepsReferencesWrittenMidRun(t *testing.T) {
	var f *fixture
	var ref schema.EntityRef
	f = newFixture(t, func(inner schema.Store) schema.Store {
		return &hookStore{Store: inner, onDelete: func(collection string) {
			// Simulate a concurrent writer attaching a note after the
			// cascade already passed the notes collection.
			if collection == schema.Orchestras {
				f.store.Seed(schema.Notes, schema.NewRecord(map[string]any{
					"student_id": ref.ID.String(), "body": "call parents",
				}))
			}
		}}
	})
	ref = seedStudent(f)

	res, err := f.exec.Execute(context.Background(), ref, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Operation.Status)
	assert.Equal(t, 0, count(t, f, schema.Notes))
}

func TestCancel_UnknownTarget(t *testing.T) {
	f := newFixture(t, nil)
	assert.False(t, f.exec.Cancel(schema.StudentRef(id.New()).Key()))
}
