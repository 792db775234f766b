package integrity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cantus/internal/core/id"
	"cantus/internal/core/tx"
	"cantus/internal/domain/audit"
	"cantus/internal/domain/schema"
	"cantus/internal/infrastructure/storage/memory"
	"cantus/pkg/logger"
)

type harness struct {
	store     *memory.Store
	snaps     *memory.SnapshotStore
	validator *Validator
	repairer  *Repairer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	snaps := memory.NewSnapshotStore()
	sch := schema.Default()
	recorder := audit.NewRecorder(memory.NewAuditStore(), nil)
	log := logger.Nop()
	return &harness{
		store:     store,
		snaps:     snaps,
		validator: NewValidator(store, sch, tx.Nop{}, recorder, log),
		repairer:  NewRepairer(store, sch, snaps, recorder, log),
	}
}

func (h *harness) seedStudent() schema.Record {
	return h.store.Seed(schema.Students, schema.NewRecord(map[string]any{
		"first_name": "Iris", "last_name": "Kall", "status": "active",
	}))
}

func issuesOf(report *Report, check string) []Issue {
	var out []Issue
	for _, issue := range report.Issues {
		if issue.Check == check {
			out = append(out, issue)
		}
	}
	return out
}

func TestValidate_CleanDataset(t *testing.T) {
	h := newHarness(t)
	student := h.seedStudent()
	h.store.Seed(schema.Payments, schema.NewRecord(map[string]any{
		"student_id": student.ID.String(), "amount": "120.50",
	}))

	report, err := h.validator.Validate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, report.OverallStatus)
	assert.Equal(t, 4, report.Passed)
	assert.Zero(t, report.Failed)
	assert.Empty(t, report.Issues)
}

func TestValidate_MissingRequiredField(t *testing.T) {
	h := newHarness(t)
	h.store.Seed(schema.Students, schema.NewRecord(map[string]any{
		"first_name": "NoStatus", "last_name": "Student",
	}))

	report, err := h.validator.Validate(context.Background())
	require.NoError(t, err)

	found := issuesOf(report, CheckRequiredFields)
	require.Len(t, found, 1)
	assert.Equal(t, "status", found[0].Field)
	// A missing status is defaultable, not fatal.
	assert.Equal(t, FixSetDefault, found[0].Fix.Action)
	assert.Equal(t, StatusDegraded, report.OverallStatus)
}

func TestValidate_EnumViolation(t *testing.T) {
	h := newHarness(t)
	student := h.seedStudent()
	h.store.Seed(schema.Lessons, schema.NewRecord(map[string]any{
		"student_id": student.ID.String(), "subject": "oboe", "status": "postponed",
	}))

	report, err := h.validator.Validate(context.Background())
	require.NoError(t, err)

	found := issuesOf(report, CheckEnumDomains)
	require.Len(t, found, 1)
	assert.Equal(t, Fix{Action: FixSetDefault, Field: "status", Value: "cancelled"}, found[0].Fix)
}

func TestValidate_PaymentAmounts(t *testing.T) {
	h := newHarness(t)
	student := h.seedStudent()
	h.store.Seed(schema.Payments, schema.NewRecord(map[string]any{
		"student_id": student.ID.String(), "amount": "not-a-number",
	}))
	h.store.Seed(schema.Payments, schema.NewRecord(map[string]any{
		"student_id": student.ID.String(), "amount": "-10.00",
	}))

	report, err := h.validator.Validate(context.Background())
	require.NoError(t, err)

	found := issuesOf(report, CheckPaymentAmounts)
	assert.Len(t, found, 2)
}

func TestValidate_DanglingReference(t *testing.T) {
	h := newHarness(t)
	h.store.Seed(schema.Lessons, schema.NewRecord(map[string]any{
		"student_id": id.New().String(), "subject": "harp", "status": "completed",
	}))

	report, err := h.validator.Validate(context.Background())
	require.NoError(t, err)

	found := issuesOf(report, CheckReferences)
	require.Len(t, found, 1)
	assert.Equal(t, FixDelete, found[0].Fix.Action)
	assert.Equal(t, StatusCritical, report.OverallStatus)
}

func TestValidate_DeterministicIssueIDs(t *testing.T) {
	h := newHarness(t)
	h.store.Seed(schema.Lessons, schema.NewRecord(map[string]any{
		"student_id": id.New().String(), "subject": "harp", "status": "completed",
	}))

	first, err := h.validator.Validate(context.Background())
	require.NoError(t, err)
	second, err := h.validator.Validate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Issues, second.Issues)
}

func TestRepair_AppliesFixesWithBackup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	student := h.seedStudent()
	h.store.Seed(schema.Lessons, schema.NewRecord(map[string]any{
		"student_id": student.ID.String(), "subject": "oboe", "status": "postponed",
	}))
	dangling := h.store.Seed(schema.Lessons, schema.NewRecord(map[string]any{
		"student_id": id.New().String(), "subject": "harp", "status": "completed",
	}))

	report, err := h.validator.Validate(ctx)
	require.NoError(t, err)
	require.Len(t, report.Issues, 2)

	result, err := h.repairer.Repair(ctx, report.Issues, DefaultRepairOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Repaired)
	assert.Zero(t, result.Failed)
	require.NotNil(t, result.BackupSnapshotID)

	// The backup captured both records before they were touched.
	snap, err := h.snaps.Get(ctx, *result.BackupSnapshotID)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.RecordCount())

	// Dataset is clean after repair.
	after, err := h.validator.Validate(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, after.OverallStatus)

	exists, err := h.store.Exists(ctx, schema.Lessons, dangling.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRepair_DryRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.store.Seed(schema.Lessons, schema.NewRecord(map[string]any{
		"student_id": id.New().String(), "subject": "harp", "status": "completed",
	}))

	report, err := h.validator.Validate(ctx)
	require.NoError(t, err)

	result, err := h.repairer.Repair(ctx, report.Issues, RepairOptions{CreateBackup: true, DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Nil(t, result.BackupSnapshotID)

	n, err := h.store.Count(ctx, schema.Lessons)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRepair_PartialSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	student := h.seedStudent()
	h.store.Seed(schema.Lessons, schema.NewRecord(map[string]any{
		"student_id": student.ID.String(), "subject": "oboe", "status": "postponed",
	}))

	report, err := h.validator.Validate(ctx)
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)

	// A fabricated issue with an unknown action fails on its own; the
	// real issue still gets repaired.
	broken := report.Issues[0]
	broken.Fix = Fix{Action: FixAction("explode")}
	batch := append([]Issue{broken}, report.Issues...)

	result, err := h.repairer.Repair(ctx, batch, RepairOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Repaired)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
}
