package impact

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cantus/internal/core/apperror"
	"cantus/internal/core/id"
	"cantus/internal/domain/schema"
	"cantus/internal/infrastructure/storage/memory"
)

type staticActive map[string]bool

func (s staticActive) IsActive(targetKey string) bool { return s[targetKey] }

func newTestAnalyzer(active ActiveChecker) (*Analyzer, *memory.Store) {
	store := memory.NewStore()
	return New(store, schema.Default(), active, DefaultConfig()), store
}

func seedStudent(store *memory.Store) schema.Record {
	return store.Seed(schema.Students, schema.NewRecord(map[string]any{
		"first_name": "Tove", "last_name": "Madsen", "status": "active",
	}))
}

func TestPreview_NoDependents(t *testing.T) {
	a, store := newTestAnalyzer(nil)
	student := seedStudent(store)

	imp, err := a.Preview(context.Background(), schema.StudentRef(student.ID))
	require.NoError(t, err)
	assert.Zero(t, imp.TotalRecords)
	assert.True(t, imp.CanProceed)
	assert.False(t, imp.RequiresConfirmation)
	assert.Equal(t, RiskLow, imp.RiskLevel)
	assert.Empty(t, imp.AffectedCollections)
}

func TestPreview_CountsAcrossCollections(t *testing.T) {
	a, store := newTestAnalyzer(nil)
	student := seedStudent(store)
	for i := 0; i < 3; i++ {
		store.Seed(schema.Lessons, schema.NewRecord(map[string]any{
			"student_id": student.ID.String(), "subject": "violin", "status": "completed",
		}))
	}
	store.Seed(schema.Orchestras, schema.NewRecord(map[string]any{
		"student_id": student.ID.String(), "name": "junior strings",
	}))

	imp, err := a.Preview(context.Background(), schema.StudentRef(student.ID))
	require.NoError(t, err)
	assert.Equal(t, 4, imp.TotalRecords)
	assert.ElementsMatch(t, []string{schema.Lessons, schema.Orchestras}, imp.AffectedCollections)
	assert.True(t, imp.CanProceed)
}

func TestPreview_TransitiveDependents(t *testing.T) {
	a, store := newTestAnalyzer(nil)
	student := seedStudent(store)
	lesson := store.Seed(schema.Lessons, schema.NewRecord(map[string]any{
		"student_id": student.ID.String(), "subject": "violin", "status": "completed",
	}))
	store.Seed(schema.Attendance, schema.NewRecord(map[string]any{
		"lesson_id": lesson.ID.String(), "status": "present",
	}))

	imp, err := a.Preview(context.Background(), schema.StudentRef(student.ID))
	require.NoError(t, err)
	assert.Equal(t, 2, imp.TotalRecords)
	assert.Contains(t, imp.AffectedCollections, schema.Attendance)
}

func TestPreview_HardDependentsRequireConfirmation(t *testing.T) {
	a, store := newTestAnalyzer(nil)
	student := seedStudent(store)
	store.Seed(schema.Lessons, schema.NewRecord(map[string]any{
		"student_id": student.ID.String(), "subject": "piano", "status": "scheduled",
	}))

	imp, err := a.Preview(context.Background(), schema.StudentRef(student.ID))
	require.NoError(t, err)
	assert.True(t, imp.RequiresConfirmation)
	assert.NotEmpty(t, imp.Warnings)
	require.Len(t, imp.Dependencies, 1)
	assert.True(t, imp.Dependencies[0].Hard)
}

func TestPreview_LargeCascadeRequiresConfirmation(t *testing.T) {
	a, store := newTestAnalyzer(nil)
	student := seedStudent(store)
	for i := 0; i < 25; i++ {
		store.Seed(schema.Notes, schema.NewRecord(map[string]any{
			"student_id": student.ID.String(), "body": fmt.Sprintf("note %d", i),
		}))
	}

	imp, err := a.Preview(context.Background(), schema.StudentRef(student.ID))
	require.NoError(t, err)
	assert.True(t, imp.RequiresConfirmation)

	// Samples are capped, counts are exact.
	assert.Len(t, imp.Details[schema.Notes], DefaultConfig().SampleLimit)
	assert.Equal(t, 25, imp.TotalRecords)
}

func TestPreview_ActiveOperationBlocksProceed(t *testing.T) {
	store := memory.NewStore()
	student := seedStudent(store)
	ref := schema.StudentRef(student.ID)
	a := New(store, schema.Default(), staticActive{ref.Key(): true}, DefaultConfig())

	imp, err := a.Preview(context.Background(), ref)
	require.NoError(t, err)
	assert.False(t, imp.CanProceed)
}

func TestPreview_TargetNotFound(t *testing.T) {
	a, _ := newTestAnalyzer(nil)

	_, err := a.Preview(context.Background(), schema.StudentRef(id.New()))
	require.Error(t, err)
	assert.Equal(t, apperror.CodeNotFound, apperror.Code(err))
}

func TestPreview_RejectsNonRootTargets(t *testing.T) {
	a, _ := newTestAnalyzer(nil)

	_, err := a.Preview(context.Background(), schema.EntityRef{Type: schema.Lessons, ID: id.New()})
	assert.Error(t, err)
}
