package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "cantus/internal/core/context"
	"cantus/internal/core/security"
	"cantus/internal/domain/anomaly"
	"cantus/internal/domain/audit"
	"cantus/internal/domain/guard"
	"cantus/internal/infrastructure/storage/memory"
)

// midday keeps the anomaly detector inside its safe-hours window.
var midday = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newAdmissionHarness(t *testing.T) (*Admission, *memory.AuditStore) {
	t.Helper()
	violations := security.NewViolationLog(time.Hour, nil)
	g, err := guard.New(guard.DefaultRules(), guard.NewRateLimiter(guard.DefaultLimiterConfig()), violations)
	require.NoError(t, err)
	d := anomaly.New(anomaly.DefaultHeuristics(anomaly.DefaultConfig()), violations, anomaly.DefaultDetectorConfig())
	d.SetNow(func() time.Time { return midday })

	audits := memory.NewAuditStore()
	return NewAdmission(g, d, audit.NewRecorder(audits, nil)), audits
}

func admissionRouter(admit *Admission, roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	r.Use(func(c *gin.Context) {
		ctx := appctx.WithActor(c.Request.Context(), &appctx.ActorContext{
			ActorID:    "u1",
			Origin:     "10.0.0.1",
			Roles:      roles,
			UserAgent:  "Mozilla/5.0 (Macintosh) AppleWebKit/537.36",
			LastAuthAt: time.Now(),
		})
		c.Request = c.Request.WithContext(ctx)
	})
	r.POST("/students/:id/deletion", admit.Require("deletion", "execute"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequire_DenialAuditedUnderEngineOperationName(t *testing.T) {
	admit, audits := newAdmissionHarness(t)
	r := admissionRouter(admit, guard.RoleViewer)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/students/abc/deletion", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	// The denial is retrievable under the same operation name the
	// executor records its outcomes with.
	page, err := audits.Query(context.Background(), audit.Filter{Operation: audit.OpExecute})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)

	entry := page.Entries[0]
	assert.False(t, entry.Success)
	assert.Equal(t, "u1", entry.ActorID)
	assert.Equal(t, true, entry.Metadata["denied"])
}

func TestRequire_AdmittedCallLeavesNoDenialEntry(t *testing.T) {
	admit, audits := newAdmissionHarness(t)
	r := admissionRouter(admit, guard.RoleRegistrar)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/students/abc/deletion", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	page, err := audits.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
}

func TestAuditOperation_MapsEveryGuardedRoute(t *testing.T) {
	assert.Equal(t, audit.OpExecute, auditOperation("deletion", "execute"))
	assert.Equal(t, audit.OpOrphanCleanup, auditOperation("maintenance", "orphan_cleanup"))
	assert.Equal(t, audit.OpRollback, auditOperation("rollback", "execute"))

	// Pairs without an engine counterpart fall back to dot form.
	assert.Equal(t, "audit.read", auditOperation("audit", "read"))
}
