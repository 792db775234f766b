// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"cantus/internal/domain/audit"
	"cantus/internal/domain/cascade"
	"cantus/internal/domain/impact"
	"cantus/internal/domain/integrity"
	"cantus/internal/domain/orphan"
	"cantus/internal/domain/rollback"
	"cantus/internal/infrastructure/http/v1/handlers"
	"cantus/internal/infrastructure/http/v1/middleware"
	"cantus/internal/infrastructure/storage/postgres"
	"cantus/pkg/logger"
)

// RouterConfig holds the wired services the API sits on top of.
type RouterConfig struct {
	// Pool is the database pool, nil when running on the in-memory store.
	// Only the health endpoints touch it.
	Pool *postgres.Pool

	// Logger for request logging
	Logger *logger.Logger

	// TokenValidator for bearer token validation
	TokenValidator middleware.TokenValidator

	// Admission gates every API route; main also hands it to the
	// deletion and orphan engines as their mid-operation screener.
	Admission *middleware.Admission

	Analyzer  *impact.Analyzer
	Executor  *cascade.Executor
	Orphans   *orphan.Engine
	Validator *integrity.Validator
	Repairer  *integrity.Repairer
	Rollback  *rollback.Service
	Recorder  *audit.Recorder
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(cfg.Pool)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	base := handlers.NewBaseHandler()
	deletion := handlers.NewDeletionHandler(base, cfg.Analyzer, cfg.Executor)
	maintenance := handlers.NewMaintenanceHandler(base, cfg.Orphans, cfg.Validator, cfg.Repairer)
	rollbacks := handlers.NewRollbackHandler(base, cfg.Rollback)
	auditLog := handlers.NewAuditHandler(base, cfg.Recorder)

	admit := cfg.Admission

	// API v1 - every route authenticated, every route admitted by the
	// guard's rule table (reads included: the audit log is sensitive).
	api := router.Group("/api/v1")
	api.Use(middleware.Auth(cfg.TokenValidator))
	{
		students := api.Group("/students/:id/deletion")
		{
			students.GET("/impact", admit.Require("deletion", "preview"), deletion.PreviewImpact)
			students.POST("", admit.Require("deletion", "execute"), deletion.Execute)
			students.DELETE("", admit.Require("deletion", "cancel"), deletion.Cancel)
		}

		api.GET("/operations", admit.Require("operations", "read"), deletion.ListOperations)

		mnt := api.Group("/maintenance")
		{
			mnt.POST("/orphans/scan", admit.Require("maintenance", "orphan_scan"), maintenance.ScanOrphans)
			mnt.POST("/orphans/cleanup", admit.Require("maintenance", "orphan_cleanup"), maintenance.CleanupOrphans)
			mnt.POST("/integrity/validate", admit.Require("maintenance", "integrity_validate"), maintenance.ValidateIntegrity)
			mnt.POST("/integrity/repair", admit.Require("maintenance", "integrity_repair"), maintenance.RepairIntegrity)
		}

		api.POST("/rollbacks/:snapshotId", admit.Require("rollback", "execute"), rollbacks.Rollback)

		api.GET("/audit", admit.Require("audit", "read"), auditLog.Query)
	}

	return router
}
