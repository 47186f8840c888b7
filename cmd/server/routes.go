package main

import (
	"github.com/gin-gonic/gin"
	"github.com/storepilot/backend/internal/handlers"
	"github.com/storepilot/backend/internal/middleware"
	"github.com/storepilot/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// Login is throttled harder than the rest of the API
	loginLimiter := middleware.NewRateLimiter(1, 5)
	mutationLimiter := middleware.NewRateLimiter(10, 30)
	svc.limiters = append(svc.limiters, loginLimiter, mutationLimiter)

	r.GET("/health", svc.healthHandler.CheckHealth)
	r.GET("/metrics", handlers.Metrics(svc.db))

	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/login", loginLimiter.Middleware(), svc.authHandler.Login)
			auth.POST("/refresh", loginLimiter.Middleware(), svc.authHandler.Refresh)
			auth.GET("/config", svc.authHandler.GetAuthConfig)
		}

		// Protected routes; project roles are enforced by the services
		protected := api.Group("")
		protected.Use(middleware.AuthRequired(), middleware.AuditLog(), mutationLimiter.Middleware())
		{
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.POST("/auth/logout", svc.authHandler.Logout)
			protected.POST("/auth/change-password", svc.authHandler.ChangePassword)

			// Projects
			protected.GET("/projects", svc.projectHandler.List)
			protected.POST("/projects", svc.projectHandler.Create)
			protected.GET("/projects/:id", svc.projectHandler.GetByID)
			protected.GET("/projects/:id/access", svc.projectHandler.GetAccess)

			// Members
			protected.GET("/projects/:id/members", svc.memberHandler.List)
			protected.POST("/projects/:id/members", svc.memberHandler.Add)
			protected.PUT("/projects/:id/members/:memberID", svc.memberHandler.UpdateRole)
			protected.DELETE("/projects/:id/members/:memberID", svc.memberHandler.Remove)

			// Playbooks
			protected.GET("/projects/:id/playbooks", svc.playbookHandler.List)
			pb := protected.Group("/projects/:id/playbooks/:playbookID")
			{
				pb.GET("/estimate", svc.playbookHandler.Estimate)
				pb.GET("/draft", svc.playbookHandler.GetDraft)
				pb.POST("/preview", svc.playbookHandler.Preview)
				pb.POST("/preview-async", svc.playbookHandler.PreviewAsync)
				pb.POST("/apply", svc.playbookHandler.Apply)
				pb.POST("/apply-async", svc.playbookHandler.ApplyAsync)
				pb.POST("/safety-check", svc.playbookHandler.SafetyCheck)
				pb.POST("/approvals", svc.playbookHandler.RequestApproval)
				pb.GET("/approvals/state", svc.playbookHandler.GetApprovalState)
			}

			// Approvals
			protected.GET("/projects/:id/approvals", svc.playbookHandler.ListApprovals)
			protected.POST("/projects/:id/approvals/:approvalID/approve", svc.playbookHandler.Approve)
			protected.POST("/projects/:id/approvals/:approvalID/reject", svc.playbookHandler.Reject)

			// Work queue and audit trail
			protected.GET("/projects/:id/work-queue", svc.workQueueHandler.Get)
			protected.GET("/projects/:id/audit-events", svc.auditHandler.List)
		}

		// Admin only routes
		admin := api.Group("")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired(), middleware.AuditLog())
		{
			// Users
			admin.GET("/users", svc.userHandler.List)
			admin.PUT("/users/:id", svc.userHandler.Update)

			// Crawler snapshots
			admin.POST("/projects/:id/catalog", svc.projectHandler.ImportCatalog)

			// AI usage
			admin.GET("/ai-usage/stats", svc.aiUsageHandler.GetStats)
			admin.GET("/ai-usage/trend", svc.aiUsageHandler.GetDailyTrend)
			admin.GET("/ai-usage/actions", svc.aiUsageHandler.GetActionBreakdown)

			// LLM Configs
			admin.GET("/llm-configs", svc.llmConfigHandler.List)
			admin.GET("/llm-configs/:id", svc.llmConfigHandler.GetByID)
			admin.POST("/llm-configs", svc.llmConfigHandler.Create)
			admin.PUT("/llm-configs/:id", svc.llmConfigHandler.Update)
			admin.DELETE("/llm-configs/:id", svc.llmConfigHandler.Delete)

			// System Logs
			admin.GET("/system-logs", svc.systemLogHandler.List)
			admin.GET("/system-logs/modules", svc.systemLogHandler.GetModules)
			admin.POST("/system-logs/cleanup", svc.systemLogHandler.Cleanup)

			// System Config
			admin.GET("/system-config/:group", svc.systemConfigHandler.GetGroup)
			admin.PUT("/system-config/:group", svc.systemConfigHandler.UpdateGroup)
		}
	}
}
