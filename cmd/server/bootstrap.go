package main

import (
	"github.com/storepilot/backend/internal/config"
	"github.com/storepilot/backend/internal/handlers"
	"github.com/storepilot/backend/internal/middleware"
	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/internal/services/access"
	"github.com/storepilot/backend/internal/services/playbook"
	"github.com/storepilot/backend/internal/services/safety"
	"github.com/storepilot/backend/internal/services/workqueue"
	"github.com/storepilot/backend/internal/utils"
	"github.com/storepilot/backend/pkg/logger"
	"gorm.io/gorm"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	cfg       *config.Config
	db        *gorm.DB
	taskQueue services.TaskQueue
	worker    *services.Worker
	retention *services.RetentionScheduler
	limiters  []*middleware.RateLimiter

	authHandler         *handlers.AuthHandler
	projectHandler      *handlers.ProjectHandler
	memberHandler       *handlers.ProjectMemberHandler
	playbookHandler     *handlers.PlaybookHandler
	workQueueHandler    *handlers.WorkQueueHandler
	auditHandler        *handlers.AuditHandler
	aiUsageHandler      *handlers.AIUsageHandler
	llmConfigHandler    *handlers.LLMConfigHandler
	systemLogHandler    *handlers.SystemLogHandler
	systemConfigHandler *handlers.SystemConfigHandler
	userHandler         *handlers.UserHandler
	healthHandler       *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	db := models.GetDB()

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Seed default data
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	// Initialize system logger
	services.InitSystemLogger(db)

	// Start log and AI usage retention
	retention := services.NewRetentionScheduler(db)
	retention.Start()

	// Collaborators of the playbook engine
	resolver := access.NewResolver(access.NewGormStore(db))
	entitlements := services.NewEntitlementService(db, cfg.Plans)
	audit := services.NewAuditService(db)
	usage := services.NewAIUsageService(db)
	engine := playbook.NewEngine(db, cfg.Automation, playbook.Dependencies{
		Resolver:     resolver,
		Entitlements: entitlements,
		Generator:    services.NewMetadataAIService(db, &cfg.OpenAI),
		Usage:        usage,
		Audit:        audit,
		Safety:       safety.NewEvaluator(resolver, entitlements, audit, safety.NewGormDraftLookup(db)),
	})

	// Initialize task queue (uses Redis if enabled, otherwise sync mode)
	taskQueue := services.InitTaskQueue(cfg)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(engine.ProcessAutomationTask)
	}

	// Start async worker if Redis is enabled
	worker := services.NewWorker(&cfg.Redis, cfg.Automation.ApplyConcurrency)
	if worker != nil {
		worker.SetProcessor(engine.ProcessAutomationTask)
		if err := worker.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start automation worker")
		}
	}

	// Create default admin user
	authService := services.NewAuthService(db, &cfg.JWT, &cfg.LDAP)
	if err := authService.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	return &appServices{
		cfg:       cfg,
		db:        db,
		taskQueue: taskQueue,
		worker:    worker,
		retention: retention,

		authHandler:         handlers.NewAuthHandler(authService),
		projectHandler:      handlers.NewProjectHandler(services.NewProjectService(db, resolver), resolver),
		memberHandler:       handlers.NewProjectMemberHandler(services.NewProjectMemberService(db, resolver, audit)),
		playbookHandler:     handlers.NewPlaybookHandler(engine, taskQueue),
		workQueueHandler:    handlers.NewWorkQueueHandler(workqueue.NewAggregator(db, resolver, engine)),
		auditHandler:        handlers.NewAuditHandler(audit, resolver),
		aiUsageHandler:      handlers.NewAIUsageHandler(usage),
		llmConfigHandler:    handlers.NewLLMConfigHandler(services.NewLLMConfigService(db)),
		systemLogHandler:    handlers.NewSystemLogHandler(services.NewSystemLogService(db), retention),
		systemConfigHandler: handlers.NewSystemConfigHandler(services.NewSystemConfigService(db)),
		userHandler:         handlers.NewUserHandler(db, cfg.Plans),
		healthHandler:       handlers.NewHealthHandler(db, taskQueue, &cfg.Redis),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.retention.Stop()
	logger.Info().Msg("Retention scheduler stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
	for _, l := range s.limiters {
		l.Stop()
	}
	s.healthHandler.Close()
}
