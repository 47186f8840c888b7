package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/storepilot/backend/internal/config"
	"github.com/storepilot/backend/internal/services"
	"gorm.io/gorm"
)

// HealthHandler reports the state of the database and the task queue backend.
type HealthHandler struct {
	db    *gorm.DB
	queue services.TaskQueue
	redis *redis.Client
}

// NewHealthHandler probes Redis only when the async queue is enabled.
func NewHealthHandler(db *gorm.DB, queue services.TaskQueue, redisCfg *config.RedisConfig) *HealthHandler {
	h := &HealthHandler{db: db, queue: queue}
	if redisCfg != nil && redisCfg.Enabled {
		h.redis = redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
	}
	return h
}

// Close releases the Redis probe connection.
func (h *HealthHandler) Close() error {
	if h.redis != nil {
		return h.redis.Close()
	}
	return nil
}

// CheckHealth returns the health status of all subsystems.
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	overall := "healthy"

	dbStatus := "ok"
	if sqlDB, err := h.db.DB(); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	redisStatus := "disabled"
	if h.redis != nil {
		redisStatus = "ok"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "error: " + err.Error()
			if overall == "healthy" {
				overall = "degraded"
			}
		}
	}

	status := http.StatusOK
	if overall == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":  overall,
		"service": "storepilot",
		"components": gin.H{
			"database":   dbStatus,
			"queue_mode": queueMode,
			"redis":      redisStatus,
		},
	})
}
