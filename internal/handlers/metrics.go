package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/storepilot/backend/internal/services"
	"gorm.io/gorm"
)

// Metrics serves the Prometheus registry, including database gauges.
func Metrics(db *gorm.DB) gin.HandlerFunc {
	services.RegisterDBMetrics(db)
	return gin.WrapH(promhttp.HandlerFor(services.Registry, promhttp.HandlerOpts{}))
}
