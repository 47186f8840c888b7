package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/pkg/response"
)

// AIUsageHandler provides endpoints for AI usage statistics.
type AIUsageHandler struct {
	usageService *services.AIUsageService
}

func NewAIUsageHandler(usageService *services.AIUsageService) *AIUsageHandler {
	return &AIUsageHandler{usageService: usageService}
}

func bindUsageFilter(c *gin.Context) (services.UsageFilter, bool) {
	var f services.UsageFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		response.BadRequest(c, err.Error())
		return f, false
	}
	return f, true
}

// GetStats returns aggregated AI usage statistics.
func (h *AIUsageHandler) GetStats(c *gin.Context) {
	f, ok := bindUsageFilter(c)
	if !ok {
		return
	}

	stats, err := h.usageService.GetStats(c.Request.Context(), f)
	if err != nil {
		response.ServerError(c, "failed to get AI usage stats: "+err.Error())
		return
	}
	response.Success(c, stats)
}

// GetDailyTrend returns daily AI usage data for charting.
func (h *AIUsageHandler) GetDailyTrend(c *gin.Context) {
	f, ok := bindUsageFilter(c)
	if !ok {
		return
	}

	trend, err := h.usageService.GetDailyTrend(c.Request.Context(), f)
	if err != nil {
		response.ServerError(c, "failed to get AI usage trend: "+err.Error())
		return
	}
	response.Success(c, trend)
}

// GetActionBreakdown returns AI usage grouped by action, provider and model.
func (h *AIUsageHandler) GetActionBreakdown(c *gin.Context) {
	f, ok := bindUsageFilter(c)
	if !ok {
		return
	}

	actions, err := h.usageService.GetActionBreakdown(c.Request.Context(), f)
	if err != nil {
		response.ServerError(c, "failed to get action breakdown: "+err.Error())
		return
	}
	response.Success(c, actions)
}
