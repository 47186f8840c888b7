package services

import (
	"context"
	"time"

	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/pkg/logger"
	"gorm.io/gorm"
)

// UsageRecorder persists one AI call. Daily quotas are counted from these rows.
type UsageRecorder interface {
	Record(ctx context.Context, log *models.AIUsageLog) error
}

// AIUsageService manages AI usage tracking and statistics.
type AIUsageService struct {
	db *gorm.DB
}

func NewAIUsageService(db *gorm.DB) *AIUsageService {
	return &AIUsageService{db: db}
}

// Record saves a usage log entry. It is synchronous so the next quota check sees it.
func (s *AIUsageService) Record(ctx context.Context, log *models.AIUsageLog) error {
	if log.TotalTokens == 0 {
		log.TotalTokens = log.PromptTokens + log.CompletionTokens
	}
	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		logger.Errorf("[AIUsage] Failed to record usage: %v", err)
		return err
	}
	aiCallsTotal.WithLabelValues(log.Action, boolLabel(log.Success)).Inc()
	return nil
}

// UsageFilter narrows statistics queries. Dates are YYYY-MM-DD.
type UsageFilter struct {
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	ProjectID uint   `form:"project_id"`
	Action    string `form:"action"`
}

func (s *AIUsageService) filtered(ctx context.Context, f UsageFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.AIUsageLog{})
	if f.StartDate != "" {
		query = query.Where("created_at >= ?", f.StartDate)
	}
	if f.EndDate != "" {
		query = query.Where("created_at <= ?", f.EndDate+" 23:59:59")
	}
	if f.ProjectID > 0 {
		query = query.Where("project_id = ?", f.ProjectID)
	}
	if f.Action != "" {
		query = query.Where("action = ?", f.Action)
	}
	return query
}

// UsageStats holds aggregated AI usage statistics.
type UsageStats struct {
	TotalCalls       int64   `json:"total_calls"`
	TotalTokens      int64   `json:"total_tokens"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	SuccessRate      float64 `json:"success_rate"`
	SuccessCount     int64   `json:"success_count"`
	FailureCount     int64   `json:"failure_count"`
}

// GetStats returns aggregated usage statistics for the given filter.
func (s *AIUsageService) GetStats(ctx context.Context, f UsageFilter) (*UsageStats, error) {
	var stats UsageStats
	err := s.filtered(ctx, f).Select(
		"COUNT(*) as total_calls, " +
			"COALESCE(SUM(total_tokens), 0) as total_tokens, " +
			"COALESCE(SUM(prompt_tokens), 0) as prompt_tokens, " +
			"COALESCE(SUM(completion_tokens), 0) as completion_tokens, " +
			"COALESCE(AVG(latency_ms), 0) as avg_latency_ms, " +
			"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) as success_count, " +
			"COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0) as failure_count",
	).Scan(&stats).Error
	if err != nil {
		return nil, err
	}

	if stats.TotalCalls > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalCalls) * 100
	}
	return &stats, nil
}

// DailyUsage holds usage data for a single day.
type DailyUsage struct {
	Date         string `json:"date"`
	Calls        int    `json:"calls"`
	TotalTokens  int    `json:"total_tokens"`
	AvgLatencyMs int    `json:"avg_latency_ms"`
}

// GetDailyTrend returns daily aggregated usage for charting.
func (s *AIUsageService) GetDailyTrend(ctx context.Context, f UsageFilter) ([]DailyUsage, error) {
	var results []DailyUsage
	err := s.filtered(ctx, f).Select(
		"DATE(created_at) as date, " +
			"COUNT(*) as calls, " +
			"COALESCE(SUM(total_tokens), 0) as total_tokens, " +
			"COALESCE(AVG(latency_ms), 0) as avg_latency_ms",
	).Group("DATE(created_at)").Order("date ASC").Scan(&results).Error
	if err != nil {
		return nil, err
	}

	if results == nil {
		results = []DailyUsage{}
	}
	return results, nil
}

// ActionUsage holds usage grouped by action and provider.
type ActionUsage struct {
	Action   string `json:"action"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Calls    int    `json:"calls"`
	Failures int    `json:"failures"`
	Tokens   int    `json:"tokens"`
}

// GetActionBreakdown returns usage grouped by action, provider and model.
func (s *AIUsageService) GetActionBreakdown(ctx context.Context, f UsageFilter) ([]ActionUsage, error) {
	var results []ActionUsage
	err := s.filtered(ctx, f).Select(
		"action, provider, model, " +
			"COUNT(*) as calls, " +
			"COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0) as failures, " +
			"COALESCE(SUM(total_tokens), 0) as tokens",
	).Group("action, provider, model").Order("calls DESC").Scan(&results).Error
	if err != nil {
		return nil, err
	}

	if results == nil {
		results = []ActionUsage{}
	}
	return results, nil
}

// CleanupBefore deletes usage logs older than the given time. Rows from the
// current UTC day are always kept because quota checks count them.
func (s *AIUsageService) CleanupBefore(before time.Time) (int64, error) {
	if floor := StartOfDay(time.Now()); before.After(floor) {
		before = floor
	}
	result := s.db.Where("created_at < ?", before).Delete(&models.AIUsageLog{})
	return result.RowsAffected, result.Error
}
