package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storepilot/backend/internal/config"
	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/pkg/response"
	"gorm.io/gorm"
)

// Entitlements answers plan questions for the automation engine. Pricing rules
// live in the plans section of the configuration.
type Entitlements interface {
	GetUserPlan(ctx context.Context, userID uint) (string, error)
	CanAutoApplyMetadataAutomations(ctx context.Context, userID uint) (bool, error)
	GetAISuggestionLimit(ctx context.Context, userID uint) (*PlanLimit, error)
	GetDailyAIUsage(ctx context.Context, userID, projectID uint, action string) (int, error)
	// EnsureWithinDailyAILimit returns *QuotaExceededError when no AI call is left today.
	EnsureWithinDailyAILimit(ctx context.Context, userID, projectID uint, action string) (*QuotaStatus, error)
	GetAutomationApplyLimit(ctx context.Context, userID uint) (*PlanLimit, error)
	GetDailyAutomationApplyCount(ctx context.Context, userID uint) (int, error)
}

// PlanLimit is a per-plan daily limit. Limit is config.Unlimited for no limit.
type PlanLimit struct {
	PlanID string `json:"plan_id"`
	Limit  int    `json:"limit"`
}

// IsUnlimited reports whether the limit never blocks.
func (l *PlanLimit) IsUnlimited() bool {
	return l.Limit == config.Unlimited
}

// QuotaStatus describes today's AI usage against the plan limit.
type QuotaStatus struct {
	PlanID    string `json:"plan_id"`
	Limit     int    `json:"limit"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"` // config.Unlimited when the plan has no limit
}

// QuotaExceededError is returned when the daily AI limit is reached.
type QuotaExceededError struct {
	PlanID string
	Limit  int
	Used   int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily AI suggestion limit reached for plan %s (%d/%d)", e.PlanID, e.Used, e.Limit)
}

// Unwrap exposes the RateLimited AppError so handlers render a 429 with details.
func (e *QuotaExceededError) Unwrap() error {
	return response.NewTooManyRequests(e.Error(), map[string]interface{}{
		"plan_id": e.PlanID,
		"limit":   e.Limit,
		"current": e.Used,
	})
}

// StartOfDay returns midnight UTC of t's day; daily counters reset there.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EntitlementService implements Entitlements over configured plans and usage tables.
type EntitlementService struct {
	db    *gorm.DB
	plans map[string]config.PlanConfig
	now   func() time.Time
}

func NewEntitlementService(db *gorm.DB, plans map[string]config.PlanConfig) *EntitlementService {
	if len(plans) == 0 {
		plans = config.DefaultPlans()
	}
	return &EntitlementService{db: db, plans: plans, now: time.Now}
}

// SetClock overrides the time source used for daily windows.
func (s *EntitlementService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *EntitlementService) GetUserPlan(ctx context.Context, userID uint) (string, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Select("id", "plan").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", response.NewNotFound("user not found")
		}
		return "", err
	}
	if user.Plan == "" {
		return "free", nil
	}
	return user.Plan, nil
}

func (s *EntitlementService) plan(ctx context.Context, userID uint) (string, config.PlanConfig, error) {
	planID, err := s.GetUserPlan(ctx, userID)
	if err != nil {
		return "", config.PlanConfig{}, err
	}
	// Unknown plans get nothing rather than something.
	return planID, s.plans[planID], nil
}

func (s *EntitlementService) CanAutoApplyMetadataAutomations(ctx context.Context, userID uint) (bool, error) {
	_, plan, err := s.plan(ctx, userID)
	if err != nil {
		return false, err
	}
	return plan.AutoApply, nil
}

func (s *EntitlementService) GetAISuggestionLimit(ctx context.Context, userID uint) (*PlanLimit, error) {
	planID, plan, err := s.plan(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &PlanLimit{PlanID: planID, Limit: plan.AIDailyLimit}, nil
}

func (s *EntitlementService) GetDailyAIUsage(ctx context.Context, userID, projectID uint, action string) (int, error) {
	var count int64
	query := s.db.WithContext(ctx).Model(&models.AIUsageLog{}).
		Where("user_id = ? AND created_at >= ?", userID, StartOfDay(s.now()))
	if projectID > 0 {
		query = query.Where("project_id = ?", projectID)
	}
	if action != "" {
		query = query.Where("action = ?", action)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *EntitlementService) EnsureWithinDailyAILimit(ctx context.Context, userID, projectID uint, action string) (*QuotaStatus, error) {
	limit, err := s.GetAISuggestionLimit(ctx, userID)
	if err != nil {
		return nil, err
	}
	used, err := s.GetDailyAIUsage(ctx, userID, projectID, action)
	if err != nil {
		return nil, err
	}

	status := &QuotaStatus{PlanID: limit.PlanID, Limit: limit.Limit, Used: used, Remaining: config.Unlimited}
	if limit.IsUnlimited() {
		return status, nil
	}

	status.Remaining = limit.Limit - used
	if status.Remaining <= 0 {
		status.Remaining = 0
		return status, &QuotaExceededError{PlanID: limit.PlanID, Limit: limit.Limit, Used: used}
	}
	return status, nil
}

func (s *EntitlementService) GetAutomationApplyLimit(ctx context.Context, userID uint) (*PlanLimit, error) {
	planID, plan, err := s.plan(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &PlanLimit{PlanID: planID, Limit: plan.AutomationDailyLimit}, nil
}

func (s *EntitlementService) GetDailyAutomationApplyCount(ctx context.Context, userID uint) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.AutomationRun{}).
		Where("user_id = ? AND created_at >= ?", userID, StartOfDay(s.now())).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
