package playbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/storepilot/backend/internal/config"
	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/internal/services/access"
	"github.com/storepilot/backend/internal/services/safety"
	"github.com/storepilot/backend/pkg/logger"
	"github.com/storepilot/backend/pkg/response"
	"gorm.io/gorm"
)

var plog = logger.Module("playbook")

// Estimate reasons
const (
	ReasonPlanNotEligible     = "plan_not_eligible"
	ReasonNoAffectedProducts  = "no_affected_products"
	ReasonAIDailyLimitReached = "ai_daily_limit_reached"
)

// Dependencies are the collaborators the engine drives.
type Dependencies struct {
	Resolver     *access.Resolver
	Entitlements services.Entitlements
	Generator    services.MetadataGenerator
	Usage        services.UsageRecorder
	Audit        services.AuditWriter
	Safety       *safety.Evaluator
}

// Engine runs playbooks for one database.
type Engine struct {
	db           *gorm.DB
	cfg          config.AutomationConfig
	resolver     *access.Resolver
	entitlements services.Entitlements
	generator    services.MetadataGenerator
	usage        services.UsageRecorder
	audit        services.AuditWriter
	safety       *safety.Evaluator
	now          func() time.Time
}

func NewEngine(db *gorm.DB, cfg config.AutomationConfig, deps Dependencies) *Engine {
	if cfg.DraftTTLHours <= 0 {
		cfg.DraftTTLHours = 24
	}
	if cfg.DefaultSampleSize <= 0 {
		cfg.DefaultSampleSize = 25
	}
	if cfg.MaxSampleSize <= 0 {
		cfg.MaxSampleSize = 200
	}
	if cfg.ApplyConcurrency <= 0 {
		cfg.ApplyConcurrency = 4
	}
	if cfg.AIConcurrency <= 0 {
		cfg.AIConcurrency = 3
	}
	return &Engine{
		db:           db,
		cfg:          cfg,
		resolver:     deps.Resolver,
		entitlements: deps.Entitlements,
		generator:    deps.Generator,
		usage:        deps.Usage,
		audit:        deps.Audit,
		safety:       deps.Safety,
		now:          time.Now,
	}
}

// SetClock overrides the time source for draft expiry.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Estimate is the read-only eligibility report for a playbook.
type Estimate struct {
	ProjectID            uint     `json:"project_id"`
	PlaybookID           string   `json:"playbook_id"`
	Eligible             bool     `json:"eligible"`
	Reasons              []string `json:"reasons"`
	ScopeID              string   `json:"scope_id"`
	AffectedCount        int      `json:"affected_count"`
	PlanID               string   `json:"plan_id"`
	CanAutoApply         bool     `json:"can_auto_apply"`
	AILimit              int      `json:"ai_limit"`
	AIUsed               int      `json:"ai_used"`
	AIRemaining          int      `json:"ai_remaining"`
	AutomationDailyLimit int      `json:"automation_daily_limit"`
	AutomationUsedToday  int      `json:"automation_used_today"`
}

// Estimate recomputes the affected set and checks plan and quota. It never writes.
func (e *Engine) Estimate(ctx context.Context, projectID, userID uint, playbookID string) (*Estimate, error) {
	if _, err := e.resolver.AssertProjectAccess(ctx, projectID, userID); err != nil {
		return nil, err
	}
	def, err := Lookup(playbookID)
	if err != nil {
		return nil, err
	}

	ids, err := e.affectedIDs(ctx, projectID, def)
	if err != nil {
		return nil, err
	}
	est := &Estimate{
		ProjectID:     projectID,
		PlaybookID:    playbookID,
		Reasons:       []string{},
		ScopeID:       ComputeScopeID(projectID, playbookID, ids),
		AffectedCount: len(ids),
	}

	if est.CanAutoApply, err = e.entitlements.CanAutoApplyMetadataAutomations(ctx, userID); err != nil {
		return nil, err
	}
	if !est.CanAutoApply {
		est.Reasons = append(est.Reasons, ReasonPlanNotEligible)
	}
	if len(ids) == 0 {
		est.Reasons = append(est.Reasons, ReasonNoAffectedProducts)
	}

	quota, err := e.entitlements.EnsureWithinDailyAILimit(ctx, userID, projectID, models.AIActionPlaybookPreview)
	var exceeded *services.QuotaExceededError
	switch {
	case errors.As(err, &exceeded):
		est.Reasons = append(est.Reasons, ReasonAIDailyLimitReached)
	case err != nil:
		return nil, err
	}
	if quota != nil {
		est.PlanID = quota.PlanID
		est.AILimit = quota.Limit
		est.AIUsed = quota.Used
		est.AIRemaining = quota.Remaining
	} else if exceeded != nil {
		est.PlanID = exceeded.PlanID
		est.AILimit = exceeded.Limit
		est.AIUsed = exceeded.Used
	}

	applyLimit, err := e.entitlements.GetAutomationApplyLimit(ctx, userID)
	if err != nil {
		return nil, err
	}
	est.AutomationDailyLimit = applyLimit.Limit
	if est.AutomationUsedToday, err = e.entitlements.GetDailyAutomationApplyCount(ctx, userID); err != nil {
		return nil, err
	}

	est.Eligible = len(est.Reasons) == 0
	return est, nil
}

// affectedIDs returns the ids matching the playbook predicate, ascending.
func (e *Engine) affectedIDs(ctx context.Context, projectID uint, def *Definition) ([]uint, error) {
	var ids []uint
	err := e.db.WithContext(ctx).Model(&models.TargetRecord{}).
		Where("project_id = ? AND asset_type = ?", projectID, def.AssetType).
		Where(def.predicate()).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("load affected records: %w", err)
	}
	return ids, nil
}

// DraftView is a draft as shown to callers, with its rules decoded.
type DraftView struct {
	ID                uint                         `json:"id"`
	ProjectID         uint                         `json:"project_id"`
	PlaybookID        string                       `json:"playbook_id"`
	ScopeID           string                       `json:"scope_id"`
	RulesHash         string                       `json:"rules_hash"`
	Rules             Rules                        `json:"rules"`
	Status            string                       `json:"status"`
	AffectedTotal     int                          `json:"affected_total"`
	DraftGenerated    int                          `json:"draft_generated"`
	NoSuggestionCount int                          `json:"no_suggestion_count"`
	ExpiresAt         time.Time                    `json:"expires_at"`
	AppliedAt         *time.Time                   `json:"applied_at"`
	CreatedBy         uint                         `json:"created_by"`
	CreatedAt         time.Time                    `json:"created_at"`
	UpdatedAt         time.Time                    `json:"updated_at"`
	Items             []models.AutomationDraftItem `json:"items"`
}

func newDraftView(d *models.AutomationDraft) *DraftView {
	var rules Rules
	if d.Rules != "" {
		if err := json.Unmarshal([]byte(d.Rules), &rules); err != nil {
			plog.Warnf("draft %d has unreadable rules: %v", d.ID, err)
		}
	}
	items := d.Items
	if items == nil {
		items = []models.AutomationDraftItem{}
	}
	return &DraftView{
		ID:                d.ID,
		ProjectID:         d.ProjectID,
		PlaybookID:        d.PlaybookID,
		ScopeID:           d.ScopeID,
		RulesHash:         d.RulesHash,
		Rules:             rules,
		Status:            d.Status,
		AffectedTotal:     d.AffectedTotal,
		DraftGenerated:    d.DraftGenerated,
		NoSuggestionCount: d.NoSuggestionCount,
		ExpiresAt:         d.ExpiresAt,
		AppliedAt:         d.AppliedAt,
		CreatedBy:         d.CreatedBy,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
		Items:             items,
	}
}

// GetLatestDraft returns the newest non-expired draft for the playbook, or
// nil when there is none. Overdue drafts found on the way are marked EXPIRED.
func (e *Engine) GetLatestDraft(ctx context.Context, projectID, userID uint, playbookID string) (*DraftView, error) {
	if _, err := e.resolver.AssertProjectAccess(ctx, projectID, userID); err != nil {
		return nil, err
	}
	if _, err := Lookup(playbookID); err != nil {
		return nil, err
	}
	draft, err := e.latestLiveDraft(ctx, projectID, playbookID)
	if err != nil || draft == nil {
		return nil, err
	}
	return newDraftView(draft), nil
}

func (e *Engine) latestLiveDraft(ctx context.Context, projectID uint, playbookID string) (*models.AutomationDraft, error) {
	db := e.db.WithContext(ctx)
	var drafts []models.AutomationDraft
	err := db.Where("project_id = ? AND playbook_id = ? AND status <> ?", projectID, playbookID, models.DraftStatusExpired).
		Order("id DESC").
		Find(&drafts).Error
	if err != nil {
		return nil, err
	}
	now := e.now()
	for i := range drafts {
		d := &drafts[i]
		if d.IsExpired(now) {
			e.expire(ctx, d)
			continue
		}
		if err := db.Where("draft_id = ?", d.ID).Order("id ASC").Find(&d.Items).Error; err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, nil
}

// expire marks an overdue draft EXPIRED. Applied drafts are never touched.
func (e *Engine) expire(ctx context.Context, d *models.AutomationDraft) {
	err := e.db.WithContext(ctx).Model(&models.AutomationDraft{}).
		Where("id = ? AND status NOT IN ?", d.ID, []string{models.DraftStatusApplied, models.DraftStatusExpired}).
		Update("status", models.DraftStatusExpired).Error
	if err != nil {
		plog.Warnf("failed to expire draft %d: %v", d.ID, err)
		return
	}
	d.Status = models.DraftStatusExpired
}

// findDraft returns the newest draft stored under the concurrency token.
func (e *Engine) findDraft(ctx context.Context, projectID uint, playbookID, scopeID, rulesHash string) (*models.AutomationDraft, error) {
	var draft models.AutomationDraft
	err := e.db.WithContext(ctx).
		Where("project_id = ? AND playbook_id = ? AND scope_id = ? AND rules_hash = ?", projectID, playbookID, scopeID, rulesHash).
		Order("id DESC").
		First(&draft).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

func (e *Engine) writeAudit(ctx context.Context, projectID, userID uint, eventType, resourceType, resourceID string, meta map[string]interface{}) {
	if e.audit == nil {
		return
	}
	if err := e.audit.WriteEvent(ctx, projectID, userID, eventType, resourceType, resourceID, meta); err != nil {
		plog.Errorf("audit %s failed for project %d: %v", eventType, projectID, err)
	}
}

func conflictf(format string, args ...interface{}) error {
	return response.NewConflict(fmt.Sprintf(format, args...))
}
