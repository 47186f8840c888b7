package safety

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/internal/services/access"
	"github.com/storepilot/backend/pkg/logger"
	"github.com/storepilot/backend/pkg/response"
	"gorm.io/gorm"
)

var safetyLog = logger.Module("safety")

// DraftLookup loads a draft by id. A missing draft is (nil, nil).
type DraftLookup interface {
	LookupDraft(ctx context.Context, draftID uint) (*models.AutomationDraft, error)
}

type GormDraftLookup struct {
	db *gorm.DB
}

func NewGormDraftLookup(db *gorm.DB) *GormDraftLookup {
	return &GormDraftLookup{db: db}
}

func (l *GormDraftLookup) LookupDraft(ctx context.Context, draftID uint) (*models.AutomationDraft, error) {
	var draft models.AutomationDraft
	if err := l.db.WithContext(ctx).First(&draft, draftID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &draft, nil
}

// BlockedError is returned by EnforceOrBlock. Primary is the first failed
// check in evaluation order; Failed lists all of them.
type BlockedError struct {
	Primary CheckResult
	Failed  []CheckResult
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("automation blocked by %s: %s", e.Primary.Check, e.Primary.Message)
}

// Unwrap exposes the SafetyBlocked AppError for the response layer.
func (e *BlockedError) Unwrap() error {
	return response.NewSafetyBlocked(e.Error(), map[string]interface{}{
		"primary_reason": e.Primary.Reason,
		"primary_check":  e.Primary.Check,
		"failed_checks":  e.Failed,
	})
}

// Evaluator gathers facts for Judge and audits blocked attempts.
type Evaluator struct {
	resolver     *access.Resolver
	entitlements services.Entitlements
	audit        services.AuditWriter
	drafts       DraftLookup
	now          func() time.Time
}

func NewEvaluator(resolver *access.Resolver, entitlements services.Entitlements, audit services.AuditWriter, drafts DraftLookup) *Evaluator {
	return &Evaluator{
		resolver:     resolver,
		entitlements: entitlements,
		audit:        audit,
		drafts:       drafts,
		now:          time.Now,
	}
}

// SetClock overrides the time source used for draft expiry.
func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// Evaluate runs every rail. An error means a fact could not be read; callers
// must treat that as a block.
func (e *Evaluator) Evaluate(ctx context.Context, c Context) (*Evaluation, error) {
	facts, err := e.gather(ctx, c)
	if err != nil {
		return nil, err
	}
	return Judge(*facts), nil
}

func (e *Evaluator) gather(ctx context.Context, c Context) (*Facts, error) {
	f := &Facts{Context: c, Now: e.now()}

	planID, err := e.entitlements.GetUserPlan(ctx, c.UserID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	f.PlanID = planID
	if f.PlanAllowsApply, err = e.entitlements.CanAutoApplyMetadataAutomations(ctx, c.UserID); err != nil {
		return nil, fmt.Errorf("load entitlement: %w", err)
	}

	a, err := e.resolver.ResolveAccess(ctx, c.ProjectID, c.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve role: %w", err)
	}
	f.Role = string(a.Role)
	f.CanApply = a.Capabilities.CanApply

	if c.DraftID != nil {
		draft, err := e.drafts.LookupDraft(ctx, *c.DraftID)
		if err != nil {
			return nil, fmt.Errorf("load draft: %w", err)
		}
		f.Draft = &DraftFacts{}
		if draft != nil {
			f.Draft = &DraftFacts{
				Found:     true,
				ProjectID: draft.ProjectID,
				ScopeID:   draft.ScopeID,
				Status:    draft.Status,
				ExpiresAt: draft.ExpiresAt,
			}
		}
	}

	limit, err := e.entitlements.GetAutomationApplyLimit(ctx, c.UserID)
	if err != nil {
		return nil, fmt.Errorf("load apply limit: %w", err)
	}
	f.DailyApplyLimit = limit.Limit
	// Read-then-compare; concurrent applies near the limit may overshoot.
	if f.DailyApplyCount, err = e.entitlements.GetDailyAutomationApplyCount(ctx, c.UserID); err != nil {
		return nil, fmt.Errorf("load apply count: %w", err)
	}
	return f, nil
}

// EnforceOrBlock returns the evaluation when every rail passed. Otherwise it
// writes an audit event listing every failed check and returns *BlockedError.
func (e *Evaluator) EnforceOrBlock(ctx context.Context, c Context) (*Evaluation, error) {
	eval, err := e.Evaluate(ctx, c)
	if err != nil {
		return nil, err
	}
	if eval.Status == StatusPassed {
		return eval, nil
	}

	failed := eval.Failed()
	primary := eval.Primary()
	names := make([]string, 0, len(failed))
	for _, f := range failed {
		names = append(names, string(f.Check))
		services.SafetyBlocksTotal.WithLabelValues(string(f.Check)).Inc()
	}

	safetyLog.Warn().
		Uint("project_id", c.ProjectID).
		Uint("user_id", c.UserID).
		Str("playbook", c.PlaybookID).
		Str("failed", strings.Join(names, ",")).
		Msg("Automation apply blocked")

	if e.audit != nil {
		meta := map[string]interface{}{
			"playbook_id":       c.PlaybookID,
			"declared_scope_id": c.DeclaredScopeID,
			"current_scope_id":  c.CurrentScopeID,
			"trigger":           c.Trigger,
			"primary_reason":    primary.Reason,
			"failed_checks":     failed,
		}
		if c.DraftID != nil {
			meta["draft_id"] = *c.DraftID
		}
		if err := e.audit.WriteEvent(ctx, c.ProjectID, c.UserID, services.AuditApplyBlocked, "playbook", c.PlaybookID, meta); err != nil {
			safetyLog.Errorf("Failed to audit blocked apply on project %d: %v", c.ProjectID, err)
		}
	}

	return nil, &BlockedError{Primary: *primary, Failed: failed}
}
