package playbook

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/internal/services/safety"
	"github.com/storepilot/backend/pkg/response"
	"golang.org/x/sync/errgroup"
)

type ApplyRequest struct {
	ProjectID     uint   `json:"-"`
	UserID        uint   `json:"-"`
	PlaybookID    string `json:"-"`
	ScopeID       string `json:"scope_id" binding:"required"`
	RulesHash     string `json:"rules_hash" binding:"required"`
	UserConfirmed bool   `json:"user_confirmed"`
	Trigger       string `json:"-"`
}

// ItemResult is the per-record outcome of an apply.
type ItemResult struct {
	ItemID   uint   `json:"item_id"`
	TargetID uint   `json:"target_id"`
	Field    string `json:"field"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

type ApplyResult struct {
	DraftID        uint         `json:"draft_id"`
	RunID          uint         `json:"run_id"`
	ScopeID        string       `json:"scope_id"`
	RulesHash      string       `json:"rules_hash"`
	AttemptedCount int          `json:"attempted_count"`
	UpdatedCount   int          `json:"updated_count"`
	SkippedCount   int          `json:"skipped_count"`
	FailedCount    int          `json:"failed_count"`
	Items          []ItemResult `json:"items"`
}

// currentScope recomputes the scope against live data.
func (e *Engine) currentScope(ctx context.Context, projectID uint, def *Definition) (string, error) {
	ids, err := e.affectedIDs(ctx, projectID, def)
	if err != nil {
		return "", err
	}
	return ComputeScopeID(projectID, string(def.ID), ids), nil
}

// SafetyCheck evaluates the rails for an apply without enforcing them.
func (e *Engine) SafetyCheck(ctx context.Context, req ApplyRequest) (*safety.Evaluation, error) {
	if _, err := e.resolver.AssertProjectAccess(ctx, req.ProjectID, req.UserID); err != nil {
		return nil, err
	}
	def, err := Lookup(req.PlaybookID)
	if err != nil {
		return nil, err
	}
	current, err := e.currentScope(ctx, req.ProjectID, def)
	if err != nil {
		return nil, err
	}
	draft, err := e.findDraft(ctx, req.ProjectID, req.PlaybookID, req.ScopeID, req.RulesHash)
	if err != nil {
		return nil, err
	}
	c := e.safetyContext(req, current)
	if draft != nil {
		c.DraftID = &draft.ID
	}
	return e.safety.Evaluate(ctx, c)
}

func (e *Engine) safetyContext(req ApplyRequest, currentScope string) safety.Context {
	trigger := req.Trigger
	if trigger == "" {
		trigger = models.TriggerSync
	}
	return safety.Context{
		ProjectID:       req.ProjectID,
		UserID:          req.UserID,
		PlaybookID:      req.PlaybookID,
		DeclaredScopeID: req.ScopeID,
		CurrentScopeID:  currentScope,
		UserConfirmed:   req.UserConfirmed,
		Trigger:         trigger,
	}
}

// Apply writes the draft stored under (scopeId, rulesHash) to the live
// records. It touches only the records of that draft, and only if the scope
// recomputed now still equals the one previewed.
func (e *Engine) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	a, err := e.resolver.AssertProjectAccess(ctx, req.ProjectID, req.UserID)
	if err != nil {
		return nil, err
	}
	def, err := Lookup(req.PlaybookID)
	if err != nil {
		return nil, err
	}

	current, err := e.currentScope(ctx, req.ProjectID, def)
	if err != nil {
		return nil, err
	}
	draft, err := e.findDraft(ctx, req.ProjectID, req.PlaybookID, req.ScopeID, req.RulesHash)
	if err != nil {
		return nil, err
	}

	// Members who may not apply are refused by the rails, so the attempt is
	// audited, before any scope or draft conflict is reported.
	if !a.Capabilities.CanApply {
		c := e.safetyContext(req, current)
		if draft != nil {
			c.DraftID = &draft.ID
		}
		if _, err := e.safety.EnforceOrBlock(ctx, c); err != nil {
			return nil, err
		}
		return nil, response.NewForbidden("your role cannot apply automations on this project")
	}

	if current != req.ScopeID {
		return nil, conflictf("scope changed since preview; regenerate")
	}
	switch {
	case draft == nil:
		return nil, conflictf("no draft matches this scope and rules; run preview first")
	case draft.Status == models.DraftStatusApplied:
		return nil, conflictf("draft %d was already applied; regenerate to apply again", draft.ID)
	case draft.IsExpired(e.now()):
		e.expire(ctx, draft)
		return nil, conflictf("draft %d expired; regenerate", draft.ID)
	}

	c := e.safetyContext(req, current)
	c.DraftID = &draft.ID
	if _, err := e.safety.EnforceOrBlock(ctx, c); err != nil {
		return nil, err
	}

	if err := e.db.WithContext(ctx).Where("draft_id = ?", draft.ID).Order("id ASC").Find(&draft.Items).Error; err != nil {
		return nil, fmt.Errorf("load draft items: %w", err)
	}

	started := time.Now()
	result := e.writeItems(ctx, def, draft)
	services.ApplyDuration.WithLabelValues(req.PlaybookID).Observe(time.Since(started).Seconds())

	// Records may already be written; the bookkeeping must land even if the
	// caller went away, or the draft could be applied twice.
	e.finishApply(context.WithoutCancel(ctx), req, c.Trigger, draft, result)
	return result, nil
}

// writeItems applies each item as its own unit of work with bounded
// concurrency. A failed record never stops or rolls back the others.
func (e *Engine) writeItems(ctx context.Context, def *Definition, draft *models.AutomationDraft) *ApplyResult {
	results := make([]ItemResult, len(draft.Items))
	var g errgroup.Group
	g.SetLimit(e.cfg.ApplyConcurrency)

	for i := range draft.Items {
		i, item := i, draft.Items[i]
		g.Go(func() error {
			results[i] = e.writeItem(ctx, def, draft.ProjectID, &item)
			return nil
		})
	}
	_ = g.Wait()

	res := &ApplyResult{
		DraftID:        draft.ID,
		ScopeID:        draft.ScopeID,
		RulesHash:      draft.RulesHash,
		AttemptedCount: len(results),
		Items:          results,
	}
	for _, r := range results {
		switch r.Status {
		case models.DraftItemApplied:
			res.UpdatedCount++
		case models.DraftItemSkipped:
			res.SkippedCount++
		case models.DraftItemFailed:
			res.FailedCount++
		}
	}
	return res
}

func (e *Engine) writeItem(ctx context.Context, def *Definition, projectID uint, item *models.AutomationDraftItem) ItemResult {
	r := ItemResult{ItemID: item.ID, TargetID: item.TargetID, Field: item.Field}
	db := e.db.WithContext(ctx)

	if item.FinalSuggestion == "" {
		r.Status = models.DraftItemSkipped
	} else if item.Field != def.Field {
		r.Status = models.DraftItemFailed
		r.Error = fmt.Sprintf("field %s is not written by playbook %s", item.Field, def.ID)
	} else {
		res := db.Model(&models.TargetRecord{}).
			Where("id = ? AND project_id = ?", item.TargetID, projectID).
			Update(def.Field, item.FinalSuggestion)
		switch {
		case res.Error != nil:
			r.Status = models.DraftItemFailed
			r.Error = truncate(res.Error.Error(), 500)
		case res.RowsAffected == 0:
			r.Status = models.DraftItemFailed
			r.Error = "record no longer exists"
		default:
			r.Status = models.DraftItemApplied
		}
	}

	if err := e.db.WithContext(context.WithoutCancel(ctx)).Model(&models.AutomationDraftItem{}).Where("id = ?", item.ID).
		Updates(map[string]interface{}{"status": r.Status, "error": r.Error}).Error; err != nil {
		plog.Warnf("failed to record item %d status %s: %v", item.ID, r.Status, err)
	}
	return r
}

func (e *Engine) finishApply(ctx context.Context, req ApplyRequest, trigger string, draft *models.AutomationDraft, res *ApplyResult) {
	db := e.db.WithContext(ctx)
	appliedAt := e.now()
	if err := db.Model(&models.AutomationDraft{}).Where("id = ?", draft.ID).
		Updates(map[string]interface{}{"status": models.DraftStatusApplied, "applied_at": appliedAt}).Error; err != nil {
		plog.Errorf("failed to mark draft %d applied: %v", draft.ID, err)
	}

	run := &models.AutomationRun{
		ProjectID:      req.ProjectID,
		UserID:         req.UserID,
		PlaybookID:     req.PlaybookID,
		DraftID:        draft.ID,
		ScopeID:        draft.ScopeID,
		RulesHash:      draft.RulesHash,
		Trigger:        trigger,
		AttemptedCount: res.AttemptedCount,
		UpdatedCount:   res.UpdatedCount,
		SkippedCount:   res.SkippedCount,
		FailedCount:    res.FailedCount,
	}
	if err := db.Create(run).Error; err != nil {
		plog.Errorf("failed to record run for draft %d: %v", draft.ID, err)
	}
	res.RunID = run.ID

	if err := db.Model(&models.ApprovalRequest{}).
		Where("project_id = ? AND playbook_id = ? AND scope_id = ? AND rules_hash = ? AND status = ?",
			req.ProjectID, req.PlaybookID, draft.ScopeID, draft.RulesHash, models.ApprovalApproved).
		Update("status", models.ApprovalConsumed).Error; err != nil {
		plog.Warnf("failed to consume approval for draft %d: %v", draft.ID, err)
	}

	services.AppliesTotal.WithLabelValues(req.PlaybookID, trigger).Inc()
	services.AppliedRecordsTotal.WithLabelValues(req.PlaybookID, models.DraftItemApplied).Add(float64(res.UpdatedCount))
	services.AppliedRecordsTotal.WithLabelValues(req.PlaybookID, models.DraftItemSkipped).Add(float64(res.SkippedCount))
	services.AppliedRecordsTotal.WithLabelValues(req.PlaybookID, models.DraftItemFailed).Add(float64(res.FailedCount))

	e.writeAudit(ctx, req.ProjectID, req.UserID, services.AuditApplied, "draft", strconv.FormatUint(uint64(draft.ID), 10), map[string]interface{}{
		"playbook_id":     req.PlaybookID,
		"scope_id":        draft.ScopeID,
		"rules_hash":      draft.RulesHash,
		"trigger":         trigger,
		"attempted_count": res.AttemptedCount,
		"updated_count":   res.UpdatedCount,
		"skipped_count":   res.SkippedCount,
		"failed_count":    res.FailedCount,
	})

	plog.Info().
		Uint("project_id", req.ProjectID).
		Uint("draft_id", draft.ID).
		Str("playbook", req.PlaybookID).
		Int("updated", res.UpdatedCount).
		Int("skipped", res.SkippedCount).
		Int("failed", res.FailedCount).
		Msg("Draft applied")
}
