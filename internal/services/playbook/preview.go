package playbook

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/storepilot/backend/internal/config"
	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/pkg/response"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type PreviewRequest struct {
	ProjectID  uint   `json:"-"`
	UserID     uint   `json:"-"`
	PlaybookID string `json:"-"`
	Rules      *Rules `json:"rules"`
	SampleSize int    `json:"sample_size"`
}

// Preview generates AI suggestions for a deterministic sample of the affected
// records and stores them as a draft keyed by (scopeId, rulesHash).
func (e *Engine) Preview(ctx context.Context, req PreviewRequest) (*DraftView, error) {
	if _, err := e.resolver.AssertCanGenerateDrafts(ctx, req.ProjectID, req.UserID); err != nil {
		return nil, err
	}
	def, err := Lookup(req.PlaybookID)
	if err != nil {
		return nil, err
	}
	rules := Normalize(req.Rules)
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	sampleSize, err := e.sampleSize(req.SampleSize)
	if err != nil {
		return nil, err
	}

	ids, err := e.affectedIDs(ctx, req.ProjectID, def)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, conflictf("no records currently match playbook %s; nothing to preview", def.ID)
	}
	scopeID := ComputeScopeID(req.ProjectID, req.PlaybookID, ids)
	rulesHash := ComputeRulesHash(&rules)

	// Quota first: a preview over the limit must not reach the AI provider.
	quota, err := e.entitlements.EnsureWithinDailyAILimit(ctx, req.UserID, req.ProjectID, models.AIActionPlaybookPreview)
	if err != nil {
		return nil, err
	}

	n := sampleSize
	if n > len(ids) {
		n = len(ids)
	}
	if quota.Remaining != config.Unlimited && n > quota.Remaining {
		n = quota.Remaining
	}

	var records []models.TargetRecord
	if err := e.db.WithContext(ctx).Where("id IN ?", ids[:n]).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load sample: %w", err)
	}

	items := e.generate(ctx, req, def, rules, records)

	draft := &models.AutomationDraft{
		ProjectID:     req.ProjectID,
		PlaybookID:    req.PlaybookID,
		ScopeID:       scopeID,
		RulesHash:     rulesHash,
		AffectedTotal: len(ids),
		ExpiresAt:     e.now().Add(time.Duration(e.cfg.DraftTTLHours) * time.Hour),
		CreatedBy:     req.UserID,
		Items:         items,
	}
	rulesJSON, _ := json.Marshal(rules)
	draft.Rules = string(rulesJSON)
	for _, it := range items {
		if it.FinalSuggestion != "" {
			draft.DraftGenerated++
		} else {
			draft.NoSuggestionCount++
		}
	}
	draft.Status = models.DraftStatusPartial
	if draft.DraftGenerated == draft.AffectedTotal {
		draft.Status = models.DraftStatusReady
	}

	if err := e.saveDraft(ctx, draft); err != nil {
		return nil, err
	}

	services.PreviewsTotal.WithLabelValues(req.PlaybookID, draft.Status).Inc()
	e.writeAudit(ctx, req.ProjectID, req.UserID, services.AuditDraftGenerated, "draft", strconv.FormatUint(uint64(draft.ID), 10), map[string]interface{}{
		"playbook_id":     req.PlaybookID,
		"scope_id":        scopeID,
		"rules_hash":      rulesHash,
		"affected_total":  draft.AffectedTotal,
		"draft_generated": draft.DraftGenerated,
		"no_suggestion":   draft.NoSuggestionCount,
	})
	plog.Info().
		Uint("project_id", req.ProjectID).
		Str("playbook", req.PlaybookID).
		Int("affected", draft.AffectedTotal).
		Int("generated", draft.DraftGenerated).
		Str("status", draft.Status).
		Msg("Draft generated")

	return newDraftView(draft), nil
}

func (e *Engine) sampleSize(requested int) (int, error) {
	switch {
	case requested < 0:
		return 0, response.NewValidationFailed("sample_size must not be negative")
	case requested == 0:
		requested = e.cfg.DefaultSampleSize
	}
	if requested > e.cfg.MaxSampleSize {
		requested = e.cfg.MaxSampleSize
	}
	return requested, nil
}

// generate asks the AI for one suggestion per record with bounded
// concurrency. A failed call yields an empty item rather than an error.
func (e *Engine) generate(ctx context.Context, req PreviewRequest, def *Definition, rules Rules, records []models.TargetRecord) []models.AutomationDraftItem {
	items := make([]models.AutomationDraftItem, len(records))
	var g errgroup.Group
	g.SetLimit(e.cfg.AIConcurrency)

	for i := range records {
		i, rec := i, records[i]
		g.Go(func() error {
			source := &services.MetadataSource{
				ProjectID:   rec.ProjectID,
				TargetID:    rec.ID,
				AssetType:   rec.AssetType,
				Handle:      rec.Handle,
				Title:       rec.Title,
				Description: rec.Description,
			}
			started := time.Now()
			suggestion, err := e.generator.GenerateMetadata(ctx, source)
			e.recordUsage(ctx, req, suggestion, time.Since(started), err)

			item := models.AutomationDraftItem{
				TargetID: rec.ID,
				Field:    def.Field,
				Status:   models.DraftItemPending,
			}
			if err != nil {
				plog.Warnf("suggestion failed for record %d: %v", rec.ID, err)
				item.Warnings = []string{WarningNoSuggestion}
				item.Error = truncate(err.Error(), 500)
			} else {
				item.RawSuggestion = def.pick(suggestion)
				item.FinalSuggestion, item.Warnings = rules.Apply(item.RawSuggestion)
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// recordUsage logs every AI call, successful or not, against the daily quota.
func (e *Engine) recordUsage(ctx context.Context, req PreviewRequest, s *services.MetadataSuggestion, latency time.Duration, callErr error) {
	if e.usage == nil {
		return
	}
	projectID := req.ProjectID
	entry := &models.AIUsageLog{
		UserID:    req.UserID,
		ProjectID: &projectID,
		Action:    models.AIActionPlaybookPreview,
		LatencyMs: latency.Milliseconds(),
		Success:   callErr == nil,
	}
	if s != nil {
		entry.LLMConfigID = s.LLMConfigID
		entry.Provider = s.Provider
		entry.Model = s.Model
		entry.PromptTokens = s.PromptTokens
		entry.CompletionTokens = s.CompletionTokens
	}
	if callErr != nil {
		entry.ErrorMessage = truncate(callErr.Error(), 500)
	}
	// Usage must land even if the request is cancelled mid-preview.
	if err := e.usage.Record(context.WithoutCancel(ctx), entry); err != nil {
		plog.Errorf("failed to record AI usage: %v", err)
	}
}

// saveDraft stores a new draft and expires any unapplied draft held under
// the same key. Superseded drafts keep their items for the audit trail.
func (e *Engine) saveDraft(ctx context.Context, draft *models.AutomationDraft) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.AutomationDraft{}).
			Where("project_id = ? AND playbook_id = ? AND scope_id = ? AND rules_hash = ? AND status NOT IN ?",
				draft.ProjectID, draft.PlaybookID, draft.ScopeID, draft.RulesHash,
				[]string{models.DraftStatusApplied, models.DraftStatusExpired}).
			Update("status", models.DraftStatusExpired).Error; err != nil {
			return err
		}
		return tx.Create(draft).Error
	})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
