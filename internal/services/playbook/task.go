package playbook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/services"
)

// EnqueuePreview schedules a background preview. Permission is checked before
// the task is queued so the caller gets a 403 instead of a failed job.
func (e *Engine) EnqueuePreview(ctx context.Context, queue services.TaskQueue, req PreviewRequest) (string, error) {
	if _, err := e.resolver.AssertCanGenerateDrafts(ctx, req.ProjectID, req.UserID); err != nil {
		return "", err
	}
	if _, err := Lookup(req.PlaybookID); err != nil {
		return "", err
	}
	rules := Normalize(req.Rules)
	if err := rules.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		return "", err
	}
	return queue.Enqueue(ctx, &services.AutomationTask{
		Kind:       services.TaskKindPreview,
		ProjectID:  req.ProjectID,
		UserID:     req.UserID,
		PlaybookID: req.PlaybookID,
		Rules:      raw,
		SampleSize: req.SampleSize,
	})
}

// EnqueueApply schedules a background apply. The safety rails run again when
// the task executes; only access is checked here.
func (e *Engine) EnqueueApply(ctx context.Context, queue services.TaskQueue, req ApplyRequest) (string, error) {
	if _, err := e.resolver.AssertProjectAccess(ctx, req.ProjectID, req.UserID); err != nil {
		return "", err
	}
	if _, err := Lookup(req.PlaybookID); err != nil {
		return "", err
	}
	return queue.Enqueue(ctx, &services.AutomationTask{
		Kind:          services.TaskKindApply,
		ProjectID:     req.ProjectID,
		UserID:        req.UserID,
		PlaybookID:    req.PlaybookID,
		ScopeID:       req.ScopeID,
		RulesHash:     req.RulesHash,
		UserConfirmed: req.UserConfirmed,
	})
}

// ProcessAutomationTask runs a queued task through the same code paths as the
// synchronous endpoints. It is the processor for both queue implementations.
func (e *Engine) ProcessAutomationTask(ctx context.Context, task *services.AutomationTask) error {
	switch task.Kind {
	case services.TaskKindPreview:
		var rules *Rules
		if len(task.Rules) > 0 {
			rules = &Rules{}
			if err := json.Unmarshal(task.Rules, rules); err != nil {
				return fmt.Errorf("task %s: decode rules: %w", task.ID, err)
			}
		}
		draft, err := e.Preview(ctx, PreviewRequest{
			ProjectID:  task.ProjectID,
			UserID:     task.UserID,
			PlaybookID: task.PlaybookID,
			Rules:      rules,
			SampleSize: task.SampleSize,
		})
		if err != nil {
			return err
		}
		plog.Infof("Task %s produced draft %d (%s)", task.ID, draft.ID, draft.Status)
		return nil

	case services.TaskKindApply:
		if task.ScopeID == "" || task.RulesHash == "" {
			return fmt.Errorf("task %s: apply needs scope_id and rules_hash", task.ID)
		}
		res, err := e.Apply(ctx, ApplyRequest{
			ProjectID:     task.ProjectID,
			UserID:        task.UserID,
			PlaybookID:    task.PlaybookID,
			ScopeID:       task.ScopeID,
			RulesHash:     task.RulesHash,
			UserConfirmed: task.UserConfirmed,
			Trigger:       models.TriggerAsync,
		})
		if err != nil {
			return err
		}
		plog.Infof("Task %s applied draft %d: updated=%d skipped=%d failed=%d",
			task.ID, res.DraftID, res.UpdatedCount, res.SkippedCount, res.FailedCount)
		return nil

	default:
		return fmt.Errorf("task %s: unknown kind %q", task.ID, task.Kind)
	}
}
