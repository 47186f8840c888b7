package playbook

import (
	"context"
	"errors"
	"strconv"

	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/pkg/response"
	"gorm.io/gorm"
)

type ApprovalInput struct {
	ProjectID  uint   `json:"-"`
	UserID     uint   `json:"-"`
	PlaybookID string `json:"-"`
	ScopeID    string `json:"scope_id" binding:"required"`
	RulesHash  string `json:"rules_hash" binding:"required"`
	Note       string `json:"note" binding:"max=500"`
}

// RequestApproval asks the project owners to apply a previewed draft. A
// pending request for the same draft key is returned as is.
func (e *Engine) RequestApproval(ctx context.Context, in ApprovalInput) (*models.ApprovalRequest, error) {
	if _, err := e.resolver.AssertCanRequestApproval(ctx, in.ProjectID, in.UserID); err != nil {
		return nil, err
	}
	if _, err := Lookup(in.PlaybookID); err != nil {
		return nil, err
	}

	draft, err := e.findDraft(ctx, in.ProjectID, in.PlaybookID, in.ScopeID, in.RulesHash)
	if err != nil {
		return nil, err
	}
	switch {
	case draft == nil:
		return nil, conflictf("no draft matches this scope and rules; run preview first")
	case draft.Status == models.DraftStatusApplied:
		return nil, conflictf("draft %d was already applied", draft.ID)
	case draft.IsExpired(e.now()):
		e.expire(ctx, draft)
		return nil, conflictf("draft %d expired; regenerate", draft.ID)
	}

	db := e.db.WithContext(ctx)
	var existing models.ApprovalRequest
	err = db.Where("project_id = ? AND playbook_id = ? AND scope_id = ? AND rules_hash = ? AND status = ?",
		in.ProjectID, in.PlaybookID, in.ScopeID, in.RulesHash, models.ApprovalPending).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	req := &models.ApprovalRequest{
		ProjectID:   in.ProjectID,
		PlaybookID:  in.PlaybookID,
		ScopeID:     in.ScopeID,
		RulesHash:   in.RulesHash,
		RequestedBy: in.UserID,
		Status:      models.ApprovalPending,
		Note:        in.Note,
	}
	if err := db.Create(req).Error; err != nil {
		return nil, err
	}

	e.writeAudit(ctx, in.ProjectID, in.UserID, services.AuditApprovalRequested, "approval", strconv.FormatUint(uint64(req.ID), 10), map[string]interface{}{
		"playbook_id": in.PlaybookID,
		"scope_id":    in.ScopeID,
		"rules_hash":  in.RulesHash,
		"draft_id":    draft.ID,
	})
	return req, nil
}

// Approve marks a pending request approved.
func (e *Engine) Approve(ctx context.Context, projectID, approvalID, userID uint, note string) (*models.ApprovalRequest, error) {
	return e.decide(ctx, projectID, approvalID, userID, models.ApprovalApproved, note)
}

// Reject marks a pending request rejected.
func (e *Engine) Reject(ctx context.Context, projectID, approvalID, userID uint, note string) (*models.ApprovalRequest, error) {
	return e.decide(ctx, projectID, approvalID, userID, models.ApprovalRejected, note)
}

func (e *Engine) decide(ctx context.Context, projectID, approvalID, userID uint, status, note string) (*models.ApprovalRequest, error) {
	if _, err := e.resolver.AssertCanApprove(ctx, projectID, userID); err != nil {
		return nil, err
	}

	db := e.db.WithContext(ctx)
	var req models.ApprovalRequest
	if err := db.Where("project_id = ?", projectID).First(&req, approvalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("approval request not found")
		}
		return nil, err
	}
	if req.Status != models.ApprovalPending {
		return nil, conflictf("approval request %d is already %s", req.ID, req.Status)
	}

	now := e.now()
	updates := map[string]interface{}{"status": status, "decided_by": userID, "decided_at": now}
	if note != "" {
		updates["note"] = truncate(note, 500)
	}
	// The status guard keeps two concurrent decisions from both succeeding.
	res := db.Model(&models.ApprovalRequest{}).
		Where("id = ? AND status = ?", req.ID, models.ApprovalPending).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, conflictf("approval request %d was decided concurrently", req.ID)
	}
	if err := db.First(&req, req.ID).Error; err != nil {
		return nil, err
	}

	e.writeAudit(ctx, projectID, userID, services.AuditApprovalDecided, "approval", strconv.FormatUint(uint64(req.ID), 10), map[string]interface{}{
		"playbook_id":  req.PlaybookID,
		"scope_id":     req.ScopeID,
		"decision":     status,
		"requested_by": req.RequestedBy,
	})
	return &req, nil
}

// ApprovalState summarizes the newest approval request for a draft key.
type ApprovalState struct {
	Status  string                  `json:"status"` // NONE when nothing was requested
	Request *models.ApprovalRequest `json:"request,omitempty"`
	// ViewerRequested is true when the viewer asked for the current request.
	ViewerRequested bool `json:"viewer_requested"`
	// ViewerHoldsApproval is true when an approved request is waiting for an
	// apply the viewer is allowed to perform.
	ViewerHoldsApproval bool `json:"viewer_holds_approval"`
}

const ApprovalNone = "NONE"

// GetApprovalState reports the approval state of a draft key for the viewer.
func (e *Engine) GetApprovalState(ctx context.Context, projectID, userID uint, playbookID, scopeID, rulesHash string) (*ApprovalState, error) {
	a, err := e.resolver.AssertProjectAccess(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	var req models.ApprovalRequest
	err = e.db.WithContext(ctx).
		Where("project_id = ? AND playbook_id = ? AND scope_id = ? AND rules_hash = ?", projectID, playbookID, scopeID, rulesHash).
		Order("id DESC").
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ApprovalState{Status: ApprovalNone}, nil
	}
	if err != nil {
		return nil, err
	}

	return &ApprovalState{
		Status:              req.Status,
		Request:             &req,
		ViewerRequested:     req.RequestedBy == userID,
		ViewerHoldsApproval: req.Status == models.ApprovalApproved && a.Capabilities.CanApply,
	}, nil
}

// ListApprovals returns the project's approval requests, newest first.
func (e *Engine) ListApprovals(ctx context.Context, projectID, userID uint, status string) ([]models.ApprovalRequest, error) {
	if _, err := e.resolver.AssertProjectAccess(ctx, projectID, userID); err != nil {
		return nil, err
	}
	query := e.db.WithContext(ctx).Where("project_id = ?", projectID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var reqs []models.ApprovalRequest
	err := query.Order("id DESC").Limit(100).Find(&reqs).Error
	return reqs, err
}
