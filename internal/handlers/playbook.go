package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/storepilot/backend/internal/middleware"
	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/internal/services/playbook"
	"github.com/storepilot/backend/pkg/response"
)

// PlaybookHandler exposes estimate, preview, apply and the approval workflow.
type PlaybookHandler struct {
	engine *playbook.Engine
	queue  services.TaskQueue
}

func NewPlaybookHandler(engine *playbook.Engine, queue services.TaskQueue) *PlaybookHandler {
	return &PlaybookHandler{engine: engine, queue: queue}
}

type decisionRequest struct {
	Note string `json:"note" binding:"max=500"`
}

type approvalStateQuery struct {
	ScopeID   string `form:"scope_id" binding:"required"`
	RulesHash string `form:"rules_hash" binding:"required"`
}

type enqueueResponse struct {
	TaskID string `json:"task_id"`
	Async  bool   `json:"async"`
}

// target reads the project and playbook path parameters.
func target(c *gin.Context) (uint, string, bool) {
	projectID, ok := paramID(c, "id", "project id")
	if !ok {
		return 0, "", false
	}
	return projectID, c.Param("playbookID"), true
}

// List returns the supported playbooks
// GET /api/projects/:id/playbooks
func (h *PlaybookHandler) List(c *gin.Context) {
	defs := make([]*playbook.Definition, 0, len(playbook.All))
	for _, id := range playbook.All {
		def, _ := playbook.Lookup(string(id))
		defs = append(defs, def)
	}
	response.Success(c, defs)
}

// Estimate reports the affected count and eligibility without side effects
// GET /api/projects/:id/playbooks/:playbookID/estimate
func (h *PlaybookHandler) Estimate(c *gin.Context) {
	projectID, playbookID, ok := target(c)
	if !ok {
		return
	}

	est, err := h.engine.Estimate(c.Request.Context(), projectID, middleware.GetUserID(c), playbookID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, est)
}

// Preview generates a draft synchronously
// POST /api/projects/:id/playbooks/:playbookID/preview
func (h *PlaybookHandler) Preview(c *gin.Context) {
	projectID, playbookID, ok := target(c)
	if !ok {
		return
	}

	var req playbook.PreviewRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	req.ProjectID = projectID
	req.UserID = middleware.GetUserID(c)
	req.PlaybookID = playbookID

	draft, err := h.engine.Preview(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, draft)
}

// PreviewAsync queues a preview
// POST /api/projects/:id/playbooks/:playbookID/preview-async
func (h *PlaybookHandler) PreviewAsync(c *gin.Context) {
	projectID, playbookID, ok := target(c)
	if !ok {
		return
	}

	var req playbook.PreviewRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	req.ProjectID = projectID
	req.UserID = middleware.GetUserID(c)
	req.PlaybookID = playbookID

	taskID, err := h.engine.EnqueuePreview(c.Request.Context(), h.queue, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, enqueueResponse{TaskID: taskID, Async: h.queue.IsAsync()})
}

func (h *PlaybookHandler) bindApply(c *gin.Context) (playbook.ApplyRequest, bool) {
	var req playbook.ApplyRequest
	projectID, playbookID, ok := target(c)
	if !ok {
		return req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return req, false
	}
	req.ProjectID = projectID
	req.UserID = middleware.GetUserID(c)
	req.PlaybookID = playbookID
	return req, true
}

// Apply writes a previewed draft to the live records
// POST /api/projects/:id/playbooks/:playbookID/apply
func (h *PlaybookHandler) Apply(c *gin.Context) {
	req, ok := h.bindApply(c)
	if !ok {
		return
	}
	req.Trigger = models.TriggerSync

	result, err := h.engine.Apply(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// ApplyAsync queues an apply; the rails are evaluated when the task runs
// POST /api/projects/:id/playbooks/:playbookID/apply-async
func (h *PlaybookHandler) ApplyAsync(c *gin.Context) {
	req, ok := h.bindApply(c)
	if !ok {
		return
	}

	taskID, err := h.engine.EnqueueApply(c.Request.Context(), h.queue, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, enqueueResponse{TaskID: taskID, Async: h.queue.IsAsync()})
}

// SafetyCheck evaluates the apply rails without enforcing them
// POST /api/projects/:id/playbooks/:playbookID/safety-check
func (h *PlaybookHandler) SafetyCheck(c *gin.Context) {
	req, ok := h.bindApply(c)
	if !ok {
		return
	}

	eval, err := h.engine.SafetyCheck(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, eval)
}

// GetDraft returns the newest live draft, or null
// GET /api/projects/:id/playbooks/:playbookID/draft
func (h *PlaybookHandler) GetDraft(c *gin.Context) {
	projectID, playbookID, ok := target(c)
	if !ok {
		return
	}

	draft, err := h.engine.GetLatestDraft(c.Request.Context(), projectID, middleware.GetUserID(c), playbookID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, draft)
}

// RequestApproval asks an owner to approve a draft
// POST /api/projects/:id/playbooks/:playbookID/approvals
func (h *PlaybookHandler) RequestApproval(c *gin.Context) {
	projectID, playbookID, ok := target(c)
	if !ok {
		return
	}

	var in playbook.ApprovalInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	in.ProjectID = projectID
	in.UserID = middleware.GetUserID(c)
	in.PlaybookID = playbookID

	req, err := h.engine.RequestApproval(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, req)
}

// GetApprovalState returns the approval status of one draft key
// GET /api/projects/:id/playbooks/:playbookID/approvals/state
func (h *PlaybookHandler) GetApprovalState(c *gin.Context) {
	projectID, playbookID, ok := target(c)
	if !ok {
		return
	}

	var q approvalStateQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	state, err := h.engine.GetApprovalState(c.Request.Context(), projectID, middleware.GetUserID(c), playbookID, q.ScopeID, q.RulesHash)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, state)
}

// ListApprovals returns the project's approval requests
// GET /api/projects/:id/approvals
func (h *PlaybookHandler) ListApprovals(c *gin.Context) {
	projectID, ok := paramID(c, "id", "project id")
	if !ok {
		return
	}

	items, err := h.engine.ListApprovals(c.Request.Context(), projectID, middleware.GetUserID(c), c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, items)
}

// Approve marks a pending request approved
// POST /api/projects/:id/approvals/:approvalID/approve
func (h *PlaybookHandler) Approve(c *gin.Context) {
	h.decide(c, h.engine.Approve)
}

// Reject marks a pending request rejected
// POST /api/projects/:id/approvals/:approvalID/reject
func (h *PlaybookHandler) Reject(c *gin.Context) {
	h.decide(c, h.engine.Reject)
}

type decideFunc func(ctx context.Context, projectID, approvalID, userID uint, note string) (*models.ApprovalRequest, error)

func (h *PlaybookHandler) decide(c *gin.Context, fn decideFunc) {
	projectID, ok := paramID(c, "id", "project id")
	if !ok {
		return
	}
	approvalID, ok := paramID(c, "approvalID", "approval id")
	if !ok {
		return
	}

	var req decisionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	out, err := fn(c.Request.Context(), projectID, approvalID, middleware.GetUserID(c), req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, out)
}
