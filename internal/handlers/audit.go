package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/storepilot/backend/internal/middleware"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/internal/services/access"
	"github.com/storepilot/backend/pkg/response"
)

// AuditHandler lists a project's automation audit trail. Any member may read it.
type AuditHandler struct {
	auditService *services.AuditService
	resolver     *access.Resolver
}

func NewAuditHandler(auditService *services.AuditService, resolver *access.Resolver) *AuditHandler {
	return &AuditHandler{auditService: auditService, resolver: resolver}
}

// List returns paginated audit events, newest first
// GET /api/projects/:id/audit-events
func (h *AuditHandler) List(c *gin.Context) {
	projectID, ok := paramID(c, "id", "project id")
	if !ok {
		return
	}
	if _, err := h.resolver.AssertProjectAccess(c.Request.Context(), projectID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}

	var req services.AuditListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.auditService.List(c.Request.Context(), projectID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}
