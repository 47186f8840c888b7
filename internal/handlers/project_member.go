package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/storepilot/backend/internal/middleware"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/pkg/response"
)

// ProjectMemberHandler manages the membership of one project.
type ProjectMemberHandler struct {
	memberService *services.ProjectMemberService
}

func NewProjectMemberHandler(memberService *services.ProjectMemberService) *ProjectMemberHandler {
	return &ProjectMemberHandler{memberService: memberService}
}

// List returns all members of a project.
func (h *ProjectMemberHandler) List(c *gin.Context) {
	projectID, ok := paramID(c, "id", "project id")
	if !ok {
		return
	}

	members, err := h.memberService.List(c.Request.Context(), projectID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, members)
}

// Add adds a user to a project with the specified role.
func (h *ProjectMemberHandler) Add(c *gin.Context) {
	projectID, ok := paramID(c, "id", "project id")
	if !ok {
		return
	}

	var req services.AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	member, err := h.memberService.Add(c.Request.Context(), projectID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, member)
}

// UpdateRole changes a member's role.
func (h *ProjectMemberHandler) UpdateRole(c *gin.Context) {
	projectID, ok := paramID(c, "id", "project id")
	if !ok {
		return
	}
	memberID, ok := paramID(c, "memberID", "member id")
	if !ok {
		return
	}

	var req services.UpdateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	member, err := h.memberService.UpdateRole(c.Request.Context(), projectID, memberID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, member)
}

// Remove removes a member from the project.
func (h *ProjectMemberHandler) Remove(c *gin.Context) {
	projectID, ok := paramID(c, "id", "project id")
	if !ok {
		return
	}
	memberID, ok := paramID(c, "memberID", "member id")
	if !ok {
		return
	}

	if err := h.memberService.Remove(c.Request.Context(), projectID, memberID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
