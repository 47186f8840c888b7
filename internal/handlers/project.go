package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/storepilot/backend/internal/middleware"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/internal/services/access"
	"github.com/storepilot/backend/pkg/response"
)

type ProjectHandler struct {
	projectService *services.ProjectService
	resolver       *access.Resolver
}

func NewProjectHandler(projectService *services.ProjectService, resolver *access.Resolver) *ProjectHandler {
	return &ProjectHandler{projectService: projectService, resolver: resolver}
}

// List returns paginated projects visible to the caller
// GET /api/projects
func (h *ProjectHandler) List(c *gin.Context) {
	var req services.ProjectListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.projectService.List(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// GetByID returns a project by ID
// GET /api/projects/:id
func (h *ProjectHandler) GetByID(c *gin.Context) {
	id, ok := paramID(c, "id", "project id")
	if !ok {
		return
	}

	project, err := h.projectService.GetByID(c.Request.Context(), id, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, project)
}

// Create creates a new project owned by the caller
// POST /api/projects
func (h *ProjectHandler) Create(c *gin.Context) {
	var req services.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	project, err := h.projectService.Create(c.Request.Context(), &req, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, project)
}

// GetAccess returns the caller's role and capabilities on the project
// GET /api/projects/:id/access
func (h *ProjectHandler) GetAccess(c *gin.Context) {
	id, ok := paramID(c, "id", "project id")
	if !ok {
		return
	}

	acc, err := h.resolver.AssertProjectAccess(c.Request.Context(), id, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, acc)
}

// ImportCatalog replaces a project's records and diagnostics from a crawler snapshot
// POST /api/projects/:id/catalog
func (h *ProjectHandler) ImportCatalog(c *gin.Context) {
	projectID, ok := paramID(c, "id", "project id")
	if !ok {
		return
	}

	var snap services.CatalogSnapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	res, err := h.projectService.ImportCatalog(c.Request.Context(), projectID, &snap)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
