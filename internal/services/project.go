package services

import (
	"context"
	"errors"
	"strings"

	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/services/access"
	"github.com/storepilot/backend/pkg/response"
	"gorm.io/gorm"
)

type ProjectService struct {
	db       *gorm.DB
	resolver *access.Resolver
}

func NewProjectService(db *gorm.DB, resolver *access.Resolver) *ProjectService {
	return &ProjectService{db: db, resolver: resolver}
}

type ProjectListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Name     string `form:"name"`
	Platform string `form:"platform"`
}

type ProjectListResponse struct {
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Items    []models.Project `json:"items"`
}

type CreateProjectRequest struct {
	Name     string `json:"name" binding:"required"`
	Domain   string `json:"domain"`
	Platform string `json:"platform" binding:"omitempty,oneof=shopify woocommerce custom"`
}

// ProjectDetail is a project plus the caller's standing on it.
type ProjectDetail struct {
	models.Project
	Access *access.Access `json:"access"`
}

// List returns the projects the user is a member of, plus legacy projects
// they own that have no membership rows.
func (s *ProjectService) List(ctx context.Context, userID uint, req *ProjectListRequest) (*ProjectListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 10
	}

	db := s.db.WithContext(ctx)
	memberOf := db.Model(&models.ProjectMember{}).Select("project_id").Where("user_id = ?", userID)
	anyMember := db.Model(&models.ProjectMember{}).Select("project_id")

	query := db.Model(&models.Project{}).
		Where("id IN (?) OR (owner_user_id = ? AND id NOT IN (?))", memberOf, userID, anyMember)
	if req.Name != "" {
		query = query.Where("name LIKE ?", "%"+req.Name+"%")
	}
	if req.Platform != "" {
		query = query.Where("platform = ?", req.Platform)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var projects []models.Project
	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("created_at DESC, id DESC").Find(&projects).Error; err != nil {
		return nil, err
	}

	return &ProjectListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    projects,
	}, nil
}

// GetByID returns a project the user can view.
func (s *ProjectService) GetByID(ctx context.Context, id, userID uint) (*ProjectDetail, error) {
	a, err := s.resolver.AssertProjectAccess(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	var project models.Project
	if err := s.db.WithContext(ctx).First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("project not found")
		}
		return nil, err
	}
	return &ProjectDetail{Project: project, Access: a}, nil
}

// Create stores the project and makes its creator the OWNER member.
func (s *ProjectService) Create(ctx context.Context, req *CreateProjectRequest, userID uint) (*models.Project, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, response.NewValidationFailed("project name is required")
	}
	if req.Platform == "" {
		req.Platform = "shopify"
	}

	project := models.Project{
		Name:        strings.TrimSpace(req.Name),
		Domain:      strings.TrimSuffix(strings.TrimSpace(req.Domain), "/"),
		Platform:    req.Platform,
		OwnerUserID: &userID,
		CreatedBy:   userID,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&project).Error; err != nil {
			return err
		}
		return tx.Create(&models.ProjectMember{
			ProjectID: project.ID,
			UserID:    userID,
			Role:      models.ProjectRoleOwner,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	LogInfo("Project", "Create", "project created: "+project.Name, &userID, "", "", nil)
	return &project, nil
}

// ImportCatalog loads a crawler snapshot into the project.
func (s *ProjectService) ImportCatalog(ctx context.Context, projectID uint, snap *CatalogSnapshot) (*CatalogImportResult, error) {
	return ImportCatalog(ctx, s.db, projectID, snap)
}
