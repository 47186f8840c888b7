package access

import (
	"context"
	"errors"

	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/pkg/response"
	"gorm.io/gorm"
)

// Store reads the relations role resolution depends on.
type Store interface {
	// ProjectOwner returns the legacy owner reference; NotFound if the project does not exist.
	ProjectOwner(ctx context.Context, projectID uint) (*uint, error)
	Memberships(ctx context.Context, projectID uint) ([]models.ProjectMember, error)
	EmulatedRole(ctx context.Context, userID uint) (string, error)
}

// GormStore implements Store on the application database.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) ProjectOwner(ctx context.Context, projectID uint) (*uint, error) {
	var project models.Project
	if err := s.db.WithContext(ctx).Select("id", "owner_user_id").First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("project not found")
		}
		return nil, err
	}
	return project.OwnerUserID, nil
}

func (s *GormStore) Memberships(ctx context.Context, projectID uint) ([]models.ProjectMember, error) {
	var members []models.ProjectMember
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("id ASC").
		Find(&members).Error
	return members, err
}

func (s *GormStore) EmulatedRole(ctx context.Context, userID uint) (string, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Select("id", "emulated_role").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return user.EmulatedRole, nil
}
