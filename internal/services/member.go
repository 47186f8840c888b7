package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/services/access"
	"github.com/storepilot/backend/pkg/logger"
	"github.com/storepilot/backend/pkg/response"
	"gorm.io/gorm"
)

// ProjectMemberService manages project membership. Every mutation requires
// the caller to be the project owner.
type ProjectMemberService struct {
	db       *gorm.DB
	resolver *access.Resolver
	audit    AuditWriter
}

func NewProjectMemberService(db *gorm.DB, resolver *access.Resolver, audit AuditWriter) *ProjectMemberService {
	return &ProjectMemberService{db: db, resolver: resolver, audit: audit}
}

type AddMemberRequest struct {
	UserID uint   `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

type UpdateMemberRequest struct {
	Role string `json:"role" binding:"required"`
}

// List returns the project's members; any role may view them.
func (s *ProjectMemberService) List(ctx context.Context, projectID, userID uint) ([]models.ProjectMember, error) {
	if _, err := s.resolver.AssertProjectAccess(ctx, projectID, userID); err != nil {
		return nil, err
	}
	var members []models.ProjectMember
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Preload("User").
		Order("id ASC").
		Find(&members).Error
	return members, err
}

func (s *ProjectMemberService) Add(ctx context.Context, projectID, actorID uint, req *AddMemberRequest) (*models.ProjectMember, error) {
	if _, err := s.resolver.AssertOwnerRole(ctx, projectID, actorID); err != nil {
		return nil, err
	}
	role, err := access.ParseRole(req.Role)
	if err != nil {
		return nil, response.NewValidationFailed("role must be OWNER, EDITOR or VIEWER")
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, req.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("user not found")
		}
		return nil, err
	}

	var count int64
	s.db.WithContext(ctx).Model(&models.ProjectMember{}).
		Where("project_id = ? AND user_id = ?", projectID, req.UserID).
		Count(&count)
	if count > 0 {
		return nil, response.NewConflict("user is already a member of this project")
	}

	member := models.ProjectMember{ProjectID: projectID, UserID: req.UserID, Role: string(role)}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A legacy project gains its owner as an explicit member first, so
		// adding someone never strips the owner's access.
		var existing int64
		if err := tx.Model(&models.ProjectMember{}).Where("project_id = ?", projectID).Count(&existing).Error; err != nil {
			return err
		}
		if existing == 0 && req.UserID != actorID {
			if err := tx.Create(&models.ProjectMember{ProjectID: projectID, UserID: actorID, Role: models.ProjectRoleOwner}).Error; err != nil {
				return err
			}
		}
		return tx.Create(&member).Error
	})
	if err != nil {
		return nil, err
	}

	s.writeAudit(ctx, projectID, actorID, member.ID, map[string]interface{}{
		"operation": "add", "member_user_id": req.UserID, "role": member.Role,
	})
	s.db.WithContext(ctx).Preload("User").First(&member, member.ID)
	return &member, nil
}

func (s *ProjectMemberService) UpdateRole(ctx context.Context, projectID, memberID, actorID uint, req *UpdateMemberRequest) (*models.ProjectMember, error) {
	if _, err := s.resolver.AssertOwnerRole(ctx, projectID, actorID); err != nil {
		return nil, err
	}
	role, err := access.ParseRole(req.Role)
	if err != nil {
		return nil, response.NewValidationFailed("role must be OWNER, EDITOR or VIEWER")
	}

	member, err := s.find(ctx, projectID, memberID)
	if err != nil {
		return nil, err
	}
	previous := member.Role
	if previous == string(access.RoleOwner) && role != access.RoleOwner {
		if err := s.ensureAnotherOwner(ctx, projectID, member.ID); err != nil {
			return nil, err
		}
	}

	if err := s.db.WithContext(ctx).Model(member).Update("role", string(role)).Error; err != nil {
		return nil, err
	}
	member.Role = string(role)

	s.writeAudit(ctx, projectID, actorID, member.ID, map[string]interface{}{
		"operation": "update", "member_user_id": member.UserID, "role": member.Role, "previous_role": previous,
	})
	return member, nil
}

func (s *ProjectMemberService) Remove(ctx context.Context, projectID, memberID, actorID uint) error {
	if _, err := s.resolver.AssertOwnerRole(ctx, projectID, actorID); err != nil {
		return err
	}
	member, err := s.find(ctx, projectID, memberID)
	if err != nil {
		return err
	}
	if member.Role == string(access.RoleOwner) {
		if err := s.ensureAnotherOwner(ctx, projectID, member.ID); err != nil {
			return err
		}
	}

	// Hard delete: the (project, user) unique index must allow re-adding.
	if err := s.db.WithContext(ctx).Unscoped().Delete(member).Error; err != nil {
		return err
	}

	s.writeAudit(ctx, projectID, actorID, member.ID, map[string]interface{}{
		"operation": "remove", "member_user_id": member.UserID, "role": member.Role,
	})
	return nil
}

func (s *ProjectMemberService) find(ctx context.Context, projectID, memberID uint) (*models.ProjectMember, error) {
	var member models.ProjectMember
	err := s.db.WithContext(ctx).Where("project_id = ?", projectID).First(&member, memberID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("member not found")
		}
		return nil, err
	}
	return &member, nil
}

func (s *ProjectMemberService) ensureAnotherOwner(ctx context.Context, projectID, memberID uint) error {
	var owners int64
	if err := s.db.WithContext(ctx).Model(&models.ProjectMember{}).
		Where("project_id = ? AND role = ? AND id <> ?", projectID, models.ProjectRoleOwner, memberID).
		Count(&owners).Error; err != nil {
		return err
	}
	if owners == 0 {
		return response.NewConflict("a project must keep at least one owner")
	}
	return nil
}

func (s *ProjectMemberService) writeAudit(ctx context.Context, projectID, actorID, memberID uint, metadata map[string]interface{}) {
	if s.audit == nil {
		return
	}
	if err := s.audit.WriteEvent(ctx, projectID, actorID, AuditMemberChanged, "project_member", fmt.Sprint(memberID), metadata); err != nil {
		logger.Warnf("[Member] audit write failed for project %d: %v", projectID, err)
	}
}
