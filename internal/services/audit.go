package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/pkg/logger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit event types
const (
	AuditApplyBlocked      = "automation.apply_blocked"
	AuditApplied           = "automation.applied"
	AuditDraftGenerated    = "automation.draft_generated"
	AuditApprovalRequested = "automation.approval_requested"
	AuditApprovalDecided   = "automation.approval_decided"
	AuditMemberChanged     = "project.member_changed"
)

// AuditWriter appends immutable audit events.
type AuditWriter interface {
	WriteEvent(ctx context.Context, projectID, userID uint, eventType, resourceType, resourceID string, metadata map[string]interface{}) error
}

type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

func (s *AuditService) WriteEvent(ctx context.Context, projectID, userID uint, eventType, resourceType, resourceID string, metadata map[string]interface{}) error {
	var raw datatypes.JSON
	if metadata != nil {
		data, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		raw = datatypes.JSON(data)
	}

	event := &models.AuditEvent{
		ProjectID:    projectID,
		UserID:       userID,
		EventType:    eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     raw,
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		logger.Errorf("[Audit] Failed to write %s for project %d: %v", eventType, projectID, err)
		return err
	}
	return nil
}

type AuditListRequest struct {
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
	EventType string `form:"event_type"`
}

type AuditListResponse struct {
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
	Items    []models.AuditEvent `json:"items"`
}

// List returns a project's audit events, newest first.
func (s *AuditService) List(ctx context.Context, projectID uint, req *AuditListRequest) (*AuditListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.AuditEvent{}).Where("project_id = ?", projectID)
	if req.EventType != "" {
		query = query.Where("event_type = ?", req.EventType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var events []models.AuditEvent
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(req.PageSize).Find(&events).Error; err != nil {
		return nil, err
	}

	return &AuditListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: events}, nil
}
