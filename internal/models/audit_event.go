package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEvent is an immutable record of a blocked attempt or sensitive transition.
type AuditEvent struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	ProjectID    uint           `gorm:"index;not null" json:"project_id"`
	UserID       uint           `gorm:"index" json:"user_id"`
	EventType    string         `gorm:"size:100;index;not null" json:"event_type"`
	ResourceType string         `gorm:"size:50" json:"resource_type"`
	ResourceID   string         `gorm:"size:100" json:"resource_id"`
	Metadata     datatypes.JSON `json:"metadata"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
}

func (AuditEvent) TableName() string { return "audit_events" }
