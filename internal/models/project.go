package models

import (
	"time"

	"gorm.io/gorm"
)

// Project represents a connected storefront
type Project struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"size:200;not null" json:"name"`
	Domain   string `gorm:"size:255" json:"domain"`
	Platform string `gorm:"size:50;default:shopify" json:"platform"` // shopify, woocommerce, custom
	// OwnerUserID is the legacy ownership reference, consulted only when the
	// project has no membership rows at all.
	OwnerUserID *uint          `gorm:"index" json:"owner_user_id"`
	CreatedBy   uint           `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Project) TableName() string { return "projects" }
