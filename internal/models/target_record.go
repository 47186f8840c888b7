package models

import "time"

// Asset types
const (
	AssetTypeProduct    = "product"
	AssetTypePage       = "page"
	AssetTypeCollection = "collection"
)

// TargetRecord is a storefront asset whose metadata fields playbooks may write.
// Nil pointer fields mean the storefront never provided a value.
type TargetRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ProjectID      uint      `gorm:"uniqueIndex:idx_target_external;index;not null" json:"project_id"`
	AssetType      string    `gorm:"uniqueIndex:idx_target_external;size:20;not null" json:"asset_type"`
	ExternalID     string    `gorm:"uniqueIndex:idx_target_external;size:100;not null" json:"external_id"`
	Handle         string    `gorm:"size:255" json:"handle"`
	Title          string    `gorm:"size:500" json:"title"`
	Description    string    `gorm:"type:text" json:"description"`
	SEOTitle       *string   `gorm:"column:seo_title;size:500" json:"seo_title"`
	SEODescription *string   `gorm:"column:seo_description;type:text" json:"seo_description"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (TargetRecord) TableName() string { return "target_records" }
