package models

import "time"

// Issue severities
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// DiagnosticIssue is an outstanding content-quality finding produced by the
// crawler. Asset counts break the issue down by asset type; an issue with all
// counts zero applies to the store as a whole.
type DiagnosticIssue struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	ProjectID         uint      `gorm:"index;not null" json:"project_id"`
	IssueType         string    `gorm:"size:64;not null" json:"issue_type"`
	Severity          string    `gorm:"size:20;default:warning" json:"severity"`
	RecommendedAction string    `gorm:"size:64;index" json:"recommended_action"`
	ProductCount      int       `json:"product_count"`
	PageCount         int       `json:"page_count"`
	CollectionCount   int       `json:"collection_count"`
	ImpactRank        int       `gorm:"default:100" json:"impact_rank"` // 1 = highest impact
	Resolved          bool      `gorm:"index;default:false" json:"resolved"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (DiagnosticIssue) TableName() string { return "diagnostic_issues" }

// Share artifact kinds and statuses
const (
	ArtifactKindExport = "export"
	ArtifactKindShare  = "share"

	ArtifactActive  = "ACTIVE"
	ArtifactExpired = "EXPIRED"
	ArtifactRevoked = "REVOKED"
)

// ShareArtifact is an export file or share link generated for a remediation action.
type ShareArtifact struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	ProjectID         uint       `gorm:"index;not null" json:"project_id"`
	RecommendedAction string     `gorm:"size:64;index" json:"recommended_action"`
	Kind              string     `gorm:"size:20;not null" json:"kind"`
	Status            string     `gorm:"size:20;default:ACTIVE" json:"status"`
	URL               string     `gorm:"size:500" json:"url"`
	CreatedBy         uint       `json:"created_by"`
	ExpiresAt         *time.Time `json:"expires_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (ShareArtifact) TableName() string { return "share_artifacts" }
