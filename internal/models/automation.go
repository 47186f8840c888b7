package models

import "time"

// Draft statuses
const (
	DraftStatusPending = "PENDING"
	DraftStatusPartial = "PARTIAL"
	DraftStatusReady   = "READY"
	DraftStatusApplied = "APPLIED"
	DraftStatusExpired = "EXPIRED"
)

// Draft item statuses
const (
	DraftItemPending = "PENDING"
	DraftItemApplied = "APPLIED"
	DraftItemSkipped = "SKIPPED"
	DraftItemFailed  = "FAILED"
)

// AutomationDraft is a previewed set of suggested field changes for one scope.
type AutomationDraft struct {
	ID                uint                  `gorm:"primaryKey" json:"id"`
	ProjectID         uint                  `gorm:"index:idx_draft_key;not null" json:"project_id"`
	PlaybookID        string                `gorm:"index:idx_draft_key;size:64;not null" json:"playbook_id"`
	ScopeID           string                `gorm:"index:idx_draft_key;size:64;not null" json:"scope_id"`
	RulesHash         string                `gorm:"index:idx_draft_key;size:64;not null" json:"rules_hash"`
	Rules             string                `gorm:"type:text" json:"rules"` // canonical JSON
	Status            string                `gorm:"size:20;index;default:PENDING" json:"status"`
	AffectedTotal     int                   `json:"affected_total"`
	DraftGenerated    int                   `json:"draft_generated"`
	NoSuggestionCount int                   `json:"no_suggestion_count"`
	ExpiresAt         time.Time             `gorm:"index" json:"expires_at"`
	AppliedAt         *time.Time            `json:"applied_at"`
	CreatedBy         uint                  `json:"created_by"`
	Items             []AutomationDraftItem `gorm:"foreignKey:DraftID" json:"items,omitempty"`
	CreatedAt         time.Time             `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

func (AutomationDraft) TableName() string { return "automation_drafts" }

// IsExpired reports whether an unapplied draft is past its expiry.
func (d *AutomationDraft) IsExpired(now time.Time) bool {
	if d.Status == DraftStatusExpired {
		return true
	}
	return d.Status != DraftStatusApplied && !d.ExpiresAt.IsZero() && now.After(d.ExpiresAt)
}

// AutomationDraftItem is one proposed change, applied or skipped independently.
type AutomationDraftItem struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	DraftID         uint      `gorm:"index;not null" json:"draft_id"`
	TargetID        uint      `gorm:"index;not null" json:"target_id"`
	Field           string    `gorm:"size:50;not null" json:"field"`
	RawSuggestion   string    `gorm:"type:text" json:"raw_suggestion"`
	FinalSuggestion string    `gorm:"type:text" json:"final_suggestion"`
	Warnings        []string  `gorm:"serializer:json;type:text" json:"warnings,omitempty"`
	Status          string    `gorm:"size:20;default:PENDING" json:"status"`
	Error           string    `gorm:"size:500" json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (AutomationDraftItem) TableName() string { return "automation_draft_items" }

// Automation triggers
const (
	TriggerSync  = "sync"
	TriggerAsync = "async"
)

// AutomationRun records one apply that passed the safety rails. Rows created
// today per user back the plan-scoped daily automation counter.
type AutomationRun struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ProjectID      uint      `gorm:"index;not null" json:"project_id"`
	UserID         uint      `gorm:"index;not null" json:"user_id"`
	PlaybookID     string    `gorm:"size:64;index" json:"playbook_id"`
	DraftID        uint      `gorm:"index" json:"draft_id"`
	ScopeID        string    `gorm:"size:64" json:"scope_id"`
	RulesHash      string    `gorm:"size:64" json:"rules_hash"`
	Trigger        string    `gorm:"size:20;default:sync" json:"trigger"`
	AttemptedCount int       `json:"attempted_count"`
	UpdatedCount   int       `json:"updated_count"`
	SkippedCount   int       `json:"skipped_count"`
	FailedCount    int       `json:"failed_count"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

func (AutomationRun) TableName() string { return "automation_runs" }

// Approval statuses
const (
	ApprovalPending  = "PENDING"
	ApprovalApproved = "APPROVED"
	ApprovalRejected = "REJECTED"
	ApprovalConsumed = "CONSUMED"
)

// ApprovalRequest asks an owner to apply a specific previewed scope.
type ApprovalRequest struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ProjectID   uint       `gorm:"index:idx_approval_key;not null" json:"project_id"`
	PlaybookID  string     `gorm:"index:idx_approval_key;size:64;not null" json:"playbook_id"`
	ScopeID     string     `gorm:"index:idx_approval_key;size:64;not null" json:"scope_id"`
	RulesHash   string     `gorm:"index:idx_approval_key;size:64;not null" json:"rules_hash"`
	RequestedBy uint       `gorm:"index" json:"requested_by"`
	Status      string     `gorm:"size:20;default:PENDING" json:"status"`
	DecidedBy   *uint      `json:"decided_by"`
	DecidedAt   *time.Time `json:"decided_at"`
	Note        string     `gorm:"size:500" json:"note"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (ApprovalRequest) TableName() string { return "approval_requests" }
