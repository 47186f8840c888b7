// Package workqueue projects outstanding diagnostics, playbook progress and
// share artifacts into the per-project list of remediation bundles.
package workqueue

import (
	"fmt"
	"sort"
	"time"

	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/services/access"
	"github.com/storepilot/backend/pkg/response"
)

type ScopeType string

const (
	ScopeProducts    ScopeType = "PRODUCTS"
	ScopePages       ScopeType = "PAGES"
	ScopeCollections ScopeType = "COLLECTIONS"
	ScopeStoreWide   ScopeType = "STORE_WIDE"
)

// scopeForAsset maps a target record asset type to its bundle scope.
func scopeForAsset(assetType string) ScopeType {
	switch assetType {
	case models.AssetTypeProduct:
		return ScopeProducts
	case models.AssetTypePage:
		return ScopePages
	case models.AssetTypeCollection:
		return ScopeCollections
	default:
		return ScopeStoreWide
	}
}

type BundleType string

const (
	TypeAssetOptimization BundleType = "ASSET_OPTIMIZATION"
	TypeAutomationRun     BundleType = "AUTOMATION_RUN"
)

type Health string

const (
	HealthCritical       Health = "CRITICAL"
	HealthNeedsAttention Health = "NEEDS_ATTENTION"
	HealthHealthy        Health = "HEALTHY"
)

func healthRank(h Health) int {
	switch h {
	case HealthCritical:
		return 0
	case HealthNeedsAttention:
		return 1
	default:
		return 2
	}
}

func healthForSeverity(severity string) Health {
	switch severity {
	case models.SeverityCritical:
		return HealthCritical
	case models.SeverityWarning:
		return HealthNeedsAttention
	default:
		return HealthHealthy
	}
}

type State string

const (
	StateNew             State = "NEW"
	StatePreviewed       State = "PREVIEWED"
	StateDraftsReady     State = "DRAFTS_READY"
	StatePendingApproval State = "PENDING_APPROVAL"
	StateApproved        State = "APPROVED"
	StateApplied         State = "APPLIED"
)

// Affordances the viewer may act on.
const (
	AffordancePreview         = "preview"
	AffordanceRequestApproval = "request_approval"
	AffordanceApprove         = "approve"
	AffordanceApply           = "apply"
	AffordanceExport          = "export"
)

type DraftSummary struct {
	ID             uint      `json:"id"`
	Status         string    `json:"status"`
	ScopeID        string    `json:"scope_id"`
	RulesHash      string    `json:"rules_hash"`
	AffectedTotal  int       `json:"affected_total"`
	DraftGenerated int       `json:"draft_generated"`
	ExpiresAt      time.Time `json:"expires_at"`
	// ScopeCurrent is false once the affected set moved on since the preview;
	// such a draft can no longer be applied.
	ScopeCurrent bool `json:"scope_current"`
}

type ApprovalSummary struct {
	ID                  uint   `json:"id"`
	Status              string `json:"status"`
	RequestedBy         uint   `json:"requested_by"`
	ViewerRequested     bool   `json:"viewer_requested"`
	ViewerHoldsApproval bool   `json:"viewer_holds_approval"`
}

type Artifact struct {
	ID        uint       `json:"id"`
	Kind      string     `json:"kind"`
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// Viewer is the presentation-only annotation for the requesting user.
type Viewer struct {
	Role         access.Role         `json:"role"`
	Capabilities access.Capabilities `json:"capabilities"`
	Affordances  []string            `json:"affordances"`
}

// Bundle is one remediation action over one scope type.
type Bundle struct {
	ID                string           `json:"id"`
	Type              BundleType       `json:"type"`
	ScopeType         ScopeType        `json:"scope_type"`
	RecommendedAction string           `json:"recommended_action"`
	PlaybookID        string           `json:"playbook_id,omitempty"`
	Health            Health           `json:"health"`
	State             State            `json:"state"`
	ScopeCount        int              `json:"scope_count"`
	IssueCount        int              `json:"issue_count"`
	ImpactRank        int              `json:"impact_rank"`
	UpdatedAt         time.Time        `json:"updated_at"`
	Draft             *DraftSummary    `json:"draft,omitempty"`
	Approval          *ApprovalSummary `json:"approval,omitempty"`
	Artifacts         []Artifact       `json:"artifacts"`
	Viewer            Viewer           `json:"viewer"`
}

// Tabs
const (
	TabAll             = "all"
	TabCritical        = "critical"
	TabNeedsAttention  = "needs_attention"
	TabPendingApproval = "pending_approval"
	TabApplied         = "applied"
)

// Filters narrow the returned bundles. Empty fields match everything.
type Filters struct {
	Tab               string `form:"tab"`
	Type              string `form:"type"`
	RecommendedAction string `form:"action"`
	ScopeType         string `form:"scope_type"`
}

// Validate rejects unknown tab, type and scope values.
func (f Filters) Validate() error {
	switch f.Tab {
	case "", TabAll, TabCritical, TabNeedsAttention, TabPendingApproval, TabApplied:
	default:
		return response.NewValidationFailed(fmt.Sprintf("unknown tab %q", f.Tab))
	}
	switch BundleType(f.Type) {
	case "", TypeAssetOptimization, TypeAutomationRun:
	default:
		return response.NewValidationFailed(fmt.Sprintf("unknown bundle type %q", f.Type))
	}
	switch ScopeType(f.ScopeType) {
	case "", ScopeProducts, ScopePages, ScopeCollections, ScopeStoreWide:
	default:
		return response.NewValidationFailed(fmt.Sprintf("unknown scope type %q", f.ScopeType))
	}
	return nil
}

// InTab reports whether b is listed under tab.
func InTab(b *Bundle, tab string) bool {
	switch tab {
	case "", TabAll:
		return true
	case TabCritical:
		return b.State != StateApplied && b.Health == HealthCritical
	case TabNeedsAttention:
		return b.State != StateApplied && b.Health == HealthNeedsAttention
	case TabPendingApproval:
		return b.State == StatePendingApproval
	case TabApplied:
		return b.State == StateApplied
	}
	return false
}

func (f Filters) match(b *Bundle) bool {
	if !InTab(b, f.Tab) {
		return false
	}
	if f.Type != "" && string(b.Type) != f.Type {
		return false
	}
	if f.RecommendedAction != "" && b.RecommendedAction != f.RecommendedAction {
		return false
	}
	if f.ScopeType != "" && string(b.ScopeType) != f.ScopeType {
		return false
	}
	return true
}

// Sort orders bundles: unapplied first, then health, impact rank, most
// recently updated, and finally id so equal bundles keep a stable order.
func Sort(bundles []*Bundle) {
	sort.SliceStable(bundles, func(i, j int) bool {
		a, b := bundles[i], bundles[j]
		if ai, bi := a.State == StateApplied, b.State == StateApplied; ai != bi {
			return !ai
		}
		if ah, bh := healthRank(a.Health), healthRank(b.Health); ah != bh {
			return ah < bh
		}
		if a.ImpactRank != b.ImpactRank {
			return a.ImpactRank < b.ImpactRank
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
}

// affordances lists what the viewer can do on b given their capabilities.
func affordances(b *Bundle, caps access.Capabilities) []string {
	out := []string{}
	if b.PlaybookID != "" && b.State != StateApplied {
		if caps.CanGenerateDrafts {
			out = append(out, AffordancePreview)
		}
		applicable := b.Draft != nil && b.Draft.ScopeCurrent && b.Draft.Status != models.DraftStatusApplied
		pending := b.Approval != nil && b.Approval.Status == models.ApprovalPending
		approved := b.Approval != nil && b.Approval.Status == models.ApprovalApproved
		if caps.CanRequestApproval && applicable && !pending && !approved {
			out = append(out, AffordanceRequestApproval)
		}
		if caps.CanApprove && pending {
			out = append(out, AffordanceApprove)
		}
		if caps.CanApply && applicable {
			out = append(out, AffordanceApply)
		}
	}
	if caps.CanExport {
		out = append(out, AffordanceExport)
	}
	return out
}
