package workqueue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/internal/services/access"
	"github.com/storepilot/backend/internal/services/playbook"
	"github.com/storepilot/backend/pkg/logger"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var wlog = logger.Module("workqueue")

// PlaybookSource is the read side of the playbook engine.
type PlaybookSource interface {
	Estimate(ctx context.Context, projectID, userID uint, playbookID string) (*playbook.Estimate, error)
	GetLatestDraft(ctx context.Context, projectID, userID uint, playbookID string) (*playbook.DraftView, error)
	GetApprovalState(ctx context.Context, projectID, userID uint, playbookID, scopeID, rulesHash string) (*playbook.ApprovalState, error)
}

// WorkQueue is the response of GetWorkQueue.
type WorkQueue struct {
	ProjectID uint           `json:"project_id"`
	Viewer    Viewer         `json:"viewer"`
	Bundles   []*Bundle      `json:"bundles"`
	TabCounts map[string]int `json:"tab_counts"`
}

type Aggregator struct {
	db          *gorm.DB
	resolver    *access.Resolver
	playbooks   PlaybookSource
	concurrency int
	now         func() time.Time
}

func NewAggregator(db *gorm.DB, resolver *access.Resolver, playbooks PlaybookSource) *Aggregator {
	return &Aggregator{db: db, resolver: resolver, playbooks: playbooks, concurrency: 4, now: time.Now}
}

// group collects the issues of one (action, scope type) pair.
type group struct {
	action     string
	scope      ScopeType
	issues     []models.DiagnosticIssue
	assetCount int
}

// GetWorkQueue builds, annotates, filters and sorts the project's bundles.
func (a *Aggregator) GetWorkQueue(ctx context.Context, projectID, userID uint, f Filters) (*WorkQueue, error) {
	acc, err := a.resolver.AssertProjectAccess(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var issues []models.DiagnosticIssue
	if err := a.db.WithContext(ctx).
		Where("project_id = ? AND resolved = ?", projectID, false).
		Order("id ASC").
		Find(&issues).Error; err != nil {
		return nil, fmt.Errorf("load issues: %w", err)
	}
	artifacts, err := a.loadArtifacts(ctx, projectID)
	if err != nil {
		return nil, err
	}

	groups := groupIssues(issues)
	built := make([]*Bundle, len(groups))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, gr := range groups {
		i, gr := i, gr
		g.Go(func() error {
			b, err := a.buildBundle(ctx, projectID, userID, gr)
			if err != nil {
				services.WorkQueueBundlesDropped.Inc()
				wlog.Warn().Err(err).
					Uint("project_id", projectID).
					Str("action", gr.action).
					Str("scope", string(gr.scope)).
					Msg("Bundle dropped")
				return nil
			}
			built[i] = b
			return nil
		})
	}
	_ = g.Wait()

	viewer := Viewer{Role: acc.Role, Capabilities: acc.Capabilities}
	wq := &WorkQueue{
		ProjectID: projectID,
		Viewer:    viewer,
		Bundles:   []*Bundle{},
		TabCounts: map[string]int{},
	}
	for _, b := range built {
		if b == nil {
			continue
		}
		b.Artifacts = artifacts[b.RecommendedAction]
		if b.Artifacts == nil {
			b.Artifacts = []Artifact{}
		}
		b.Viewer = Viewer{Role: acc.Role, Capabilities: acc.Capabilities, Affordances: affordances(b, acc.Capabilities)}

		for _, tab := range []string{TabAll, TabCritical, TabNeedsAttention, TabPendingApproval, TabApplied} {
			if InTab(b, tab) {
				wq.TabCounts[tab]++
			}
		}
		if f.match(b) {
			wq.Bundles = append(wq.Bundles, b)
		}
	}
	Sort(wq.Bundles)
	return wq, nil
}

// groupIssues splits each issue across the asset types it counts. An issue
// with no breakdown at all lands in the STORE_WIDE bundle of its action.
func groupIssues(issues []models.DiagnosticIssue) []*group {
	byKey := map[string]*group{}
	var order []string
	add := func(action string, scope ScopeType, issue models.DiagnosticIssue, count int) {
		key := action + ":" + string(scope)
		gr, ok := byKey[key]
		if !ok {
			gr = &group{action: action, scope: scope}
			byKey[key] = gr
			order = append(order, key)
		}
		gr.issues = append(gr.issues, issue)
		gr.assetCount += count
	}

	for _, is := range issues {
		action := is.RecommendedAction
		if action == "" {
			action = is.IssueType
		}
		placed := false
		for _, part := range []struct {
			scope ScopeType
			count int
		}{
			{ScopeProducts, is.ProductCount},
			{ScopePages, is.PageCount},
			{ScopeCollections, is.CollectionCount},
		} {
			if part.count > 0 {
				add(action, part.scope, is, part.count)
				placed = true
			}
		}
		if !placed {
			add(action, ScopeStoreWide, is, 0)
		}
	}

	sort.Strings(order)
	out := make([]*group, len(order))
	for i, key := range order {
		out[i] = byKey[key]
	}
	return out
}

func (a *Aggregator) buildBundle(ctx context.Context, projectID, userID uint, gr *group) (*Bundle, error) {
	b := &Bundle{
		ID:                gr.action + ":" + string(gr.scope),
		Type:              TypeAssetOptimization,
		ScopeType:         gr.scope,
		RecommendedAction: gr.action,
		Health:            HealthHealthy,
		State:             StateNew,
		IssueCount:        len(gr.issues),
		ScopeCount:        gr.assetCount,
	}
	for i, is := range gr.issues {
		if h := healthForSeverity(is.Severity); healthRank(h) < healthRank(b.Health) {
			b.Health = h
		}
		if i == 0 || is.ImpactRank < b.ImpactRank {
			b.ImpactRank = is.ImpactRank
		}
		if is.UpdatedAt.After(b.UpdatedAt) {
			b.UpdatedAt = is.UpdatedAt
		}
	}
	if gr.scope == ScopeStoreWide {
		b.ScopeCount = len(gr.issues)
	}

	def, ok := playbook.ForAction(gr.action)
	if !ok || scopeForAsset(def.AssetType) != gr.scope {
		return b, nil
	}

	b.Type = TypeAutomationRun
	b.PlaybookID = string(def.ID)
	if err := a.attachPlaybookState(ctx, projectID, userID, b); err != nil {
		return nil, err
	}
	return b, nil
}

// attachPlaybookState derives the bundle state from the live scope, the
// newest draft and its approval request.
func (a *Aggregator) attachPlaybookState(ctx context.Context, projectID, userID uint, b *Bundle) error {
	est, err := a.playbooks.Estimate(ctx, projectID, userID, b.PlaybookID)
	if err != nil {
		return fmt.Errorf("estimate %s: %w", b.PlaybookID, err)
	}
	b.ScopeCount = est.AffectedCount

	draft, err := a.playbooks.GetLatestDraft(ctx, projectID, userID, b.PlaybookID)
	if err != nil {
		return fmt.Errorf("latest draft %s: %w", b.PlaybookID, err)
	}
	if draft == nil {
		return nil
	}

	b.Draft = &DraftSummary{
		ID:             draft.ID,
		Status:         draft.Status,
		ScopeID:        draft.ScopeID,
		RulesHash:      draft.RulesHash,
		AffectedTotal:  draft.AffectedTotal,
		DraftGenerated: draft.DraftGenerated,
		ExpiresAt:      draft.ExpiresAt,
		ScopeCurrent:   draft.ScopeID == est.ScopeID,
	}
	if draft.UpdatedAt.After(b.UpdatedAt) {
		b.UpdatedAt = draft.UpdatedAt
	}

	switch draft.Status {
	case models.DraftStatusApplied:
		// A sampled apply, or records that started matching since, leave
		// work behind; the applied draft is then only history.
		if draft.ScopeID == est.ScopeID || est.AffectedCount == 0 {
			b.State = StateApplied
		}
		return nil
	case models.DraftStatusReady:
		b.State = StateDraftsReady
	default:
		b.State = StatePreviewed
	}

	approval, err := a.playbooks.GetApprovalState(ctx, projectID, userID, b.PlaybookID, draft.ScopeID, draft.RulesHash)
	if err != nil {
		return fmt.Errorf("approval state %s: %w", b.PlaybookID, err)
	}
	if approval.Request == nil {
		return nil
	}
	b.Approval = &ApprovalSummary{
		ID:                  approval.Request.ID,
		Status:              approval.Status,
		RequestedBy:         approval.Request.RequestedBy,
		ViewerRequested:     approval.ViewerRequested,
		ViewerHoldsApproval: approval.ViewerHoldsApproval,
	}
	switch approval.Status {
	case models.ApprovalPending:
		b.State = StatePendingApproval
	case models.ApprovalApproved:
		b.State = StateApproved
	}
	return nil
}

// loadArtifacts returns the live artifacts of the project keyed by action.
func (a *Aggregator) loadArtifacts(ctx context.Context, projectID uint) (map[string][]Artifact, error) {
	var rows []models.ShareArtifact
	if err := a.db.WithContext(ctx).
		Where("project_id = ? AND status = ?", projectID, models.ArtifactActive).
		Order("created_at DESC, id DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}
	now := a.now()
	out := map[string][]Artifact{}
	for _, r := range rows {
		if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
			continue
		}
		out[r.RecommendedAction] = append(out[r.RecommendedAction], Artifact{
			ID:        r.ID,
			Kind:      r.Kind,
			URL:       r.URL,
			ExpiresAt: r.ExpiresAt,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}
