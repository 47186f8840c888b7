package playbook

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/storepilot/backend/internal/config"
	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/internal/services/access"
	"github.com/storepilot/backend/internal/services/safety"
	"github.com/storepilot/backend/internal/testutil"
	"github.com/storepilot/backend/pkg/response"
	"gorm.io/gorm"
)

type fakeGenerator struct {
	mu     sync.Mutex
	calls  int
	titles map[uint]string
	fail   map[uint]bool
}

func (g *fakeGenerator) GenerateMetadata(ctx context.Context, src *services.MetadataSource) (*services.MetadataSuggestion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.fail[src.TargetID] {
		return nil, errors.New("provider unavailable")
	}
	title, ok := g.titles[src.TargetID]
	if !ok {
		title = "AI " + src.Title
	}
	return &services.MetadataSuggestion{
		Title:            title,
		Description:      "AI description for " + src.Title,
		Provider:         "fake",
		Model:            "fake-1",
		PromptTokens:     10,
		CompletionTokens: 5,
	}, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type harness struct {
	db      *gorm.DB
	engine  *Engine
	gen     *fakeGenerator
	owner   *models.User
	project *models.Project
}

func newHarness(t *testing.T, plan string) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	owner := testutil.CreateUser(t, db, "owner", plan)
	project := testutil.CreateProject(t, db, "shop", &owner.ID)
	testutil.AddMember(t, db, project.ID, owner.ID, string(access.RoleOwner))

	resolver := access.NewResolver(access.NewGormStore(db))
	entitlements := services.NewEntitlementService(db, config.DefaultPlans())
	audit := services.NewAuditService(db)
	gen := &fakeGenerator{titles: map[uint]string{}, fail: map[uint]bool{}}

	engine := NewEngine(db, config.AutomationConfig{}, Dependencies{
		Resolver:     resolver,
		Entitlements: entitlements,
		Generator:    gen,
		Usage:        services.NewAIUsageService(db),
		Audit:        audit,
		Safety:       safety.NewEvaluator(resolver, entitlements, audit, safety.NewGormDraftLookup(db)),
	})
	return &harness{db: db, engine: engine, gen: gen, owner: owner, project: project}
}

func (h *harness) products(t *testing.T, n int) []*models.TargetRecord {
	t.Helper()
	var out []*models.TargetRecord
	for i := 0; i < n; i++ {
		out = append(out, testutil.CreateProduct(t, h.db, h.project.ID, "p"+string(rune('a'+i)), nil))
	}
	return out
}

func (h *harness) preview(t *testing.T, userID uint, rules *Rules) *DraftView {
	t.Helper()
	draft, err := h.engine.Preview(context.Background(), PreviewRequest{
		ProjectID:  h.project.ID,
		UserID:     userID,
		PlaybookID: string(MissingSEOTitle),
		Rules:      rules,
	})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	return draft
}

func (h *harness) applyReq(userID uint, d *DraftView) ApplyRequest {
	return ApplyRequest{
		ProjectID:     h.project.ID,
		UserID:        userID,
		PlaybookID:    string(MissingSEOTitle),
		ScopeID:       d.ScopeID,
		RulesHash:     d.RulesHash,
		UserConfirmed: true,
	}
}

func (h *harness) count(t *testing.T, model interface{}, where ...interface{}) int64 {
	t.Helper()
	var n int64
	q := h.db.Model(model)
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestEstimate_ReadOnlyAndStable(t *testing.T) {
	h := newHarness(t, "pro")
	h.products(t, 3)
	testutil.CreateProduct(t, h.db, h.project.ID, "titled", testutil.Ptr("Already set"))
	ctx := context.Background()

	first, err := h.engine.Estimate(ctx, h.project.ID, h.owner.ID, string(MissingSEOTitle))
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	second, err := h.engine.Estimate(ctx, h.project.ID, h.owner.ID, string(MissingSEOTitle))
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}

	if first.AffectedCount != 3 {
		t.Errorf("AffectedCount = %d, expected 3", first.AffectedCount)
	}
	if first.ScopeID != second.ScopeID {
		t.Error("repeated estimates over unchanged data should share a scope id")
	}
	if !first.Eligible || len(first.Reasons) != 0 {
		t.Errorf("Eligible = %v, reasons = %v", first.Eligible, first.Reasons)
	}
	if first.PlanID != "pro" || first.AILimit != 200 || first.AutomationDailyLimit != 20 {
		t.Errorf("plan facts = %+v", first)
	}
	if n := h.count(t, &models.AutomationDraft{}); n != 0 {
		t.Errorf("estimate created %d drafts", n)
	}
	if n := h.count(t, &models.AIUsageLog{}); n != 0 {
		t.Errorf("estimate recorded %d AI calls", n)
	}
	if h.gen.callCount() != 0 {
		t.Error("estimate must not call the AI")
	}
}

func TestEstimate_Reasons(t *testing.T) {
	t.Run("free plan", func(t *testing.T) {
		h := newHarness(t, "free")
		h.products(t, 1)
		est, err := h.engine.Estimate(context.Background(), h.project.ID, h.owner.ID, string(MissingSEOTitle))
		if err != nil {
			t.Fatalf("Estimate() error = %v", err)
		}
		if est.Eligible || est.Reasons[0] != ReasonPlanNotEligible {
			t.Errorf("estimate = %+v", est)
		}
	})

	t.Run("nothing affected", func(t *testing.T) {
		h := newHarness(t, "pro")
		est, err := h.engine.Estimate(context.Background(), h.project.ID, h.owner.ID, string(MissingSEOTitle))
		if err != nil {
			t.Fatalf("Estimate() error = %v", err)
		}
		if est.Eligible || len(est.Reasons) != 1 || est.Reasons[0] != ReasonNoAffectedProducts {
			t.Errorf("estimate = %+v", est)
		}
	})

	t.Run("quota used up", func(t *testing.T) {
		h := newHarness(t, "free")
		h.products(t, 1)
		seedUsage(t, h, 10)
		est, err := h.engine.Estimate(context.Background(), h.project.ID, h.owner.ID, string(MissingSEOTitle))
		if err != nil {
			t.Fatalf("Estimate() error = %v", err)
		}
		found := false
		for _, r := range est.Reasons {
			if r == ReasonAIDailyLimitReached {
				found = true
			}
		}
		if !found || est.AIUsed != 10 || est.AIRemaining != 0 {
			t.Errorf("estimate = %+v", est)
		}
	})

	t.Run("outsider", func(t *testing.T) {
		h := newHarness(t, "pro")
		stranger := testutil.CreateUser(t, h.db, "stranger", "pro")
		_, err := h.engine.Estimate(context.Background(), h.project.ID, stranger.ID, string(MissingSEOTitle))
		if !response.IsReason(err, response.ReasonForbidden) {
			t.Errorf("Estimate() error = %v, expected forbidden", err)
		}
	})
}

func seedUsage(t *testing.T, h *harness, n int) {
	t.Helper()
	pid := h.project.ID
	for i := 0; i < n; i++ {
		log := &models.AIUsageLog{UserID: h.owner.ID, ProjectID: &pid, Action: models.AIActionPlaybookPreview, Success: true}
		if err := h.db.Create(log).Error; err != nil {
			t.Fatalf("seed usage: %v", err)
		}
	}
}

func TestPreviewThenApply(t *testing.T) {
	h := newHarness(t, "pro")
	records := h.products(t, 3)
	ctx := context.Background()

	draft := h.preview(t, h.owner.ID, &Rules{Prefix: "Shop | "})
	if draft.Status != models.DraftStatusReady {
		t.Errorf("Status = %s, expected READY", draft.Status)
	}
	if draft.AffectedTotal != 3 || draft.DraftGenerated != 3 || len(draft.Items) != 3 {
		t.Fatalf("draft = %+v", draft)
	}
	for _, it := range draft.Items {
		if !strings.HasPrefix(it.FinalSuggestion, "Shop | AI ") {
			t.Errorf("FinalSuggestion = %q", it.FinalSuggestion)
		}
	}
	if n := h.count(t, &models.AIUsageLog{}); n != 3 {
		t.Errorf("usage rows = %d, expected one per AI call", n)
	}

	est, _ := h.engine.Estimate(ctx, h.project.ID, h.owner.ID, string(MissingSEOTitle))
	if est.ScopeID != draft.ScopeID {
		t.Error("preview scope should match the estimate scope")
	}

	res, err := h.engine.Apply(ctx, h.applyReq(h.owner.ID, draft))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.AttemptedCount != 3 || res.UpdatedCount != 3 || res.SkippedCount != 0 || res.FailedCount != 0 {
		t.Errorf("result = %+v", res)
	}
	if res.RunID == 0 {
		t.Error("apply should record a run")
	}

	for _, r := range records {
		var got models.TargetRecord
		h.db.First(&got, r.ID)
		if got.SEOTitle == nil || *got.SEOTitle != "Shop | AI "+r.Title {
			t.Errorf("record %d seo_title = %v", r.ID, got.SEOTitle)
		}
	}

	var stored models.AutomationDraft
	h.db.First(&stored, draft.ID)
	if stored.Status != models.DraftStatusApplied || stored.AppliedAt == nil {
		t.Errorf("draft after apply = %s, applied_at %v", stored.Status, stored.AppliedAt)
	}
	if n := h.count(t, &models.AuditEvent{}, "event_type = ?", services.AuditApplied); n != 1 {
		t.Errorf("applied audit events = %d", n)
	}

	after, _ := h.engine.Estimate(ctx, h.project.ID, h.owner.ID, string(MissingSEOTitle))
	if after.AffectedCount != 0 {
		t.Errorf("AffectedCount after apply = %d", after.AffectedCount)
	}

	if _, err := h.engine.Apply(ctx, h.applyReq(h.owner.ID, draft)); !response.IsReason(err, response.ReasonConflict) {
		t.Errorf("second Apply() error = %v, expected conflict", err)
	}
}

func TestApply_ScopeDrift(t *testing.T) {
	h := newHarness(t, "pro")
	h.products(t, 2)
	draft := h.preview(t, h.owner.ID, nil)

	late := testutil.CreateProduct(t, h.db, h.project.ID, "late", nil)

	_, err := h.engine.Apply(context.Background(), h.applyReq(h.owner.ID, draft))
	if !response.IsReason(err, response.ReasonConflict) || !strings.Contains(err.Error(), "regenerate") {
		t.Fatalf("Apply() error = %v, expected scope conflict", err)
	}

	var got models.TargetRecord
	h.db.First(&got, late.ID)
	if got.SEOTitle != nil {
		t.Error("record outside the previewed scope was written")
	}
	if n := h.count(t, &models.TargetRecord{}, "seo_title IS NOT NULL"); n != 0 {
		t.Errorf("%d records written after scope drift", n)
	}
}

func TestApply_RoleCheckedBeforeScopeConflict(t *testing.T) {
	h := newHarness(t, "pro")
	h.products(t, 2)
	viewer := testutil.CreateUser(t, h.db, "viewer", "pro")
	testutil.AddMember(t, h.db, h.project.ID, viewer.ID, string(access.RoleViewer))
	draft := h.preview(t, h.owner.ID, nil)
	testutil.CreateProduct(t, h.db, h.project.ID, "late", nil)

	_, err := h.engine.Apply(context.Background(), h.applyReq(viewer.ID, draft))
	var blocked *safety.BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("viewer Apply() error = %v, expected a safety block rather than a conflict", err)
	}
	if blocked.Primary.Check != safety.CheckRolePermission {
		t.Errorf("primary check = %s, expected ROLE_PERMISSION", blocked.Primary.Check)
	}
	scopeFailed := false
	for _, c := range blocked.Failed {
		scopeFailed = scopeFailed || c.Check == safety.CheckScopeBoundary
	}
	if !scopeFailed {
		t.Errorf("failed checks = %+v, expected the scope drift listed too", blocked.Failed)
	}
	if n := h.count(t, &models.AuditEvent{}, "event_type = ?", services.AuditApplyBlocked); n != 1 {
		t.Errorf("blocked audit events = %d, expected the attempt audited", n)
	}

	// An unknown key from a viewer is refused the same way.
	req := h.applyReq(viewer.ID, draft)
	req.RulesHash = "unknown"
	if _, err := h.engine.Apply(context.Background(), req); !response.IsReason(err, response.ReasonSafetyBlocked) {
		t.Errorf("viewer Apply() without a draft = %v, expected SAFETY_BLOCKED", err)
	}
}

func TestApply_CancelledMidwayStillRecordsTheApply(t *testing.T) {
	h := newHarness(t, "pro")
	h.products(t, 3)
	draft := h.preview(t, h.owner.ID, nil)
	h.engine.cfg.ApplyConcurrency = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var once sync.Once
	err := h.db.Callback().Update().After("gorm:commit_or_rollback_transaction").
		Register("test:cancel_after_first_record", func(tx *gorm.DB) {
			if tx.Statement.Table == "target_records" && tx.Error == nil {
				once.Do(cancel)
			}
		})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	res, err := h.engine.Apply(ctx, h.applyReq(h.owner.ID, draft))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.UpdatedCount != 1 || res.FailedCount != 2 {
		t.Errorf("result = updated %d failed %d, expected 1 and 2", res.UpdatedCount, res.FailedCount)
	}
	if n := h.count(t, &models.TargetRecord{}, "seo_title IS NOT NULL"); n != 1 {
		t.Errorf("records written = %d, expected 1", n)
	}

	var stored models.AutomationDraft
	h.db.First(&stored, draft.ID)
	if stored.Status != models.DraftStatusApplied {
		t.Errorf("draft status = %s, expected APPLIED so it cannot be applied again", stored.Status)
	}
	if n := h.count(t, &models.AutomationRun{}, "draft_id = ?", draft.ID); n != 1 {
		t.Errorf("runs = %d, expected the apply counted toward the daily limit", n)
	}
	if n := h.count(t, &models.AuditEvent{}, "event_type = ?", services.AuditApplied); n != 1 {
		t.Errorf("applied audit events = %d", n)
	}
	if n := h.count(t, &models.AutomationDraftItem{}, "draft_id = ? AND status = ?", draft.ID, models.DraftItemFailed); n != 2 {
		t.Errorf("failed item rows = %d, expected 2", n)
	}

	if _, err := h.engine.Apply(context.Background(), h.applyReq(h.owner.ID, draft)); err == nil {
		t.Error("a second apply of the same draft should be refused")
	}
}

func TestApply_SkipsEmptySuggestions(t *testing.T) {
	h := newHarness(t, "pro")
	records := h.products(t, 5)
	for _, r := range records[:3] {
		h.gen.titles[r.ID] = ""
	}

	draft := h.preview(t, h.owner.ID, &Rules{Suffix: " | Shop"})
	if draft.Status != models.DraftStatusPartial || draft.DraftGenerated != 2 || draft.NoSuggestionCount != 3 {
		t.Fatalf("draft = %s generated=%d none=%d", draft.Status, draft.DraftGenerated, draft.NoSuggestionCount)
	}

	res, err := h.engine.Apply(context.Background(), h.applyReq(h.owner.ID, draft))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.AttemptedCount != 5 || res.UpdatedCount != 2 || res.SkippedCount != 3 || res.FailedCount != 0 {
		t.Errorf("result = %+v", res)
	}
	for _, r := range records[:3] {
		var got models.TargetRecord
		h.db.First(&got, r.ID)
		if got.SEOTitle != nil {
			t.Errorf("skipped record %d was written: %q", r.ID, *got.SEOTitle)
		}
	}
	if n := h.count(t, &models.AutomationDraftItem{}, "status = ?", models.DraftItemSkipped); n != 3 {
		t.Errorf("skipped items = %d", n)
	}
}

func TestApply_RecordDeletedAfterPreviewFailsOnlyThatItem(t *testing.T) {
	h := newHarness(t, "pro")
	records := h.products(t, 3)
	draft := h.preview(t, h.owner.ID, nil)

	// The affected set is unchanged; only one item now points at a missing record.
	h.db.Model(&models.AutomationDraftItem{}).Where("target_id = ?", records[1].ID).Update("target_id", 99999)

	res, err := h.engine.Apply(context.Background(), h.applyReq(h.owner.ID, draft))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.UpdatedCount != 2 || res.FailedCount != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestPreview_QuotaExceededMakesNoAICall(t *testing.T) {
	h := newHarness(t, "free")
	h.products(t, 2)
	seedUsage(t, h, 10)

	_, err := h.engine.Preview(context.Background(), PreviewRequest{
		ProjectID:  h.project.ID,
		UserID:     h.owner.ID,
		PlaybookID: string(MissingSEOTitle),
	})
	var exceeded *services.QuotaExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("Preview() error = %v, expected quota exceeded", err)
	}
	if !response.IsReason(err, response.ReasonRateLimited) {
		t.Error("quota error should render as rate limited")
	}
	if h.gen.callCount() != 0 {
		t.Errorf("AI called %d times over quota", h.gen.callCount())
	}
	if n := h.count(t, &models.AutomationDraft{}); n != 0 {
		t.Errorf("drafts = %d", n)
	}
}

func TestPreview_SampleCappedByRemainingQuota(t *testing.T) {
	h := newHarness(t, "free")
	h.products(t, 5)
	seedUsage(t, h, 8)

	draft := h.preview(t, h.owner.ID, nil)
	if len(draft.Items) != 2 || h.gen.callCount() != 2 {
		t.Errorf("items = %d, calls = %d, expected 2", len(draft.Items), h.gen.callCount())
	}
	if draft.AffectedTotal != 5 || draft.Status != models.DraftStatusPartial {
		t.Errorf("draft = %s affected=%d", draft.Status, draft.AffectedTotal)
	}
}

func TestPreview_FailedCallLeavesEmptyItem(t *testing.T) {
	h := newHarness(t, "pro")
	records := h.products(t, 2)
	h.gen.fail[records[0].ID] = true

	draft := h.preview(t, h.owner.ID, nil)
	if draft.DraftGenerated != 1 || draft.NoSuggestionCount != 1 {
		t.Errorf("draft = %+v", draft)
	}
	if n := h.count(t, &models.AIUsageLog{}, "success = ?", false); n != 1 {
		t.Errorf("failed usage rows = %d, expected 1", n)
	}
}

func TestPreview_Validation(t *testing.T) {
	h := newHarness(t, "pro")
	h.products(t, 1)
	ctx := context.Background()

	tests := []struct {
		name   string
		req    PreviewRequest
		reason string
	}{
		{"unknown playbook", PreviewRequest{PlaybookID: "nope"}, response.ReasonValidationFailed},
		{"bad rules", PreviewRequest{PlaybookID: string(MissingSEOTitle), Rules: &Rules{MaxLength: -4}}, response.ReasonValidationFailed},
		{"negative sample", PreviewRequest{PlaybookID: string(MissingSEOTitle), SampleSize: -1}, response.ReasonValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.ProjectID = h.project.ID
			tt.req.UserID = h.owner.ID
			_, err := h.engine.Preview(ctx, tt.req)
			if !response.IsReason(err, tt.reason) {
				t.Errorf("Preview() error = %v, expected %s", err, tt.reason)
			}
		})
	}

	h.db.Model(&models.TargetRecord{}).Where("1 = 1").Update("seo_description", "set")
	_, err := h.engine.Preview(ctx, PreviewRequest{ProjectID: h.project.ID, UserID: h.owner.ID, PlaybookID: string(MissingSEODescription)})
	if !response.IsReason(err, response.ReasonConflict) {
		t.Errorf("Preview() with nothing affected = %v, expected conflict", err)
	}
}

func TestPreview_ExpiresDraftForSameKey(t *testing.T) {
	h := newHarness(t, "pro")
	h.products(t, 2)

	first := h.preview(t, h.owner.ID, &Rules{Prefix: "A "})
	second := h.preview(t, h.owner.ID, &Rules{Prefix: "A "})
	if first.ID == second.ID {
		t.Fatal("re-preview should create a fresh draft")
	}
	if first.RulesHash != second.RulesHash || first.ScopeID != second.ScopeID {
		t.Error("same inputs should produce the same key")
	}

	var old models.AutomationDraft
	h.db.First(&old, first.ID)
	if old.Status != models.DraftStatusExpired {
		t.Errorf("superseded draft status = %s, expected EXPIRED", old.Status)
	}
	if n := h.count(t, &models.AutomationDraft{}, "status <> ?", models.DraftStatusExpired); n != 1 {
		t.Errorf("live drafts = %d, expected 1", n)
	}
	if n := h.count(t, &models.AutomationDraftItem{}, "draft_id = ?", first.ID); n != 2 {
		t.Errorf("superseded items = %d, expected them kept", n)
	}

	other := h.preview(t, h.owner.ID, &Rules{Prefix: "B "})
	if other.RulesHash == first.RulesHash {
		t.Error("different rules should produce a different rules hash")
	}
	if n := h.count(t, &models.AutomationDraft{}, "status <> ?", models.DraftStatusExpired); n != 2 {
		t.Errorf("live drafts = %d, expected one per rules hash", n)
	}

	latest, err := h.engine.GetLatestDraft(context.Background(), h.project.ID, h.owner.ID, string(MissingSEOTitle))
	if err != nil || latest == nil || latest.ID != other.ID {
		t.Errorf("GetLatestDraft() = %v, %v", latest, err)
	}

	// The key now resolves to the newest draft, which applies normally.
	res, err := h.engine.Apply(context.Background(), h.applyReq(h.owner.ID, second))
	if err != nil || res.DraftID != second.ID {
		t.Errorf("Apply() = %+v, %v, expected draft %d applied", res, err, second.ID)
	}
}

func TestDraftExpiry(t *testing.T) {
	h := newHarness(t, "pro")
	h.products(t, 1)
	draft := h.preview(t, h.owner.ID, nil)
	ctx := context.Background()

	h.engine.SetClock(func() time.Time { return time.Now().Add(25 * time.Hour) })

	_, err := h.engine.Apply(ctx, h.applyReq(h.owner.ID, draft))
	if !response.IsReason(err, response.ReasonConflict) {
		t.Fatalf("Apply() error = %v, expected conflict for expired draft", err)
	}
	var stored models.AutomationDraft
	h.db.First(&stored, draft.ID)
	if stored.Status != models.DraftStatusExpired {
		t.Errorf("Status = %s, expected EXPIRED", stored.Status)
	}

	latest, err := h.engine.GetLatestDraft(ctx, h.project.ID, h.owner.ID, string(MissingSEOTitle))
	if err != nil || latest != nil {
		t.Errorf("GetLatestDraft() = %v, %v; expected nothing live", latest, err)
	}
}

func TestApply_SafetyRails(t *testing.T) {
	t.Run("unconfirmed", func(t *testing.T) {
		h := newHarness(t, "pro")
		h.products(t, 2)
		draft := h.preview(t, h.owner.ID, nil)

		req := h.applyReq(h.owner.ID, draft)
		req.UserConfirmed = false
		_, err := h.engine.Apply(context.Background(), req)

		var blocked *safety.BlockedError
		if !errors.As(err, &blocked) {
			t.Fatalf("Apply() error = %v, expected safety block", err)
		}
		if blocked.Primary.Check != safety.CheckIntentConfirmation {
			t.Errorf("primary check = %s", blocked.Primary.Check)
		}
		if !response.IsReason(err, response.ReasonSafetyBlocked) {
			t.Error("block should render as SAFETY_BLOCKED")
		}
		if n := h.count(t, &models.AuditEvent{}, "event_type = ?", services.AuditApplyBlocked); n != 1 {
			t.Errorf("blocked audit events = %d", n)
		}
		if n := h.count(t, &models.TargetRecord{}, "seo_title IS NOT NULL"); n != 0 {
			t.Error("blocked apply wrote records")
		}
		if n := h.count(t, &models.AutomationRun{}); n != 0 {
			t.Error("blocked apply recorded a run")
		}
	})

	t.Run("free plan", func(t *testing.T) {
		h := newHarness(t, "free")
		h.products(t, 1)
		draft := h.preview(t, h.owner.ID, nil)

		_, err := h.engine.Apply(context.Background(), h.applyReq(h.owner.ID, draft))
		var blocked *safety.BlockedError
		if !errors.As(err, &blocked) || blocked.Primary.Reason != safety.ReasonPlanNotEligible {
			t.Fatalf("Apply() error = %v, expected plan block", err)
		}
	})
}

func TestSafetyCheck_DoesNotEnforce(t *testing.T) {
	h := newHarness(t, "pro")
	h.products(t, 1)
	draft := h.preview(t, h.owner.ID, nil)

	req := h.applyReq(h.owner.ID, draft)
	req.UserConfirmed = false
	eval, err := h.engine.SafetyCheck(context.Background(), req)
	if err != nil {
		t.Fatalf("SafetyCheck() error = %v", err)
	}
	if eval.Status != safety.StatusBlocked || len(eval.Checks) != len(safety.Order) {
		t.Errorf("evaluation = %+v", eval)
	}
	if n := h.count(t, &models.AuditEvent{}, "event_type = ?", services.AuditApplyBlocked); n != 0 {
		t.Error("a dry-run check must not audit a block")
	}

	req.UserConfirmed = true
	eval, _ = h.engine.SafetyCheck(context.Background(), req)
	if eval.Status != safety.StatusPassed {
		t.Errorf("confirmed check = %+v", eval.Failed())
	}
}

func TestApprovalFlow(t *testing.T) {
	h := newHarness(t, "pro")
	h.products(t, 2)
	editor := testutil.CreateUser(t, h.db, "editor", "pro")
	viewer := testutil.CreateUser(t, h.db, "viewer", "pro")
	testutil.AddMember(t, h.db, h.project.ID, editor.ID, string(access.RoleEditor))
	testutil.AddMember(t, h.db, h.project.ID, viewer.ID, string(access.RoleViewer))
	ctx := context.Background()

	draft := h.preview(t, editor.ID, nil)
	in := ApprovalInput{
		ProjectID:  h.project.ID,
		PlaybookID: string(MissingSEOTitle),
		ScopeID:    draft.ScopeID,
		RulesHash:  draft.RulesHash,
	}

	// Editors may not apply directly.
	_, err := h.engine.Apply(ctx, h.applyReq(editor.ID, draft))
	var blocked *safety.BlockedError
	if !errors.As(err, &blocked) || blocked.Primary.Reason != safety.ReasonRoleForbidden {
		t.Fatalf("editor Apply() = %v, expected role block", err)
	}

	for _, u := range []*models.User{viewer, h.owner} {
		in.UserID = u.ID
		if _, err := h.engine.RequestApproval(ctx, in); !response.IsReason(err, response.ReasonForbidden) {
			t.Errorf("%s RequestApproval() = %v, expected forbidden", u.Username, err)
		}
	}

	in.UserID = editor.ID
	req, err := h.engine.RequestApproval(ctx, in)
	if err != nil {
		t.Fatalf("RequestApproval() error = %v", err)
	}
	again, err := h.engine.RequestApproval(ctx, in)
	if err != nil || again.ID != req.ID {
		t.Errorf("repeat RequestApproval() = %v, %v; expected the pending request", again, err)
	}

	state, _ := h.engine.GetApprovalState(ctx, h.project.ID, editor.ID, string(MissingSEOTitle), draft.ScopeID, draft.RulesHash)
	if state.Status != models.ApprovalPending || !state.ViewerRequested || state.ViewerHoldsApproval {
		t.Errorf("editor state = %+v", state)
	}

	if _, err := h.engine.Approve(ctx, h.project.ID, req.ID, editor.ID, ""); !response.IsReason(err, response.ReasonForbidden) {
		t.Errorf("editor Approve() = %v, expected forbidden", err)
	}
	approved, err := h.engine.Approve(ctx, h.project.ID, req.ID, h.owner.ID, "looks good")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if approved.Status != models.ApprovalApproved || approved.DecidedBy == nil || *approved.DecidedBy != h.owner.ID {
		t.Errorf("approved = %+v", approved)
	}
	if _, err := h.engine.Reject(ctx, h.project.ID, req.ID, h.owner.ID, ""); !response.IsReason(err, response.ReasonConflict) {
		t.Errorf("deciding twice = %v, expected conflict", err)
	}

	state, _ = h.engine.GetApprovalState(ctx, h.project.ID, h.owner.ID, string(MissingSEOTitle), draft.ScopeID, draft.RulesHash)
	if !state.ViewerHoldsApproval {
		t.Errorf("owner state = %+v", state)
	}

	if _, err := h.engine.Apply(ctx, h.applyReq(h.owner.ID, draft)); err != nil {
		t.Fatalf("owner Apply() error = %v", err)
	}
	state, _ = h.engine.GetApprovalState(ctx, h.project.ID, h.owner.ID, string(MissingSEOTitle), draft.ScopeID, draft.RulesHash)
	if state.Status != models.ApprovalConsumed {
		t.Errorf("state after apply = %s, expected CONSUMED", state.Status)
	}

	if n := h.count(t, &models.AuditEvent{}, "event_type IN ?", []string{services.AuditApprovalRequested, services.AuditApprovalDecided}); n != 2 {
		t.Errorf("approval audit events = %d, expected 2", n)
	}

	list, err := h.engine.ListApprovals(ctx, h.project.ID, viewer.ID, "")
	if err != nil || len(list) != 1 {
		t.Errorf("ListApprovals() = %d, %v", len(list), err)
	}
}

func TestApproval_NeedsLiveDraft(t *testing.T) {
	h := newHarness(t, "pro")
	editor := testutil.CreateUser(t, h.db, "editor", "pro")
	testutil.AddMember(t, h.db, h.project.ID, editor.ID, string(access.RoleEditor))

	_, err := h.engine.RequestApproval(context.Background(), ApprovalInput{
		ProjectID:  h.project.ID,
		UserID:     editor.ID,
		PlaybookID: string(MissingSEOTitle),
		ScopeID:    "unknown",
		RulesHash:  "unknown",
	})
	if !response.IsReason(err, response.ReasonConflict) {
		t.Errorf("RequestApproval() = %v, expected conflict", err)
	}
}

func TestProcessAutomationTask(t *testing.T) {
	h := newHarness(t, "pro")
	h.products(t, 2)
	ctx := context.Background()

	queue := services.NewSyncQueue()
	queue.SetProcessor(h.engine.ProcessAutomationTask)

	if _, err := h.engine.EnqueuePreview(ctx, queue, PreviewRequest{
		ProjectID:  h.project.ID,
		UserID:     h.owner.ID,
		PlaybookID: string(MissingSEOTitle),
		Rules:      &Rules{Suffix: " | Shop"},
	}); err != nil {
		t.Fatalf("EnqueuePreview() error = %v", err)
	}
	queue.Wait()

	draft, err := h.engine.GetLatestDraft(ctx, h.project.ID, h.owner.ID, string(MissingSEOTitle))
	if err != nil || draft == nil {
		t.Fatalf("GetLatestDraft() = %v, %v", draft, err)
	}
	if draft.Rules.Suffix != " | Shop" {
		t.Errorf("rules = %+v", draft.Rules)
	}

	if _, err := h.engine.EnqueueApply(ctx, queue, h.applyReq(h.owner.ID, draft)); err != nil {
		t.Fatalf("EnqueueApply() error = %v", err)
	}
	queue.Wait()

	var run models.AutomationRun
	if err := h.db.First(&run).Error; err != nil {
		t.Fatalf("no run recorded: %v", err)
	}
	if run.Trigger != models.TriggerAsync || run.UpdatedCount != 2 {
		t.Errorf("run = %+v", run)
	}

	bad := []*services.AutomationTask{
		{ID: "t1", Kind: "reindex"},
		{ID: "t2", Kind: services.TaskKindApply, ProjectID: h.project.ID, UserID: h.owner.ID, PlaybookID: string(MissingSEOTitle)},
		{ID: "t3", Kind: services.TaskKindPreview, Rules: []byte("{not json")},
	}
	for _, task := range bad {
		if err := h.engine.ProcessAutomationTask(ctx, task); err == nil {
			t.Errorf("task %s: expected an error", task.ID)
		}
	}
}

func TestEnqueue_ChecksAccessFirst(t *testing.T) {
	h := newHarness(t, "pro")
	viewer := testutil.CreateUser(t, h.db, "viewer", "pro")
	testutil.AddMember(t, h.db, h.project.ID, viewer.ID, string(access.RoleViewer))
	queue := services.NewSyncQueue()

	_, err := h.engine.EnqueuePreview(context.Background(), queue, PreviewRequest{
		ProjectID:  h.project.ID,
		UserID:     viewer.ID,
		PlaybookID: string(MissingSEOTitle),
	})
	if !response.IsReason(err, response.ReasonForbidden) {
		t.Errorf("EnqueuePreview() = %v, expected forbidden", err)
	}
}
