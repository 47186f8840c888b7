package services

import (
	"context"
	"testing"

	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/services/access"
	"github.com/storepilot/backend/internal/testutil"
	"github.com/storepilot/backend/pkg/response"
)

func TestProjectService_CreateAddsOwnerMembership(t *testing.T) {
	db := testutil.NewDB(t)
	user := testutil.CreateUser(t, db, "alice", "pro")
	svc := NewProjectService(db, access.NewResolver(access.NewGormStore(db)))
	ctx := context.Background()

	project, err := svc.Create(ctx, &CreateProjectRequest{Name: "  Shop  ", Domain: "shop.example.com/"}, user.ID)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if project.Name != "Shop" || project.Domain != "shop.example.com" || project.Platform != "shopify" {
		t.Errorf("project = %+v", project)
	}
	if project.OwnerUserID == nil || *project.OwnerUserID != user.ID {
		t.Errorf("OwnerUserID = %v", project.OwnerUserID)
	}

	var member models.ProjectMember
	if err := db.Where("project_id = ? AND user_id = ?", project.ID, user.ID).First(&member).Error; err != nil {
		t.Fatalf("owner membership missing: %v", err)
	}
	if member.Role != models.ProjectRoleOwner {
		t.Errorf("member role = %q", member.Role)
	}

	detail, err := svc.GetByID(ctx, project.ID, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if detail.Access.Role != access.RoleOwner || !detail.Access.Capabilities.CanApply {
		t.Errorf("access = %+v", detail.Access)
	}
}

func TestProjectService_CreateValidation(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewProjectService(db, access.NewResolver(access.NewGormStore(db)))
	_, err := svc.Create(context.Background(), &CreateProjectRequest{Name: "   "}, 1)
	if !response.IsReason(err, response.ReasonValidationFailed) {
		t.Errorf("expected ValidationFailed, got %v", err)
	}
}

func TestProjectService_ListOnlyVisibleProjects(t *testing.T) {
	db := testutil.NewDB(t)
	alice := testutil.CreateUser(t, db, "alice", "pro")
	bob := testutil.CreateUser(t, db, "bob", "free")
	svc := NewProjectService(db, access.NewResolver(access.NewGormStore(db)))
	ctx := context.Background()

	own, _ := svc.Create(ctx, &CreateProjectRequest{Name: "own"}, alice.ID)
	shared := testutil.CreateProject(t, db, "shared", nil)
	testutil.AddMember(t, db, shared.ID, bob.ID, models.ProjectRoleOwner)
	testutil.AddMember(t, db, shared.ID, alice.ID, models.ProjectRoleViewer)
	legacy := testutil.CreateProject(t, db, "legacy", &alice.ID)
	// Alice's legacy reference no longer counts once the project has members.
	taken := testutil.CreateProject(t, db, "taken", &alice.ID)
	testutil.AddMember(t, db, taken.ID, bob.ID, models.ProjectRoleOwner)
	testutil.CreateProject(t, db, "other", &bob.ID)

	resp, err := svc.List(ctx, alice.ID, &ProjectListRequest{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if resp.Page != 1 || resp.PageSize != 10 {
		t.Errorf("paging defaults = %d/%d", resp.Page, resp.PageSize)
	}

	got := map[uint]bool{}
	for _, p := range resp.Items {
		got[p.ID] = true
	}
	for _, id := range []uint{own.ID, shared.ID, legacy.ID} {
		if !got[id] {
			t.Errorf("project %d missing from list", id)
		}
	}
	if resp.Total != 3 || got[taken.ID] {
		t.Errorf("Total = %d, items = %v", resp.Total, got)
	}

	filtered, err := svc.List(ctx, alice.ID, &ProjectListRequest{Name: "sha"})
	if err != nil {
		t.Fatal(err)
	}
	if filtered.Total != 1 || filtered.Items[0].ID != shared.ID {
		t.Errorf("filtered = %+v", filtered)
	}
}

func TestProjectService_GetByIDForbidden(t *testing.T) {
	db := testutil.NewDB(t)
	alice := testutil.CreateUser(t, db, "alice", "pro")
	mallory := testutil.CreateUser(t, db, "mallory", "pro")
	svc := NewProjectService(db, access.NewResolver(access.NewGormStore(db)))
	ctx := context.Background()

	project, _ := svc.Create(ctx, &CreateProjectRequest{Name: "shop"}, alice.ID)
	if _, err := svc.GetByID(ctx, project.ID, mallory.ID); !response.IsReason(err, response.ReasonForbidden) {
		t.Errorf("expected Forbidden, got %v", err)
	}
	if _, err := svc.GetByID(ctx, 404, alice.ID); !response.IsReason(err, response.ReasonNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}
