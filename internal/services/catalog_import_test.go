package services

import (
	"context"
	"testing"

	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/testutil"
	"github.com/storepilot/backend/pkg/response"
)

func TestImportCatalog(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	project := testutil.CreateProject(t, db, "shop", nil)
	testutil.CreateProduct(t, db, project.ID, "p1", testutil.Ptr("Applied title"))
	db.Create(&models.DiagnosticIssue{ProjectID: project.ID, IssueType: "old_issue"})

	snap := &CatalogSnapshot{
		Records: []models.TargetRecord{
			{AssetType: models.AssetTypeProduct, ExternalID: "p1", Title: "Renamed"},
			{AssetType: models.AssetTypePage, ExternalID: "about", Title: "About"},
		},
		Issues: []models.DiagnosticIssue{
			{IssueType: "missing_seo_title", Severity: models.SeverityCritical, RecommendedAction: "fix_missing_seo_title", ProductCount: 1},
		},
	}
	res, err := ImportCatalog(ctx, db, project.ID, snap)
	if err != nil {
		t.Fatalf("ImportCatalog: %v", err)
	}
	if res.RecordsUpserted != 2 || res.IssuesResolved != 1 || res.IssuesCreated != 1 {
		t.Errorf("result = %+v", res)
	}

	var p1 models.TargetRecord
	db.Where("project_id = ? AND external_id = ?", project.ID, "p1").First(&p1)
	if p1.Title != "Renamed" {
		t.Errorf("title = %q, want Renamed", p1.Title)
	}
	if p1.SEOTitle == nil || *p1.SEOTitle != "Applied title" {
		t.Errorf("seo_title should be kept when the snapshot omits it, got %v", p1.SEOTitle)
	}

	var count int64
	db.Model(&models.TargetRecord{}).Where("project_id = ?", project.ID).Count(&count)
	if count != 2 {
		t.Errorf("record count = %d, want 2", count)
	}

	var open []models.DiagnosticIssue
	db.Where("project_id = ? AND resolved = ?", project.ID, false).Find(&open)
	if len(open) != 1 || open[0].IssueType != "missing_seo_title" || open[0].ImpactRank != 100 {
		t.Errorf("open issues = %+v", open)
	}
}

func TestImportCatalog_Rejects(t *testing.T) {
	db := testutil.NewDB(t)
	project := testutil.CreateProject(t, db, "shop", nil)

	tests := []struct {
		name      string
		projectID uint
		snap      *CatalogSnapshot
		reason    string
	}{
		{"missing external id", project.ID, &CatalogSnapshot{Records: []models.TargetRecord{{AssetType: models.AssetTypeProduct}}}, response.ReasonValidationFailed},
		{"bad asset type", project.ID, &CatalogSnapshot{Records: []models.TargetRecord{{AssetType: "blog", ExternalID: "x"}}}, response.ReasonValidationFailed},
		{"issue without type", project.ID, &CatalogSnapshot{Issues: []models.DiagnosticIssue{{}}}, response.ReasonValidationFailed},
		{"unknown project", project.ID + 99, &CatalogSnapshot{}, response.ReasonNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ImportCatalog(context.Background(), db, tt.projectID, tt.snap)
			if !response.IsReason(err, tt.reason) {
				t.Errorf("err = %v, want reason %s", err, tt.reason)
			}
		})
	}
}
