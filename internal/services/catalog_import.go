package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/pkg/response"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogSnapshot is a crawler export for one project: the storefront assets
// and the currently outstanding diagnostics.
type CatalogSnapshot struct {
	Records []models.TargetRecord    `json:"records"`
	Issues  []models.DiagnosticIssue `json:"issues"`
}

type CatalogImportResult struct {
	RecordsUpserted int `json:"records_upserted"`
	IssuesResolved  int `json:"issues_resolved"`
	IssuesCreated   int `json:"issues_created"`
}

var validAssetTypes = map[string]bool{
	models.AssetTypeProduct:    true,
	models.AssetTypePage:       true,
	models.AssetTypeCollection: true,
}

// ImportCatalog upserts records by (project, asset type, external id) and
// replaces the project's unresolved issues with the snapshot's.
// Fields written by playbooks are only overwritten when the snapshot carries them.
func ImportCatalog(ctx context.Context, db *gorm.DB, projectID uint, snap *CatalogSnapshot) (*CatalogImportResult, error) {
	for i := range snap.Records {
		r := &snap.Records[i]
		if r.ExternalID == "" {
			return nil, response.NewValidationFailed(fmt.Sprintf("record %d: external_id is required", i))
		}
		if !validAssetTypes[r.AssetType] {
			return nil, response.NewValidationFailed(fmt.Sprintf("record %d: unknown asset_type %q", i, r.AssetType))
		}
	}
	for i := range snap.Issues {
		if snap.Issues[i].IssueType == "" {
			return nil, response.NewValidationFailed(fmt.Sprintf("issue %d: issue_type is required", i))
		}
	}

	var project models.Project
	if err := db.WithContext(ctx).First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("project not found")
		}
		return nil, err
	}

	result := &CatalogImportResult{}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range snap.Records {
			r := snap.Records[i]
			r.ID = 0
			r.ProjectID = projectID
			updates := []string{"handle", "title", "description", "updated_at"}
			if r.SEOTitle != nil {
				updates = append(updates, "seo_title")
			}
			if r.SEODescription != nil {
				updates = append(updates, "seo_description")
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "project_id"}, {Name: "asset_type"}, {Name: "external_id"}},
				DoUpdates: clause.AssignmentColumns(updates),
			}).Create(&r).Error
			if err != nil {
				return fmt.Errorf("upsert record %s/%s: %w", r.AssetType, r.ExternalID, err)
			}
			result.RecordsUpserted++
		}

		res := tx.Model(&models.DiagnosticIssue{}).
			Where("project_id = ? AND resolved = ?", projectID, false).
			Update("resolved", true)
		if res.Error != nil {
			return res.Error
		}
		result.IssuesResolved = int(res.RowsAffected)

		for i := range snap.Issues {
			issue := snap.Issues[i]
			issue.ID = 0
			issue.ProjectID = projectID
			issue.Resolved = false
			if issue.Severity == "" {
				issue.Severity = models.SeverityWarning
			}
			if issue.ImpactRank == 0 {
				issue.ImpactRank = 100
			}
			if err := tx.Create(&issue).Error; err != nil {
				return fmt.Errorf("create issue %s: %w", issue.IssueType, err)
			}
			result.IssuesCreated++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
