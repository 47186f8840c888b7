// Package playbook implements the estimate → preview → apply workflow for
// AI-assisted bulk metadata edits.
package playbook

import (
	"fmt"
	"strings"

	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/pkg/response"
)

// ID names a playbook.
type ID string

const (
	MissingSEOTitle       ID = "missing_seo_title"
	MissingSEODescription ID = "missing_seo_description"
)

// All lists every supported playbook.
var All = []ID{MissingSEOTitle, MissingSEODescription}

// Definition is the fixed description of one playbook: which records it
// targets and which field it writes.
type Definition struct {
	ID        ID     `json:"id"`
	Name      string `json:"name"`
	AssetType string `json:"asset_type"`
	// Field is the target_records column written on apply.
	Field string `json:"field"`
	// Action is the diagnostic recommended-action key this playbook resolves.
	Action string `json:"action"`
}

// Lookup returns the definition for id, or ValidationFailed.
func Lookup(id string) (*Definition, error) {
	switch ID(id) {
	case MissingSEOTitle:
		return &Definition{
			ID:        MissingSEOTitle,
			Name:      "Fill missing SEO titles",
			AssetType: models.AssetTypeProduct,
			Field:     "seo_title",
			Action:    "fix_missing_seo_title",
		}, nil
	case MissingSEODescription:
		return &Definition{
			ID:        MissingSEODescription,
			Name:      "Fill missing SEO descriptions",
			AssetType: models.AssetTypeProduct,
			Field:     "seo_description",
			Action:    "fix_missing_seo_description",
		}, nil
	default:
		return nil, response.NewValidationFailed(fmt.Sprintf("unsupported playbook %q", id))
	}
}

// ForAction maps a diagnostic recommended action to its playbook, if any.
func ForAction(action string) (*Definition, bool) {
	for _, id := range All {
		def, _ := Lookup(string(id))
		if def.Action == action {
			return def, true
		}
	}
	return nil, false
}

// predicate is the SQL condition selecting records the playbook would fix.
// Field is one of a fixed set of column names, never user input.
func (d *Definition) predicate() string {
	return fmt.Sprintf("(%s IS NULL OR TRIM(%s) = '')", d.Field, d.Field)
}

// Matches is the in-memory form of predicate.
func (d *Definition) Matches(r *models.TargetRecord) bool {
	if r.AssetType != d.AssetType {
		return false
	}
	var v *string
	switch d.ID {
	case MissingSEOTitle:
		v = r.SEOTitle
	case MissingSEODescription:
		v = r.SEODescription
	}
	return v == nil || strings.TrimSpace(*v) == ""
}

// pick selects the half of a suggestion this playbook writes.
func (d *Definition) pick(s *services.MetadataSuggestion) string {
	if s == nil {
		return ""
	}
	switch d.ID {
	case MissingSEOTitle:
		return s.Title
	case MissingSEODescription:
		return s.Description
	}
	return ""
}
