package playbook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/storepilot/backend/pkg/response"
)

const (
	maxAffixLength = 255
	maxRuleLength  = 5000
)

// Rules post-process every AI suggestion: prefix, then suffix, then truncate.
// MaxLength 0 means no limit.
type Rules struct {
	Prefix    string `json:"prefix"`
	Suffix    string `json:"suffix"`
	MaxLength int    `json:"max_length"`
}

// Normalize returns the canonical form of r; nil becomes the zero rules.
func Normalize(r *Rules) Rules {
	if r == nil {
		return Rules{}
	}
	out := *r
	if strings.TrimSpace(out.Prefix) == "" {
		out.Prefix = ""
	}
	if strings.TrimSpace(out.Suffix) == "" {
		out.Suffix = ""
	}
	return out
}

// Validate rejects malformed rule sets.
func (r Rules) Validate() error {
	if r.MaxLength < 0 || r.MaxLength > maxRuleLength {
		return response.NewValidationFailed(fmt.Sprintf("max_length must be between 0 and %d", maxRuleLength))
	}
	if utf8.RuneCountInString(r.Prefix) > maxAffixLength || utf8.RuneCountInString(r.Suffix) > maxAffixLength {
		return response.NewValidationFailed(fmt.Sprintf("prefix and suffix are limited to %d characters", maxAffixLength))
	}
	return nil
}

// Warnings attached to draft items.
const (
	WarningTruncated    = "truncated_to_max_length"
	WarningAffixDropped = "affix_truncated"
	WarningNoSuggestion = "no_suggestion"
)

// Apply post-processes a raw suggestion. An empty raw suggestion stays empty
// so the item is skipped on apply. Truncation counts characters, not bytes,
// and happens after the affixes are added.
func (r Rules) Apply(raw string) (string, []string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", []string{WarningNoSuggestion}
	}

	out := r.Prefix + raw + r.Suffix
	var warnings []string
	if r.MaxLength > 0 && utf8.RuneCountInString(out) > r.MaxLength {
		runes := []rune(out)
		out = string(runes[:r.MaxLength])
		warnings = append(warnings, WarningTruncated)
		if r.Suffix != "" || utf8.RuneCountInString(r.Prefix) > r.MaxLength {
			warnings = append(warnings, WarningAffixDropped)
		}
	}
	return out, warnings
}

// ComputeRulesHash fingerprints the normalized rules as hex SHA-256 over their
// JSON encoding. Struct field order makes the encoding canonical.
func ComputeRulesHash(r *Rules) string {
	n := Normalize(r)
	b, _ := json.Marshal(n)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ComputeScopeID fingerprints the exact affected-record set. The ids are
// sorted first, so input order does not matter.
func ComputeScopeID(projectID uint, playbookID string, ids []uint) string {
	sorted := append([]uint(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	payload := fmt.Sprintf("%d|%s|%s", projectID, playbookID, strings.Join(parts, ","))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
