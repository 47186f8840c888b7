// Package safety evaluates the ordered safety rails that must all pass before
// an automation is applied to live records.
package safety

import (
	"fmt"
	"time"

	"github.com/storepilot/backend/internal/config"
	"github.com/storepilot/backend/internal/models"
)

// Check names one safety rail.
type Check string

const (
	CheckEntitlement        Check = "ENTITLEMENT"
	CheckRolePermission     Check = "ROLE_PERMISSION"
	CheckScopeBoundary      Check = "SCOPE_BOUNDARY"
	CheckIntentConfirmation Check = "INTENT_CONFIRMATION"
	CheckGuardConditions    Check = "GUARD_CONDITIONS"
	CheckRateLimit          Check = "RATE_LIMIT"
)

// Order is the fixed evaluation order; the first failure in it is the primary reason.
var Order = []Check{
	CheckEntitlement,
	CheckRolePermission,
	CheckScopeBoundary,
	CheckIntentConfirmation,
	CheckGuardConditions,
	CheckRateLimit,
}

// Reason codes carried by failed checks.
const (
	ReasonPlanNotEligible      = "PLAN_NOT_ELIGIBLE"
	ReasonRoleForbidden        = "ROLE_FORBIDDEN"
	ReasonScopeExceeded        = "SCOPE_EXCEEDED"
	ReasonConfirmationRequired = "CONFIRMATION_REQUIRED"
	ReasonDraftNotFound        = "DRAFT_NOT_FOUND"
	ReasonDraftProjectMismatch = "DRAFT_PROJECT_MISMATCH"
	ReasonDraftAlreadyApplied  = "DRAFT_ALREADY_APPLIED"
	ReasonDraftExpired         = "DRAFT_EXPIRED"
	ReasonDraftScopeMismatch   = "DRAFT_SCOPE_MISMATCH"
	ReasonDailyLimitReached    = "DAILY_LIMIT_REACHED"
)

type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusBlocked Status = "BLOCKED"
)

// Context is what the caller declares about an apply attempt.
type Context struct {
	ProjectID       uint   `json:"project_id"`
	UserID          uint   `json:"user_id"`
	PlaybookID      string `json:"playbook_id"`
	DeclaredScopeID string `json:"declared_scope_id"`
	CurrentScopeID  string `json:"current_scope_id"`
	// UserConfirmed must come from an explicit request field, never be derived.
	UserConfirmed bool   `json:"user_confirmed"`
	DraftID       *uint  `json:"draft_id,omitempty"`
	Trigger       string `json:"trigger"`
}

// DraftFacts is the stored state of the referenced draft.
type DraftFacts struct {
	Found     bool
	ProjectID uint
	ScopeID   string
	Status    string
	ExpiresAt time.Time
}

// Facts is everything Judge needs, gathered up front so judging does no I/O.
type Facts struct {
	Context
	PlanID          string
	PlanAllowsApply bool
	Role            string
	CanApply        bool
	Draft           *DraftFacts // nil when Context.DraftID is nil
	DailyApplyCount int
	DailyApplyLimit int // config.Unlimited never blocks
	Now             time.Time
}

// CheckResult is the outcome of one rail.
type CheckResult struct {
	Check   Check  `json:"check"`
	Passed  bool   `json:"passed"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

// Evaluation is the full report over every rail.
type Evaluation struct {
	Status Status        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Failed returns the failed checks in evaluation order.
func (e *Evaluation) Failed() []CheckResult {
	var failed []CheckResult
	for _, c := range e.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// Primary returns the first failed check, or nil if everything passed.
func (e *Evaluation) Primary() *CheckResult {
	for i := range e.Checks {
		if !e.Checks[i].Passed {
			return &e.Checks[i]
		}
	}
	return nil
}

// Judge runs every rail against f without short-circuiting.
func Judge(f Facts) *Evaluation {
	eval := &Evaluation{Status: StatusPassed, Checks: make([]CheckResult, 0, len(Order))}
	for _, check := range Order {
		result := judgeOne(check, f)
		if !result.Passed {
			eval.Status = StatusBlocked
		}
		eval.Checks = append(eval.Checks, result)
	}
	return eval
}

func judgeOne(check Check, f Facts) CheckResult {
	switch check {
	case CheckEntitlement:
		if !f.PlanAllowsApply {
			return fail(check, ReasonPlanNotEligible, fmt.Sprintf("plan %q does not allow automated apply", f.PlanID))
		}
		return pass(check, "plan allows automated apply")

	case CheckRolePermission:
		if !f.CanApply {
			role := f.Role
			if role == "" {
				role = "none"
			}
			return fail(check, ReasonRoleForbidden, fmt.Sprintf("role %s cannot apply automations on this project", role))
		}
		return pass(check, "role can apply")

	case CheckScopeBoundary:
		if f.DeclaredScopeID == "" || f.DeclaredScopeID != f.CurrentScopeID {
			return fail(check, ReasonScopeExceeded, "scope changed since preview; regenerate")
		}
		return pass(check, "scope matches preview")

	case CheckIntentConfirmation:
		if !f.UserConfirmed {
			return fail(check, ReasonConfirmationRequired, "apply must be explicitly confirmed")
		}
		return pass(check, "apply confirmed")

	case CheckGuardConditions:
		return judgeDraft(f)

	case CheckRateLimit:
		if f.DailyApplyLimit != config.Unlimited && f.DailyApplyCount >= f.DailyApplyLimit {
			return fail(check, ReasonDailyLimitReached,
				fmt.Sprintf("daily automation limit reached for plan %s (%d/%d)", f.PlanID, f.DailyApplyCount, f.DailyApplyLimit))
		}
		return pass(check, "within daily automation limit")

	default:
		return fail(check, "UNKNOWN_CHECK", fmt.Sprintf("unknown safety check %s", check))
	}
}

func judgeDraft(f Facts) CheckResult {
	check := CheckGuardConditions
	if f.DraftID == nil {
		return pass(check, "no draft referenced")
	}
	d := f.Draft
	switch {
	case d == nil || !d.Found:
		return fail(check, ReasonDraftNotFound, fmt.Sprintf("draft %d does not exist", *f.DraftID))
	case d.ProjectID != f.ProjectID:
		return fail(check, ReasonDraftProjectMismatch, fmt.Sprintf("draft %d belongs to another project", *f.DraftID))
	case d.Status == models.DraftStatusApplied:
		return fail(check, ReasonDraftAlreadyApplied, fmt.Sprintf("draft %d was already applied", *f.DraftID))
	case d.Status == models.DraftStatusExpired || (!d.ExpiresAt.IsZero() && f.Now.After(d.ExpiresAt)):
		return fail(check, ReasonDraftExpired, fmt.Sprintf("draft %d expired; regenerate", *f.DraftID))
	case d.ScopeID != f.DeclaredScopeID:
		return fail(check, ReasonDraftScopeMismatch, fmt.Sprintf("draft %d was generated for a different scope", *f.DraftID))
	}
	return pass(check, "draft is applicable")
}

func pass(check Check, msg string) CheckResult {
	return CheckResult{Check: check, Passed: true, Message: msg}
}

func fail(check Check, reason, msg string) CheckResult {
	return CheckResult{Check: check, Passed: false, Reason: reason, Message: msg}
}
