package access

import (
	"context"

	"github.com/storepilot/backend/pkg/logger"
	"github.com/storepilot/backend/pkg/response"
)

// Access is a user's resolved standing on one project.
type Access struct {
	ProjectID    uint         `json:"project_id"`
	UserID       uint         `json:"user_id"`
	Role         Role         `json:"role"`
	MemberCount  int          `json:"member_count"`
	Emulated     bool         `json:"emulated"`
	Legacy       bool         `json:"legacy"`
	Capabilities Capabilities `json:"capabilities"`
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// ResolveEffectiveRole returns the user's role on the project, or RoleNone.
func (r *Resolver) ResolveEffectiveRole(ctx context.Context, projectID, userID uint) (Role, error) {
	a, err := r.ResolveAccess(ctx, projectID, userID)
	if err != nil {
		return RoleNone, err
	}
	return a.Role, nil
}

// ResolveAccess applies, in order: membership when the project is shared;
// the owner's emulated role when the project has a single owner member;
// the legacy owner reference when the project has no members at all.
func (r *Resolver) ResolveAccess(ctx context.Context, projectID, userID uint) (*Access, error) {
	owner, err := r.store.ProjectOwner(ctx, projectID)
	if err != nil {
		return nil, err
	}
	members, err := r.store.Memberships(ctx, projectID)
	if err != nil {
		return nil, err
	}

	a := &Access{ProjectID: projectID, UserID: userID, MemberCount: len(members)}

	if len(members) == 0 {
		if owner != nil && *owner == userID {
			a.Role = RoleOwner
			a.Legacy = true
		}
		a.Capabilities = CapabilitiesFor(a.Role, a.MemberCount)
		return a, nil
	}

	var membership *Role
	for _, m := range members {
		if m.UserID != userID {
			continue
		}
		role, err := ParseRole(m.Role)
		if err != nil {
			// Unknown stored roles grant nothing.
			logger.Warnf("[Access] project %d member %d has %v", projectID, userID, err)
			role = RoleNone
		}
		membership = &role
		break
	}
	if membership == nil {
		a.Capabilities = CapabilitiesFor(RoleNone, a.MemberCount)
		return a, nil
	}
	a.Role = *membership

	if len(members) == 1 && a.Role == RoleOwner {
		emulated, err := r.store.EmulatedRole(ctx, userID)
		if err != nil {
			return nil, err
		}
		if emulated != "" {
			if role, err := ParseRole(emulated); err == nil {
				a.Role = role
				a.Emulated = true
			}
		}
	}

	a.Capabilities = CapabilitiesFor(a.Role, a.MemberCount)
	return a, nil
}

// AssertProjectAccess fails with Forbidden unless the user has some role on the project.
func (r *Resolver) AssertProjectAccess(ctx context.Context, projectID, userID uint) (*Access, error) {
	a, err := r.ResolveAccess(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if a.Role == RoleNone || !a.Capabilities.CanView {
		return nil, response.NewForbidden("you do not have access to this project")
	}
	return a, nil
}

// AssertOwnerRole fails with Forbidden unless the user is the project owner.
func (r *Resolver) AssertOwnerRole(ctx context.Context, projectID, userID uint) (*Access, error) {
	a, err := r.AssertProjectAccess(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if a.Role != RoleOwner {
		return nil, response.NewForbidden("only the project owner can do this")
	}
	return a, nil
}

func (r *Resolver) assertCapability(ctx context.Context, projectID, userID uint, has func(Capabilities) bool, msg string) (*Access, error) {
	a, err := r.AssertProjectAccess(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if !has(a.Capabilities) {
		return nil, response.NewForbidden(msg)
	}
	return a, nil
}

func (r *Resolver) AssertCanGenerateDrafts(ctx context.Context, projectID, userID uint) (*Access, error) {
	return r.assertCapability(ctx, projectID, userID, func(c Capabilities) bool { return c.CanGenerateDrafts },
		"your role cannot generate drafts on this project")
}

func (r *Resolver) AssertCanRequestApproval(ctx context.Context, projectID, userID uint) (*Access, error) {
	return r.assertCapability(ctx, projectID, userID, func(c Capabilities) bool { return c.CanRequestApproval },
		"your role cannot request approval on this project")
}

func (r *Resolver) AssertCanApprove(ctx context.Context, projectID, userID uint) (*Access, error) {
	return r.assertCapability(ctx, projectID, userID, func(c Capabilities) bool { return c.CanApprove },
		"your role cannot approve automations on this project")
}

func (r *Resolver) AssertCanApply(ctx context.Context, projectID, userID uint) (*Access, error) {
	return r.assertCapability(ctx, projectID, userID, func(c Capabilities) bool { return c.CanApply },
		"your role cannot apply automations on this project")
}
