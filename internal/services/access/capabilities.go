// Package access resolves a user's effective role on a project and the
// capabilities that role grants.
package access

import "fmt"

// Role is a project-level role. RoleNone means the user has no access.
type Role string

const (
	RoleNone   Role = ""
	RoleOwner  Role = "OWNER"
	RoleEditor Role = "EDITOR"
	RoleViewer Role = "VIEWER"
)

// ParseRole accepts the stored role names.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleOwner, RoleEditor, RoleViewer:
		return r, nil
	default:
		return RoleNone, fmt.Errorf("unknown role %q", s)
	}
}

// Capabilities is the set of actions a role permits.
type Capabilities struct {
	CanView            bool `json:"can_view"`
	CanGenerateDrafts  bool `json:"can_generate_drafts"`
	CanRequestApproval bool `json:"can_request_approval"`
	CanApprove         bool `json:"can_approve"`
	CanApply           bool `json:"can_apply"`
	CanExport          bool `json:"can_export"`
	CanManageMembers   bool `json:"can_manage_members"`
}

// GetCapabilities returns the capabilities of role in a shared project.
// OWNER applies directly there, so it cannot request approval.
func GetCapabilities(role Role) Capabilities {
	switch role {
	case RoleOwner:
		return Capabilities{
			CanView:           true,
			CanGenerateDrafts: true,
			CanApprove:        true,
			CanApply:          true,
			CanExport:         true,
			CanManageMembers:  true,
		}
	case RoleEditor:
		return Capabilities{
			CanView:            true,
			CanGenerateDrafts:  true,
			CanRequestApproval: true,
			CanExport:          true,
		}
	case RoleViewer:
		return Capabilities{
			CanView:   true,
			CanExport: true,
		}
	case RoleNone:
		return Capabilities{}
	default:
		return Capabilities{}
	}
}

// CapabilitiesFor adjusts GetCapabilities for the project's member count: in a
// single-member project the owner keeps the legacy ability to request approval.
func CapabilitiesFor(role Role, memberCount int) Capabilities {
	caps := GetCapabilities(role)
	if role == RoleOwner && memberCount <= 1 {
		caps.CanRequestApproval = true
	}
	return caps
}
