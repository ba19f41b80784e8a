package models

import (
	"strings"
	"time"
)

// Role represents a member's permission level within a project.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleMember  Role = "MEMBER"
)

// Roles lists every role from most to least privileged.
var Roles = []Role{RoleAdmin, RoleManager, RoleMember}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleManager || r == RoleMember
}

// CanAssignTo reports whether a member holding r may give target to someone.
// ADMIN may assign any role, MANAGER may assign MEMBER or MANAGER, MEMBER assigns nothing.
func (r Role) CanAssignTo(target Role) bool {
	switch r {
	case RoleAdmin:
		return target.Valid()
	case RoleManager:
		return target == RoleMember || target == RoleManager
	default:
		return false
	}
}

// CanModify reports whether a member holding r may change or remove a member
// whose current role is current. Only an ADMIN may touch an ADMIN.
func (r Role) CanModify(current Role) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleManager:
		return current != RoleAdmin
	default:
		return false
	}
}

// CanManage returns true if the role may administer project content it does not own.
func (r Role) CanManage() bool {
	return r == RoleAdmin || r == RoleManager
}

// ParseRole converts a string to Role. Unknown values map to RoleMember.
func ParseRole(s string) Role {
	switch strings.ToUpper(s) {
	case "ADMIN":
		return RoleAdmin
	case "MANAGER":
		return RoleManager
	default:
		return RoleMember
	}
}

// ProjectMember represents a user's membership in a project.
type ProjectMember struct {
	Local
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	InvitedBy string    `json:"invited_by,omitempty"`
	JoinedAt  time.Time `json:"joined_at"`
}

// MemberID returns the local id used for a membership row.
func MemberID(projectID, userID string) string {
	return projectID + "/" + userID
}

// NewProjectMember creates a membership with a deterministic id.
func NewProjectMember(projectID, userID string, role Role, invitedBy string) *ProjectMember {
	return &ProjectMember{
		ID:        MemberID(projectID, userID),
		ProjectID: projectID,
		UserID:    userID,
		Role:      role,
		InvitedBy: invitedBy,
		JoinedAt:  time.Now().UTC(),
	}
}

func (m *ProjectMember) EntityID() string    { return m.ID }
func (m *ProjectMember) ScopeKey() string    { return m.ProjectID }
func (m *ProjectMember) SortTime() time.Time { return m.JoinedAt }

// NaturalKey enforces one row per (project, user).
func (m *ProjectMember) NaturalKey() string {
	return MemberID(m.ProjectID, m.UserID)
}
