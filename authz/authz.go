// Package authz implements the organization-membership access-control model:
// numeric access levels, capability flags, membership snapshots, the invitation
// lifecycle, and the route guard that gates protected views.
//
// The Evaluator answers "can this user perform an action requiring level L in
// organization O"; it never mutates state. Write-side operations live in
// OrgService and InvitationService.
package authz

import (
	"errors"
)

// AccessLevel is the ordinal access level of a membership.
// 1 = member (read), 2 = manager (read/write/invite), 3 = admin (full).
type AccessLevel int

const (
	LevelMember  AccessLevel = 1
	LevelManager AccessLevel = 2
	LevelAdmin   AccessLevel = 3
)

// Valid reports whether the level is one of the three defined levels.
func (l AccessLevel) Valid() bool {
	return l >= LevelMember && l <= LevelAdmin
}

// String returns the display name used in logs and API responses.
func (l AccessLevel) String() string {
	switch l {
	case LevelMember:
		return "member"
	case LevelManager:
		return "manager"
	case LevelAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Permissions is the denormalized capability map stored on membership and
// invitation rows. It is derived from the access level at write time and is
// never recomputed automatically afterwards.
type Permissions struct {
	Read   bool `json:"read"`
	Write  bool `json:"write"`
	Invite bool `json:"invite"`
	Admin  bool `json:"admin"`
}

// PermissionsForLevel derives the stored permissions map from an access level.
// Signup-time self-memberships and invitations both go through this function so
// the two write paths cannot drift.
func PermissionsForLevel(level AccessLevel) Permissions {
	switch level {
	case LevelAdmin:
		return Permissions{Read: true, Write: true, Invite: true, Admin: true}
	case LevelManager:
		return Permissions{Read: true, Write: true, Invite: true}
	case LevelMember:
		return Permissions{Read: true}
	default:
		return Permissions{}
	}
}

// LevelForSignupRole maps the role chosen at sign-up to the access level of the
// creator's self-membership. Unknown roles get full access because the signup
// flow only offers these choices to the person creating the organization.
func LevelForSignupRole(role string) AccessLevel {
	switch role {
	case "student":
		return LevelMember
	case "instructor":
		return LevelManager
	default:
		return LevelAdmin
	}
}

// Common errors
var (
	ErrForbidden        = errors.New("forbidden: you don't have permission to perform this action")
	ErrNotFound         = errors.New("resource not found")
	ErrAlreadyExists    = errors.New("resource already exists")
	ErrInvalidInput     = errors.New("invalid input")
	ErrAlreadyMember    = errors.New("user is already a member of this organization")
	ErrLastAdmin        = errors.New("organization must keep at least one admin")
	ErrCannotRemoveSelf = errors.New("cannot remove yourself from organization")
	ErrLevelTooHigh     = errors.New("invitation access level exceeds your own")
	ErrInviteNotPending = errors.New("invitation is no longer pending")
	ErrInviteExpired    = errors.New("invitation has expired")
	ErrInviteNotExpired = errors.New("invitation has not expired")
)
