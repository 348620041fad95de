package authz

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Evaluator answers access questions from the database. It is the
// source-of-truth counterpart to Snapshot: handlers that already hold a
// snapshot use it directly, everything else asks the Evaluator.
type Evaluator struct {
	registry MembershipRegistry
	roles    RoleChecker
}

// NewEvaluator creates a new Evaluator
func NewEvaluator(registry MembershipRegistry, roles RoleChecker) *Evaluator {
	return &Evaluator{registry: registry, roles: roles}
}

// CanPerform reports whether the user may act at the required level in the
// organization. Global admins pass regardless of membership. Lookup errors
// deny and are logged, never surfaced as access.
func (e *Evaluator) CanPerform(ctx context.Context, userID, orgID string, required AccessLevel) bool {
	if userID == "" || orgID == "" {
		return false
	}

	admin, err := e.roles.IsGlobalAdmin(ctx, userID)
	if err != nil {
		log.Printf("AUTHZ DENIED - role check failed for user %s: %v", userID, err)
		return false
	}
	if admin {
		return true
	}

	m, err := e.registry.Membership(ctx, userID, orgID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("AUTHZ DENIED - membership lookup failed for user %s org %s: %v", userID, orgID, err)
		}
		return false
	}
	return m.Meets(required)
}

// RequireLevel is CanPerform with an error result for service layers that
// want to propagate ErrForbidden instead of branching on a bool.
func (e *Evaluator) RequireLevel(ctx context.Context, userID, orgID string, required AccessLevel) error {
	if !e.CanPerform(ctx, userID, orgID, required) {
		return ErrForbidden
	}
	return nil
}

// SnapshotFor builds a point-in-time membership snapshot for the user.
// The seq is supplied by the caller's refresh pipeline so stale results can
// be discarded when loads race.
func (e *Evaluator) SnapshotFor(ctx context.Context, userID string, seq uint64) (*Snapshot, error) {
	if userID == "" {
		return nil, nil
	}

	admin, err := e.roles.IsGlobalAdmin(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check global role: %w", err)
	}

	memberships, err := e.registry.ActiveMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}

	return NewSnapshot(userID, admin, seq, memberships), nil
}
