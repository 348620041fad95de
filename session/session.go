// Package session tracks per-user sign-in state: the membership snapshot the
// authorization layer evaluates against and the active organization selector.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/prepboard/prepboard/authz"
)

// Event types delivered by the identity provider's webhook.
const (
	EventSignedIn       = "SIGNED_IN"
	EventSignedOut      = "SIGNED_OUT"
	EventTokenRefreshed = "TOKEN_REFRESHED"
	EventUserUpdated    = "USER_UPDATED"
	EventUserDeleted    = "USER_DELETED"
)

// Event is an identity-provider session change.
type Event struct {
	Type   string `json:"type" binding:"required"`
	UserID string `json:"user_id"`
}

type userState struct {
	snapshot *authz.Snapshot
	// issued is the highest refresh sequence handed out; applied is the
	// sequence of the snapshot currently held. A completed refresh is
	// dropped when a later one has already landed.
	issued  uint64
	applied uint64
}

// Manager caches membership snapshots per signed-in user and keeps them
// consistent under concurrent refreshes.
type Manager struct {
	evaluator *authz.Evaluator
	selector  *Selector

	mu     sync.Mutex
	states map[string]*userState
}

// NewManager creates a new Manager
func NewManager(evaluator *authz.Evaluator, selector *Selector) *Manager {
	return &Manager{
		evaluator: evaluator,
		selector:  selector,
		states:    make(map[string]*userState),
	}
}

// Snapshot returns the cached snapshot for the user, loading one on first
// sight. An empty userID means signed out and yields nil.
func (m *Manager) Snapshot(ctx context.Context, userID string) (*authz.Snapshot, error) {
	if userID == "" {
		return nil, nil
	}

	m.mu.Lock()
	if state, ok := m.states[userID]; ok && state.snapshot != nil {
		snap := state.snapshot
		m.mu.Unlock()
		return snap, nil
	}
	m.mu.Unlock()

	return m.Refresh(ctx, userID)
}

// Refresh reloads the user's snapshot from the database. Each refresh gets a
// sequence number when it starts; a result is applied only when no later
// refresh has finished first, so overlapping reloads can never leave a stale
// snapshot behind.
func (m *Manager) Refresh(ctx context.Context, userID string) (*authz.Snapshot, error) {
	if userID == "" {
		return nil, nil
	}

	m.mu.Lock()
	state, ok := m.states[userID]
	if !ok {
		state = &userState{}
		m.states[userID] = state
	}
	state.issued++
	seq := state.issued
	m.mu.Unlock()

	snap, err := m.evaluator.SnapshotFor(ctx, userID, seq)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh session for %s: %w", userID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.states[userID]
	if current == nil {
		// Signed out while the refresh was in flight.
		return nil, nil
	}
	if seq > current.applied {
		current.snapshot = snap
		current.applied = seq
	}
	return current.snapshot, nil
}

// SignOut forgets the user's session state and clears the persisted active
// organization.
func (m *Manager) SignOut(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}

	m.mu.Lock()
	delete(m.states, userID)
	m.mu.Unlock()

	return m.selector.Clear(ctx, userID)
}

// HandleEvent reacts to an identity-provider session change. Sign-in and
// token refresh reload the snapshot; sign-out and deletion drop it.
func (m *Manager) HandleEvent(ctx context.Context, e Event) error {
	switch e.Type {
	case EventSignedIn, EventTokenRefreshed, EventUserUpdated:
		if e.UserID == "" {
			return fmt.Errorf("%w: user_id is required", authz.ErrInvalidInput)
		}
		_, err := m.Refresh(ctx, e.UserID)
		return err
	case EventSignedOut, EventUserDeleted:
		if e.UserID == "" {
			return fmt.Errorf("%w: user_id is required", authz.ErrInvalidInput)
		}
		return m.SignOut(ctx, e.UserID)
	default:
		return fmt.Errorf("%w: unknown event type %q", authz.ErrInvalidInput, e.Type)
	}
}

// ActiveOrg resolves the user's active organization against their current
// snapshot.
func (m *Manager) ActiveOrg(ctx context.Context, userID string) (string, error) {
	snap, err := m.Snapshot(ctx, userID)
	if err != nil {
		return "", err
	}
	return m.selector.Restore(ctx, snap)
}

// SelectOrg switches the user's active organization.
func (m *Manager) SelectOrg(ctx context.Context, userID, orgID string) error {
	snap, err := m.Snapshot(ctx, userID)
	if err != nil {
		return err
	}
	return m.selector.Select(ctx, snap, orgID)
}

// GuardState builds the route-guard input for the request. Lookup failures
// read as signed out so a database hiccup denies access instead of leaking
// it.
func (m *Manager) GuardState(c *gin.Context) authz.GuardState {
	userID := c.GetString("user_id")
	if userID == "" {
		return authz.GuardState{}
	}

	ctx := c.Request.Context()
	snap, err := m.Snapshot(ctx, userID)
	if err != nil {
		log.Printf("Session resolve failed for user %s: %v", userID, err)
		return authz.GuardState{}
	}

	activeOrg, err := m.selector.Restore(ctx, snap)
	if err != nil {
		log.Printf("Active org restore failed for user %s: %v", userID, err)
	}

	return authz.GuardState{Snapshot: snap, ActiveOrgID: activeOrg}
}
