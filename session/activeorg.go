package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/prepboard/prepboard/authz"
)

// ActiveOrgStore persists each user's selected organization across sessions.
type ActiveOrgStore interface {
	Get(ctx context.Context, userID string) (string, error)
	Set(ctx context.Context, userID, orgID string) error
	Clear(ctx context.Context, userID string) error
}

// RedisActiveOrgStore keeps selections in Redis under activeorg:<user_id>.
// No TTL: the selection survives until the user changes it or signs out.
type RedisActiveOrgStore struct {
	client *redis.Client
}

// NewRedisActiveOrgStore creates a new RedisActiveOrgStore
func NewRedisActiveOrgStore(client *redis.Client) *RedisActiveOrgStore {
	return &RedisActiveOrgStore{client: client}
}

var _ ActiveOrgStore = (*RedisActiveOrgStore)(nil)

func activeOrgKey(userID string) string {
	return "activeorg:" + userID
}

func (s *RedisActiveOrgStore) Get(ctx context.Context, userID string) (string, error) {
	val, err := s.client.Get(ctx, activeOrgKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read active org: %w", err)
	}
	return val, nil
}

func (s *RedisActiveOrgStore) Set(ctx context.Context, userID, orgID string) error {
	if err := s.client.Set(ctx, activeOrgKey(userID), orgID, 0).Err(); err != nil {
		return fmt.Errorf("failed to store active org: %w", err)
	}
	return nil
}

func (s *RedisActiveOrgStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, activeOrgKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear active org: %w", err)
	}
	return nil
}

// MemoryActiveOrgStore is an in-process ActiveOrgStore for tests and
// single-node development.
type MemoryActiveOrgStore struct {
	mu   sync.RWMutex
	byID map[string]string
}

// NewMemoryActiveOrgStore creates a new MemoryActiveOrgStore
func NewMemoryActiveOrgStore() *MemoryActiveOrgStore {
	return &MemoryActiveOrgStore{byID: make(map[string]string)}
}

var _ ActiveOrgStore = (*MemoryActiveOrgStore)(nil)

func (s *MemoryActiveOrgStore) Get(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[userID], nil
}

func (s *MemoryActiveOrgStore) Set(_ context.Context, userID, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[userID] = orgID
	return nil
}

func (s *MemoryActiveOrgStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, userID)
	return nil
}

// Selector manages a user's active organization on top of a store and a
// membership snapshot.
type Selector struct {
	store ActiveOrgStore
}

// NewSelector creates a new Selector
func NewSelector(store ActiveOrgStore) *Selector {
	return &Selector{store: store}
}

// Restore returns the user's active organization for the given snapshot.
// A persisted selection is honored only while the snapshot still contains
// that organization; otherwise the earliest-joined organization becomes the
// default. Empty means the user has no organizations.
func (s *Selector) Restore(ctx context.Context, snap *authz.Snapshot) (string, error) {
	if snap == nil || snap.UserID() == "" {
		return "", nil
	}

	stored, err := s.store.Get(ctx, snap.UserID())
	if err != nil {
		return "", err
	}
	if stored != "" && snap.Contains(stored) {
		return stored, nil
	}

	orgID, ok := snap.DefaultOrganization()
	if !ok {
		if stored != "" {
			// Selection points at an org the user no longer belongs to.
			if err := s.store.Clear(ctx, snap.UserID()); err != nil {
				return "", err
			}
		}
		return "", nil
	}

	if orgID != stored {
		if err := s.store.Set(ctx, snap.UserID(), orgID); err != nil {
			return "", err
		}
	}
	return orgID, nil
}

// Select switches the active organization. The switch is rejected when the
// snapshot does not contain the organization, and persisted immediately when
// it does.
func (s *Selector) Select(ctx context.Context, snap *authz.Snapshot, orgID string) error {
	if snap == nil || snap.UserID() == "" {
		return authz.ErrForbidden
	}
	if !snap.Contains(orgID) {
		return authz.ErrForbidden
	}
	return s.store.Set(ctx, snap.UserID(), orgID)
}

// Clear drops the persisted selection, on sign-out or account removal.
func (s *Selector) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	return s.store.Clear(ctx, userID)
}
