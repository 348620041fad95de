package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/prepboard/prepboard/authz"
	"github.com/prepboard/prepboard/db"
)

// API keys look like pb_<prefix>_<secret>. The prefix is stored in clear for
// lookup; only a bcrypt hash of the secret is persisted.
const apiKeyScheme = "pb"

// APIKeyService manages service API keys for non-interactive clients.
type APIKeyService struct {
	PG *sql.DB
}

// NewAPIKeyService creates a new APIKeyService
func NewAPIKeyService(pg *sql.DB) *APIKeyService {
	return &APIKeyService{PG: pg}
}

// CreateAPIKey mints a key scoped to the user and optionally to one
// organization. The plaintext key is returned exactly once.
func (s *APIKeyService) CreateAPIKey(ctx context.Context, userID, orgID, name string) (*db.APIKey, string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, "", fmt.Errorf("%w: key name is required", authz.ErrInvalidInput)
	}

	prefix, err := randomHex(6)
	if err != nil {
		return nil, "", err
	}
	secret, err := randomHex(24)
	if err != nil {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash key secret: %w", err)
	}

	key := &db.APIKey{
		ID:             uuid.New().String(),
		UserID:         userID,
		OrganizationID: orgID,
		Name:           name,
		KeyPrefix:      prefix,
		IsActive:       true,
		CreatedAt:      time.Now(),
	}

	_, err = s.PG.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, organization_id, name, key_prefix, key_hash, is_active, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
	`, key.ID, key.UserID, key.OrganizationID, key.Name, key.KeyPrefix, string(hash), key.IsActive, key.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create api key: %w", err)
	}

	plaintext := fmt.Sprintf("%s_%s_%s", apiKeyScheme, prefix, secret)
	return key, plaintext, nil
}

// ValidateAPIKey checks a presented key against the stored hash and returns
// its record when valid.
func (s *APIKeyService) ValidateAPIKey(ctx context.Context, token string) (*db.APIKey, error) {
	parts := strings.SplitN(token, "_", 3)
	if len(parts) != 3 || parts[0] != apiKeyScheme {
		return nil, authz.ErrNotFound
	}
	prefix, secret := parts[1], parts[2]

	var key db.APIKey
	var hash string
	err := s.PG.QueryRowContext(ctx, `
		SELECT id, user_id, COALESCE(organization_id, ''), name, key_prefix, key_hash, is_active, created_at, last_used_at
		FROM api_keys
		WHERE key_prefix = $1 AND is_active = true
	`, prefix).Scan(
		&key.ID, &key.UserID, &key.OrganizationID, &key.Name,
		&key.KeyPrefix, &hash, &key.IsActive, &key.CreatedAt, &key.LastUsedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, authz.ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return nil, authz.ErrNotFound
	}
	return &key, nil
}

// UpdateLastUsed bumps the key's last_used_at timestamp
func (s *APIKeyService) UpdateLastUsed(id string) error {
	_, err := s.PG.Exec(`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to update key usage: %w", err)
	}
	return nil
}

// List returns the user's keys, hashes excluded
func (s *APIKeyService) List(ctx context.Context, userID string) ([]db.APIKey, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(organization_id, ''), name, key_prefix, is_active, created_at, last_used_at
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]db.APIKey, 0)
	for rows.Next() {
		var key db.APIKey
		if err := rows.Scan(
			&key.ID, &key.UserID, &key.OrganizationID, &key.Name,
			&key.KeyPrefix, &key.IsActive, &key.CreatedAt, &key.LastUsedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Revoke deactivates a key owned by the user
func (s *APIKeyService) Revoke(ctx context.Context, userID, keyID string) error {
	result, err := s.PG.ExecContext(ctx, `
		UPDATE api_keys SET is_active = false
		WHERE id = $1 AND user_id = $2
	`, keyID, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate randomness: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
