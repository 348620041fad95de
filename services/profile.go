package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prepboard/prepboard/authz"
	"github.com/prepboard/prepboard/db"
)

// ProfileService maintains the profiles table that mirrors the identity
// provider's user records.
type ProfileService struct {
	PG *sql.DB
}

// NewProfileService creates a new ProfileService
func NewProfileService(pg *sql.DB) *ProfileService {
	return &ProfileService{PG: pg}
}

// EnsureProfile upserts the profile row from token claims. Called on every
// authenticated request so a user always has a profile before any membership
// or invitation touches them.
func (s *ProfileService) EnsureProfile(ctx context.Context, claims *IdentityClaims) (*db.Profile, error) {
	name := claims.UserMeta.FullName
	if name == "" {
		name = claims.Email
	}

	var p db.Profile
	err := s.PG.QueryRowContext(ctx, `
		INSERT INTO profiles (id, email, name, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE profiles.name END,
			avatar_url = CASE WHEN EXCLUDED.avatar_url <> '' THEN EXCLUDED.avatar_url ELSE profiles.avatar_url END,
			updated_at = NOW()
		RETURNING id, email, name, COALESCE(avatar_url, ''), created_at, updated_at
	`, claims.UserID(), claims.Email, name, claims.UserMeta.AvatarURL).Scan(
		&p.ID, &p.Email, &p.Name, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}
	return &p, nil
}

// Get retrieves a profile by user ID
func (s *ProfileService) Get(ctx context.Context, userID string) (*db.Profile, error) {
	var p db.Profile
	err := s.PG.QueryRowContext(ctx, `
		SELECT id, email, name, COALESCE(avatar_url, ''), created_at, updated_at
		FROM profiles
		WHERE id = $1
	`, userID).Scan(&p.ID, &p.Email, &p.Name, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, authz.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

// UpdateProfileInput carries the user-editable profile fields
type UpdateProfileInput struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// Update changes the user's own profile
func (s *ProfileService) Update(ctx context.Context, userID string, input UpdateProfileInput) (*db.Profile, error) {
	var p db.Profile
	err := s.PG.QueryRowContext(ctx, `
		UPDATE profiles
		SET name = CASE WHEN $2 <> '' THEN $2 ELSE name END,
		    avatar_url = CASE WHEN $3 <> '' THEN $3 ELSE avatar_url END,
		    updated_at = $4
		WHERE id = $1
		RETURNING id, email, name, COALESCE(avatar_url, ''), created_at, updated_at
	`, userID, input.Name, input.AvatarURL, time.Now()).Scan(
		&p.ID, &p.Email, &p.Name, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, authz.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return &p, nil
}
