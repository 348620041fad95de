package db

import "time"

// Profile mirrors the identity provider's user record. Rows are upserted
// from token claims on authenticated requests.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// APIKey is a service credential for non-interactive clients. KeyPrefix is
// stored in clear for lookup; the secret exists only as a bcrypt hash.
type APIKey struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	OrganizationID string     `json:"organization_id,omitempty"`
	Name           string     `json:"name"`
	KeyPrefix      string     `json:"key_prefix"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
}
