package services

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SupabaseAuthService verifies access tokens issued by Supabase Auth.
// Asymmetric tokens (ES256, RS256) are checked against the project's JWKS;
// HS256 is kept as a fallback for projects still on the shared JWT secret.
type SupabaseAuthService struct {
	SupabaseURL string
	JWTSecret   string

	mu        sync.RWMutex
	keys      map[string]crypto.PublicKey
	fetchedAt time.Time

	httpClient *http.Client
}

// IdentityClaims are the token claims Prepboard cares about.
type IdentityClaims struct {
	Email    string       `json:"email"`
	Role     string       `json:"role"`
	UserMeta UserMetadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

// UserMetadata is the user_metadata block set at signup.
type UserMetadata struct {
	FullName   string `json:"full_name"`
	AvatarURL  string `json:"avatar_url"`
	SignupRole string `json:"signup_role"`
	OrgName    string `json:"organization_name"`
}

// UserID returns the subject claim
func (c *IdentityClaims) UserID() string {
	return c.Subject
}

type jwksDocument struct {
	Keys []jwkEntry `json:"keys"`
}

type jwkEntry struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	// RSA
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`
	// EC
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// Supabase's edge caches JWKS responses for 10 minutes; refetching faster
// than that buys nothing.
const jwksCacheTTL = 10 * time.Minute

// NewSupabaseAuthService creates a new SupabaseAuthService
func NewSupabaseAuthService(supabaseURL, jwtSecret string) *SupabaseAuthService {
	return &SupabaseAuthService{
		SupabaseURL: supabaseURL,
		JWTSecret:   jwtSecret,
		keys:        make(map[string]crypto.PublicKey),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// ValidateToken verifies the token signature and expiry and returns its
// claims.
func (s *SupabaseAuthService) ValidateToken(tokenString string) (*IdentityClaims, error) {
	claims := &IdentityClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, s.keyFor,
		jwt.WithValidMethods([]string{"HS256", "ES256", "RS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// keyFor picks the verification key based on the token header.
func (s *SupabaseAuthService) keyFor(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if s.JWTSecret == "" {
			return nil, errors.New("HS256 token but no JWT secret configured")
		}
		return []byte(s.JWTSecret), nil
	}

	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token header has no kid")
	}
	return s.publicKey(kid)
}

// publicKey returns the JWKS key for kid, refreshing the cache when the key
// is unknown or the cache has aged out.
func (s *SupabaseAuthService) publicKey(kid string) (crypto.PublicKey, error) {
	s.mu.RLock()
	key, ok := s.keys[kid]
	fresh := time.Since(s.fetchedAt) < jwksCacheTTL
	s.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}

	if err := s.refreshKeys(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	key, ok = s.keys[kid]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no JWKS key for kid %s", kid)
	}
	return key, nil
}

// refreshKeys fetches the JWKS document and parses every usable key.
func (s *SupabaseAuthService) refreshKeys() error {
	jwksURL := fmt.Sprintf("%s/auth/v1/.well-known/jwks.json", s.SupabaseURL)
	resp, err := s.httpClient.Get(jwksURL)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(doc.Keys))
	for _, entry := range doc.Keys {
		if entry.Kid == "" {
			continue
		}
		key, err := parseJWK(entry)
		if err != nil {
			// Skip keys we cannot use; another key may still verify.
			continue
		}
		keys[entry.Kid] = key
	}

	s.mu.Lock()
	s.keys = keys
	s.fetchedAt = time.Now()
	s.mu.Unlock()
	return nil
}

func parseJWK(entry jwkEntry) (crypto.PublicKey, error) {
	switch entry.Kty {
	case "RSA":
		n, err := base64.RawURLEncoding.DecodeString(entry.N)
		if err != nil {
			return nil, fmt.Errorf("failed to decode modulus: %w", err)
		}
		e, err := base64.RawURLEncoding.DecodeString(entry.E)
		if err != nil {
			return nil, fmt.Errorf("failed to decode exponent: %w", err)
		}
		return &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}, nil

	case "EC":
		var curve elliptic.Curve
		switch entry.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported curve: %s", entry.Crv)
		}
		x, err := base64.RawURLEncoding.DecodeString(entry.X)
		if err != nil {
			return nil, fmt.Errorf("failed to decode X coordinate: %w", err)
		}
		y, err := base64.RawURLEncoding.DecodeString(entry.Y)
		if err != nil {
			return nil, fmt.Errorf("failed to decode Y coordinate: %w", err)
		}
		return &ecdsa.PublicKey{
			Curve: curve,
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		}, nil
	}
	return nil, fmt.Errorf("unsupported key type: %s", entry.Kty)
}

// ExtractTokenFromHeader extracts the bearer token from an Authorization
// header.
func (s *SupabaseAuthService) ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("authorization header is required")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}
