// ABOUTME: Issues and verifies HS256-signed capability tokens
// ABOUTME: Verification is stateless and silent - bad tokens yield invalid, never errors

package capability

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Ibxdevgh/moltslack/internal/clock"
)

// Token lifetime bounds. Configured lifetimes outside these are clamped.
const (
	DefaultTokenLifetime = 7 * 24 * time.Hour
	MinTokenLifetime     = 60 * time.Second
	MaxTokenLifetime     = 30 * 24 * time.Hour
)

// Claims are the verified contents of a capability token.
type Claims struct {
	IdentityID        string
	DisplayName       string
	Capabilities      []Capability
	CredentialVersion int64
	IssuedAt          time.Time
	ExpiresAt         time.Time
}

type tokenClaims struct {
	DisplayName       string       `json:"name"`
	Capabilities      []Capability `json:"caps"`
	CredentialVersion int64        `json:"cv"`
	jwt.RegisteredClaims
}

// Authority issues and verifies identity tokens and evaluates capability
// authorization. Verification requires no storage lookup; Authenticate
// additionally cross-checks the credential version against the registry so
// grants invalidate previously issued tokens.
type Authority struct {
	secret   []byte
	lifetime time.Duration
	registry *Registry
	clock    clock.Clock
}

// NewAuthority creates an Authority signing with the given secret. A
// zero lifetime selects the default; out-of-range lifetimes are clamped.
func NewAuthority(secret []byte, lifetime time.Duration, registry *Registry, clk clock.Clock) *Authority {
	if lifetime == 0 {
		lifetime = DefaultTokenLifetime
	}
	if lifetime < MinTokenLifetime {
		lifetime = MinTokenLifetime
	}
	if lifetime > MaxTokenLifetime {
		lifetime = MaxTokenLifetime
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Authority{
		secret:   secret,
		lifetime: lifetime,
		registry: registry,
		clock:    clk,
	}
}

// IssueToken creates a signed token embedding the identity's capability set.
func (a *Authority) IssueToken(identityID, displayName string, caps []Capability) (string, error) {
	return a.issue(identityID, displayName, caps, 0)
}

// IssueTokenFor issues a token for a registered identity, embedding its
// current capability set and credential version.
func (a *Authority) IssueTokenFor(identityID string) (string, error) {
	ident, ok := a.registry.Get(identityID)
	if !ok {
		return "", fmt.Errorf("identity %s not registered", identityID)
	}
	return a.issue(ident.ID, ident.DisplayName, ident.Capabilities, ident.CredentialVersion)
}

func (a *Authority) issue(identityID, displayName string, caps []Capability, version int64) (string, error) {
	now := a.clock.Now()
	claims := tokenClaims{
		DisplayName:       displayName,
		Capabilities:      caps,
		CredentialVersion: version,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.lifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// VerifyToken validates a token's signature and expiry and returns its
// claims. All failure modes (empty input, malformed encoding, wrong segment
// count, signature mismatch, expiry) report invalid; nothing panics or
// returns an error.
func (a *Authority) VerifyToken(tokenString string) (*Claims, bool) {
	if tokenString == "" {
		return nil, false
	}

	var tc tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &tc, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.clock.Now))
	if err != nil || !token.Valid {
		return nil, false
	}
	if tc.Subject == "" || tc.ExpiresAt == nil {
		return nil, false
	}

	claims := &Claims{
		IdentityID:        tc.Subject,
		DisplayName:       tc.DisplayName,
		Capabilities:      tc.Capabilities,
		CredentialVersion: tc.CredentialVersion,
		ExpiresAt:         tc.ExpiresAt.Time,
	}
	if tc.IssuedAt != nil {
		claims.IssuedAt = tc.IssuedAt.Time
	}
	return claims, true
}

// ExtractIdentity pulls a bearer token from an Authorization header value,
// verifies it, and returns the identity id. The "Bearer " prefix is optional
// and case-insensitive; without it the whole value is treated as the token.
func (a *Authority) ExtractIdentity(authHeader string) (string, bool) {
	token := StripBearer(authHeader)
	if token == "" {
		return "", false
	}
	claims, ok := a.VerifyToken(token)
	if !ok {
		return "", false
	}
	return claims.IdentityID, true
}

// Authenticate resolves an Authorization header to a live identity. Beyond
// signature and expiry it requires the token's credential version to match
// the registry's current version, so capability grants cut off older tokens.
func (a *Authority) Authenticate(authHeader string) (*Identity, bool) {
	token := StripBearer(authHeader)
	if token == "" {
		return nil, false
	}
	claims, ok := a.VerifyToken(token)
	if !ok {
		return nil, false
	}
	ident, ok := a.registry.Get(claims.IdentityID)
	if !ok {
		return nil, false
	}
	if ident.CredentialVersion != claims.CredentialVersion {
		return nil, false
	}
	return ident, true
}

// StripBearer removes an optional case-insensitive "Bearer " prefix from an
// Authorization header value.
func StripBearer(header string) string {
	const prefix = "bearer "
	if len(header) >= len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return header
}
