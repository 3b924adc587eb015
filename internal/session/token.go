package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alfredjeanlab/sitegate/internal/idgen"
	"github.com/alfredjeanlab/sitegate/internal/model"
)

const tokenIssuer = "sitegate"

var (
	// ErrInvalidToken covers malformed, badly signed and expired tokens.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrRevokedToken is returned for a token whose session was signed out.
	ErrRevokedToken = errors.New("session revoked")
)

// RevocationStore records signed-out sessions until their tokens expire.
type RevocationStore interface {
	RevokeSession(ctx context.Context, sessionID string, expiresAt time.Time) error
	IsSessionRevoked(ctx context.Context, sessionID string) (bool, error)
}

// claims is the JWT payload of a session token.
type claims struct {
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 session tokens.
type Tokens struct {
	secret  []byte
	ttl     time.Duration
	revoked RevocationStore
	now     func() time.Time
}

// NewTokens returns a token service. The secret must be at least 32 bytes.
func NewTokens(secret string, ttl time.Duration, revoked RevocationStore) (*Tokens, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes, got %d", len(secret))
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, revoked: revoked, now: time.Now}, nil
}

// TTL returns the lifetime of issued tokens.
func (t *Tokens) TTL() time.Duration { return t.ttl }

// Issue mints a session token for identityRef.
func (t *Tokens) Issue(identityRef string) (string, *model.Identity, error) {
	sid, err := idgen.New(idgen.KindSession)
	if err != nil {
		return "", nil, err
	}
	now := t.now()
	exp := now.Add(t.ttl)
	c := claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   identityRef,
		ID:        sid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}
	return signed, &model.Identity{Ref: identityRef, SessionID: sid, ExpiresAt: exp.UTC().Truncate(time.Second)}, nil
}

// Verify parses token and checks its signature, expiry and revocation.
func (t *Tokens) Verify(ctx context.Context, token string) (*model.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" || c.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or id", ErrInvalidToken)
	}
	if t.revoked != nil {
		revoked, err := t.revoked.IsSessionRevoked(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrRevokedToken
		}
	}
	return &model.Identity{Ref: c.Subject, SessionID: c.ID, ExpiresAt: c.ExpiresAt.Time.UTC()}, nil
}

// Revoke marks the identity's session as signed out.
func (t *Tokens) Revoke(ctx context.Context, id *model.Identity) error {
	if id == nil || id.SessionID == "" {
		return nil
	}
	if t.revoked == nil {
		return errors.New("no revocation store configured")
	}
	exp := id.ExpiresAt
	if exp.IsZero() {
		exp = t.now().Add(t.ttl)
	}
	return t.revoked.RevokeSession(ctx, id.SessionID, exp)
}

// TokenProvider is a Provider bound to one presented token.
type TokenProvider struct {
	Tokens *Tokens
	Token  string
}

// CurrentIdentity reports no session for an empty token.
func (p TokenProvider) CurrentIdentity(ctx context.Context) (*model.Identity, error) {
	if p.Token == "" {
		return nil, nil
	}
	return p.Tokens.Verify(ctx, p.Token)
}

func (p TokenProvider) Revoke(ctx context.Context, id *model.Identity) error {
	return p.Tokens.Revoke(ctx, id)
}
