package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "agrihub"

// Kind separates the two credential classes. A refresh token is never
// accepted where an access token is required, and vice versa.
type Kind int

const (
	KindAccess Kind = iota
	KindRefresh
)

// UserClaims is the identity plus permission snapshot embedded into every
// token. The snapshot is a copy taken at issuance; later role changes are not
// reflected until the token is reissued.
type UserClaims struct {
	UserName    string `json:"user_name"`
	ClientID    string `json:"client_id"`
	Permissions Tree   `json:"permissions"`
}

// Claims is the full signed claim set.
type Claims struct {
	User    UserClaims `json:"user"`
	Refresh bool       `json:"refresh"`
	jwt.RegisteredClaims
}

// Codec signs and verifies bearer tokens with a process-wide HS256 secret.
// The secret is read-only after construction; there is no revocation list —
// compromise is bounded only by the short access TTL.
type Codec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithAccessTTL configures the access token lifetime.
func WithAccessTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) {
		if ttl > 0 {
			c.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) {
		if ttl > 0 {
			c.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec from the shared signing secret.
func NewCodec(secret string, opts ...CodecOption) (*Codec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	c := &Codec{
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  5 * time.Hour,
		refreshTTL: 7 * 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// Issue signs a token of the given kind for user. The permission snapshot is
// deep-copied so later tree mutations cannot leak into issued tokens.
func (c *Codec) Issue(user UserClaims, kind Kind) (string, time.Time, error) {
	if strings.TrimSpace(user.UserName) == "" {
		return "", time.Time{}, errors.New("auth: user_name is required")
	}
	ttl := c.accessTTL
	if kind == KindRefresh {
		ttl = c.refreshTTL
	}
	now := c.now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		User: UserClaims{
			UserName:    user.UserName,
			ClientID:    user.ClientID,
			Permissions: user.Permissions.Clone(),
		},
		Refresh: kind == KindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   user.UserName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify checks signature, structure, expiry and kind. Every failure mode
// collapses into ErrInvalidToken; partial claims are never returned.
func (c *Codec) Verify(token string, kind Kind) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithIssuer(c.issuer))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.User.UserName) == "" {
		return nil, ErrInvalidToken
	}
	if claims.Refresh != (kind == KindRefresh) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
