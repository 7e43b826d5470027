// Package session issues and validates the bearer tokens that authenticate
// every request. Tokens are self-verifying signed JWTs, so validation keeps
// working when the cache backend is down; the redis session record layered
// on top enables forced logout and online-user enumeration when it is up.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/cache"
	"github.com/platinummonkey/warden/pkg/observability"
)

const issuer = "warden"

var (
	// ErrInvalidToken indicates a missing, malformed, expired or badly
	// signed token.
	ErrInvalidToken = errors.New("session: invalid token")
	// ErrTokenRevoked indicates a well-formed token whose session record
	// was removed or superseded.
	ErrTokenRevoked = errors.New("session: token revoked")
	// ErrDegraded indicates the operation needs the cache backend and it
	// is currently unavailable.
	ErrDegraded = errors.New("session: cache backend unavailable")
)

func sessionKey(userID int64) string { return fmt.Sprintf("session:%d", userID) }

// Claims are the JWT claims carried by warden tokens.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID   int64
	Username string
	TokenID  string
}

// record is the redis-side session state for one user. Issuing a new token
// overwrites it, superseding any previous token for that user.
type record struct {
	TokenID  string    `json:"token_id"`
	Username string    `json:"username"`
	IssuedAt time.Time `json:"issued_at"`
}

// ActiveSession is one entry of the online-user listing.
type ActiveSession struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	IssuedAt time.Time `json:"issued_at"`
}

// Registry issues, validates and revokes tokens.
type Registry struct {
	secret  []byte
	ttl     time.Duration
	gw      *cache.Gateway
	log     *logrus.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRegistry creates a registry. The signing secret must be non-empty.
func NewRegistry(secret []byte, ttl time.Duration, gw *cache.Gateway, log *logrus.Logger, metrics *observability.Metrics) (*Registry, error) {
	if len(secret) == 0 {
		return nil, errors.New("session: signing secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("session: token ttl must be positive")
	}
	if log == nil {
		log = logrus.New()
	}
	return &Registry{
		secret:  secret,
		ttl:     ttl,
		gw:      gw,
		log:     log,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// IssueToken signs a token for the user and, when the cache backend is
// available, writes the session record that enables forced logout. The
// record never outlives the token: it carries the same TTL.
func (r *Registry) IssueToken(ctx context.Context, userID int64, username string) (string, error) {
	now := r.now().UTC()
	tokenID := uuid.NewString()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(userID, 10),
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	raw, err := json.Marshal(record{TokenID: tokenID, Username: username, IssuedAt: now})
	if err != nil {
		return "", fmt.Errorf("failed to marshal session record: %w", err)
	}
	if _, available := r.gw.Set(ctx, sessionKey(userID), string(raw), r.ttl); !available {
		// Known limitation: without the record this token cannot be
		// force-revoked and will not appear in the online listing.
		r.log.WithField("user_id", userID).
			Warn("cache unavailable, session issued without forced-logout support")
	}

	r.metrics.RecordSessionIssued()
	return signed, nil
}

// Validate verifies the token signature and expiry offline. When the cache
// backend is available it additionally requires the session record to exist
// and match, so forced invalidation takes effect before natural expiry. In
// degraded mode the self-verifying token alone is trusted.
func (r *Registry) Validate(ctx context.Context, token string) (*Identity, error) {
	claims, userID, err := r.parse(token)
	if err != nil {
		return nil, err
	}

	raw, ok, available := r.gw.Get(ctx, sessionKey(userID))
	if available {
		if !ok {
			return nil, ErrTokenRevoked
		}
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.TokenID != claims.ID {
			return nil, ErrTokenRevoked
		}
	}

	return &Identity{UserID: userID, Username: claims.Username, TokenID: claims.ID}, nil
}

func (r *Registry) parse(token string) (*Claims, int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, 0, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(issuer), jwt.WithTimeFunc(r.now))
	if err != nil {
		return nil, 0, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ID == "" {
		return nil, 0, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, 0, ErrInvalidToken
	}
	return claims, userID, nil
}

// Revoke removes the session record of the presented token (logout). The
// record is only removed when it still belongs to this token, so a stale
// logout cannot kill a newer session. In degraded mode the record cannot be
// touched; natural expiry remains the only revocation.
func (r *Registry) Revoke(ctx context.Context, token string) error {
	claims, userID, err := r.parse(token)
	if err != nil {
		return err
	}

	raw, ok, available := r.gw.Get(ctx, sessionKey(userID))
	if !available {
		r.log.WithField("user_id", userID).
			Warn("cache unavailable, logout relies on natural token expiry")
		return nil
	}
	if !ok {
		return nil
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err == nil && rec.TokenID != claims.ID {
		return nil
	}
	r.gw.Delete(ctx, sessionKey(userID))
	r.metrics.RecordSessionRevoked("logout")
	return nil
}

// Invalidate force-revokes every session of the user. Unavailable in
// degraded mode: the caller gets ErrDegraded and natural token expiry is
// the only remaining revocation mechanism.
func (r *Registry) Invalidate(ctx context.Context, userID int64) error {
	ok, available := r.gw.Delete(ctx, sessionKey(userID))
	if !available {
		r.log.WithField("user_id", userID).
			Warn("cache unavailable, forced logout is not possible")
		return ErrDegraded
	}
	if ok {
		r.metrics.RecordSessionRevoked("forced")
	}
	return nil
}

// ListActive enumerates users with a live session record. Unavailable in
// degraded mode.
func (r *Registry) ListActive(ctx context.Context) ([]ActiveSession, error) {
	keys, available := r.gw.ScanKeys(ctx, "session:*")
	if !available {
		return nil, ErrDegraded
	}

	sessions := make([]ActiveSession, 0, len(keys))
	for _, key := range keys {
		raw, ok, available := r.gw.Get(ctx, key)
		if !available {
			return nil, ErrDegraded
		}
		if !ok {
			continue // expired between scan and get
		}
		userID, err := strconv.ParseInt(strings.TrimPrefix(key, "session:"), 10, 64)
		if err != nil {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		sessions = append(sessions, ActiveSession{
			UserID:   userID,
			Username: rec.Username,
			IssuedAt: rec.IssuedAt,
		})
	}
	return sessions, nil
}
