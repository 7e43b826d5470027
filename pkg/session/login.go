package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/warden/pkg/directory"
	"github.com/platinummonkey/warden/pkg/throttle"
)

var (
	// ErrInvalidCredentials covers both unknown usernames and wrong
	// passwords so responses do not reveal which accounts exist.
	ErrInvalidCredentials = errors.New("session: invalid credentials")
	// ErrUserDisabled indicates a valid credential for a disabled account.
	ErrUserDisabled = errors.New("session: user disabled")
)

// LoginService composes the throttle, the directory credential check and
// token issuance into the login flow.
type LoginService struct {
	dir      directory.Store
	throttle *throttle.Throttle
	registry *Registry
	log      *logrus.Logger
}

// NewLoginService creates the login service.
func NewLoginService(dir directory.Store, t *throttle.Throttle, registry *Registry, log *logrus.Logger) *LoginService {
	if log == nil {
		log = logrus.New()
	}
	return &LoginService{dir: dir, throttle: t, registry: registry, log: log}
}

// Login authenticates the credentials from the given source address and
// returns a bearer token. Lockouts surface as *throttle.LockedError.
func (s *LoginService) Login(ctx context.Context, username, password, address string) (string, error) {
	if decision := s.throttle.CheckAllowed(ctx, username, address); !decision.Allowed {
		return "", &throttle.LockedError{
			Reason:     decision.Reason,
			RetryAfter: decision.RetryAfter,
		}
	}

	user, err := s.dir.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	if !user.Enabled {
		return "", ErrUserDisabled
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.throttle.RecordFailure(ctx, username, address)
		s.log.WithFields(logrus.Fields{"username": username, "address": address}).
			Info("login failed: bad password")
		return "", ErrInvalidCredentials
	}

	s.throttle.RecordSuccess(ctx, username, address)
	return s.registry.IssueToken(ctx, user.ID, user.Username)
}

// Logout revokes the presented token's session record.
func (s *LoginService) Logout(ctx context.Context, token string) error {
	return s.registry.Revoke(ctx, token)
}
