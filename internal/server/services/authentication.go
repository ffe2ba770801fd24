package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/cryptox"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/directory"
	"github.com/dmitrijs2005/gatekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
)

// AuthResult is a successful password login.
type AuthResult struct {
	Identity  *models.Identity
	Token     string
	ExpiresAt time.Time
	// FactorRequired means the token carries pending_2fa until a TOTP code
	// is verified.
	FactorRequired bool
}

// AuthenticationService checks passwords against the directory or the local
// hash and issues session tokens.
type AuthenticationService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	backends    Backends
	issuer      *auth.Issuer
	config      *config.Config
	logger      logging.Logger
	metrics     *metrics.Metrics
}

func NewAuthenticationService(db *sql.DB, m repomanager.RepositoryManager, b Backends, issuer *auth.Issuer,
	cfg *config.Config, logger logging.Logger, mx *metrics.Metrics) *AuthenticationService {
	return &AuthenticationService{
		db:          db,
		repomanager: m,
		backends:    b,
		issuer:      issuer,
		config:      cfg,
		logger:      logger.With("module", "authentication"),
		metrics:     mx,
	}
}

// Resolve looks identifier up with the store timeout applied.
func (s *AuthenticationService) Resolve(ctx context.Context, identifier string) (Resolution, error) {
	ctx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	res, err := Resolve(ctx, s.repomanager.Identities(s.db), identifier)
	if err != nil {
		return Resolution{}, unavailable(err)
	}
	return res, nil
}

// VerifyCredentials decides whether password is right for identifier
// without touching session state.
func (s *AuthenticationService) VerifyCredentials(ctx context.Context, identifier, password string) (*models.Identity, error) {
	res, err := s.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if res.Kind == NotFound {
		// keep the response time close to a real check
		cryptox.VerifyPassword(password, dummyHash())
		return nil, common.ErrUserNotFound
	}
	identity := res.Identity

	if delegates(s.backends, s.config, identity.Role) {
		err := s.bindDirectory(ctx, identity, password)
		switch {
		case err == nil:
			return identity, nil
		case errors.Is(err, directory.ErrInvalidCredentials):
			return nil, common.ErrInvalidCredentials
		case !s.config.Directory.FallbackToLocal:
			return nil, unavailable(err)
		}
		s.logger.Warn(ctx, "directory unreachable, checking local hash", "identity_id", identity.ID, "error", err)
	}

	if !cryptox.VerifyPassword(password, identity.PasswordHash) {
		return nil, common.ErrInvalidCredentials
	}
	return identity, nil
}

func (s *AuthenticationService) bindDirectory(ctx context.Context, identity *models.Identity, password string) error {
	ctx, cancel := withTimeout(ctx, s.config.Directory.Timeout)
	defer cancel()
	defer s.metrics.ObserveBackend("directory", "bind", time.Now())

	return s.backends.Directory.Authenticate(ctx, directory.DN(identity, s.config.Directory.BaseDN), password)
}

// Authenticate verifies the password, clears the per-session second factor
// flag and issues a token.
func (s *AuthenticationService) Authenticate(ctx context.Context, identifier, password string) (*AuthResult, error) {
	identity, err := s.VerifyCredentials(ctx, identifier, password)
	if err != nil {
		s.recordFailure(ctx, err)
		return nil, err
	}

	if err := s.resetSecondFactor(ctx, identity.ID); err != nil {
		s.metrics.RecordAuth("unavailable")
		return nil, unavailable(err)
	}
	identity.OTPCompleted = false

	token, expiresAt, err := s.issuer.Issue(identity, 0, identity.OTPEnabled)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	s.metrics.RecordAuth("success")
	s.logger.Info(ctx, "login succeeded", "identity_id", identity.ID, "factor_required", identity.OTPEnabled)

	return &AuthResult{
		Identity:       identity,
		Token:          token,
		ExpiresAt:      expiresAt,
		FactorRequired: identity.OTPEnabled,
	}, nil
}

func (s *AuthenticationService) resetSecondFactor(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	return s.repomanager.Identities(s.db).SetOTPCompleted(ctx, id, false)
}

func (s *AuthenticationService) recordFailure(ctx context.Context, err error) {
	if errors.Is(err, common.ErrBackendUnavailable) {
		s.metrics.RecordAuth("unavailable")
		s.logger.Error(ctx, "login failed", "error", err)
		return
	}
	s.metrics.RecordAuth("rejected")
	s.logger.Info(ctx, "login rejected", "error", err)
}

// VerifyToken validates token and checks that its identity still exists.
func (s *AuthenticationService) VerifyToken(ctx context.Context, token string) (*auth.Claims, *models.Identity, error) {
	claims, err := s.issuer.Validate(token)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	identity, err := s.repomanager.Identities(s.db).GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, common.ErrTokenInvalid
		}
		return nil, nil, unavailable(err)
	}
	return claims, identity, nil
}

var dummyHash = sync.OnceValue(func() string {
	h, _ := cryptox.HashPassword("gatekeeper-timing-equalizer")
	return h
})
