package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gatekeeper/internal/server/secondfactor"
)

// QRCodeSize is the edge length, in pixels, of enrollment QR images.
const QRCodeSize = 256

type Enrollment struct {
	Identity        *models.Identity
	Secret          string
	ProvisioningURI string
}

type Verification struct {
	Identity  *models.Identity
	Token     string
	ExpiresAt time.Time
}

type SecondFactorStatus struct {
	Enabled              bool
	CompletedThisSession bool
}

// SecondFactorService drives TOTP enrollment:
// no secret -> secret stored -> enabled on first accepted code, with a
// per-session completed flag that every password login clears.
type SecondFactorService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	auth        *AuthenticationService
	engine      *secondfactor.Engine
	issuer      *auth.Issuer
	config      *config.Config
	logger      logging.Logger
	metrics     *metrics.Metrics
}

func NewSecondFactorService(db *sql.DB, m repomanager.RepositoryManager, authSvc *AuthenticationService,
	engine *secondfactor.Engine, issuer *auth.Issuer, cfg *config.Config, logger logging.Logger, mx *metrics.Metrics) *SecondFactorService {
	return &SecondFactorService{
		db:          db,
		repomanager: m,
		auth:        authSvc,
		engine:      engine,
		issuer:      issuer,
		config:      cfg,
		logger:      logger.With("module", "secondfactor"),
		metrics:     mx,
	}
}

// Enroll re-authenticates and returns the identity's TOTP secret, creating
// it on first use. Repeated calls return the same secret.
func (s *SecondFactorService) Enroll(ctx context.Context, identifier, password string) (*Enrollment, error) {
	identity, err := s.auth.VerifyCredentials(ctx, identifier, password)
	if err != nil {
		return nil, err
	}

	if identity.OTPSecret == "" {
		key, err := s.engine.NewSecret(identity.Email)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
		}

		stored, err := s.storeSecret(ctx, identity.ID, key.Secret)
		if err != nil {
			return nil, unavailable(err)
		}
		if stored {
			identity.OTPSecret = key.Secret
			s.logger.Info(ctx, "second factor secret generated", "identity_id", identity.ID)
			return &Enrollment{Identity: identity, Secret: key.Secret, ProvisioningURI: key.URI}, nil
		}

		// a concurrent enrollment won; use its secret
		if identity, err = s.reload(ctx, identity.ID); err != nil {
			return nil, err
		}
	}

	key, err := s.engine.Provision(identity.OTPSecret, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	return &Enrollment{Identity: identity, Secret: key.Secret, ProvisioningURI: key.URI}, nil
}

// Verify checks code for identifier. On success the session is marked
// completed and a token without the pending claim is issued. Codes are not
// remembered and may be reused inside their window.
func (s *SecondFactorService) Verify(ctx context.Context, identifier, code string) (*Verification, error) {
	res, err := s.auth.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if res.Kind == NotFound {
		return nil, common.ErrUserNotFound
	}
	identity := res.Identity

	if identity.OTPSecret == "" {
		s.metrics.RecordSecondFactor("not_enrolled")
		return nil, common.Err2FANotEnrolled
	}
	if !s.engine.Validate(identity.OTPSecret, code) {
		s.metrics.RecordSecondFactor("invalid_code")
		s.logger.Info(ctx, "second factor code rejected", "identity_id", identity.ID)
		return nil, common.Err2FAInvalidCode
	}

	enable := s.config.SecondFactor.EnableOnFirstVerify
	if err := s.markVerified(ctx, identity.ID, enable); err != nil {
		return nil, unavailable(err)
	}
	identity.OTPCompleted = true
	identity.OTPEnabled = identity.OTPEnabled || enable

	token, expiresAt, err := s.issuer.Issue(identity, 0, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	s.metrics.RecordSecondFactor("success")
	return &Verification{Identity: identity, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *SecondFactorService) Status(ctx context.Context, identifier string) (*SecondFactorStatus, error) {
	res, err := s.auth.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if res.Kind == NotFound {
		return nil, common.ErrUserNotFound
	}
	return &SecondFactorStatus{
		Enabled:              res.Identity.OTPEnabled,
		CompletedThisSession: res.Identity.OTPCompleted,
	}, nil
}

// QRCode renders the provisioning URI of secret as a PNG.
func (s *SecondFactorService) QRCode(secret, account string) ([]byte, error) {
	return s.engine.QRCode(secret, account, QRCodeSize)
}

func (s *SecondFactorService) storeSecret(ctx context.Context, id, secret string) (bool, error) {
	ctx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	return s.repomanager.Identities(s.db).SetOTPSecretIfEmpty(ctx, id, secret)
}

func (s *SecondFactorService) markVerified(ctx context.Context, id string, enable bool) error {
	ctx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	return s.repomanager.Identities(s.db).MarkOTPVerified(ctx, id, enable)
}

func (s *SecondFactorService) reload(ctx context.Context, id string) (*models.Identity, error) {
	ctx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	identity, err := s.repomanager.Identities(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, unavailable(err)
	}
	return identity, nil
}
