package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/cryptox"
	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/directory"
	"github.com/dmitrijs2005/gatekeeper/internal/server/export"
	"github.com/dmitrijs2005/gatekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
)

type CreateRequest struct {
	Email    string
	Username string
	Password string
	Role     string
}

// CreateResult describes a committed create. Warnings holds downstream
// failures that did not undo it (export sink only).
type CreateResult struct {
	Identity *models.Identity
	DN       string
	Warnings []error
}

// DeleteResult describes a committed delete. Warnings holds directory and
// export cleanup failures.
type DeleteResult struct {
	Identity *models.Identity
	DN       string
	Warnings []error
}

// ProvisioningService keeps an identity consistent across the credential
// store, the directory and the export sink.
//
// Create writes store -> directory -> export. The store row is the commit
// point; a directory failure deletes it again, an export failure is only
// reported. Delete removes the store row first and then cleans up
// downstream, reporting failures as warnings.
type ProvisioningService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	backends    Backends
	config      *config.Config
	logger      logging.Logger
	metrics     *metrics.Metrics
	bcryptCost  int
}

func NewProvisioningService(db *sql.DB, m repomanager.RepositoryManager, b Backends,
	cfg *config.Config, logger logging.Logger, mx *metrics.Metrics) *ProvisioningService {
	return &ProvisioningService{
		db:          db,
		repomanager: m,
		backends:    b,
		config:      cfg,
		logger:      logger.With("module", "provisioning"),
		metrics:     mx,
		bcryptCost:  cryptox.DefaultBcryptCost,
	}
}

func (s *ProvisioningService) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	res, err := s.create(ctx, req)
	s.metrics.RecordProvisioning("create", outcome(err))
	return res, err
}

func (s *ProvisioningService) create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	req, err := validateCreate(req)
	if err != nil {
		return nil, err
	}

	exists, err := s.exists(ctx, req.Email, req.Username)
	if err != nil {
		return nil, unavailable(err)
	}
	if exists {
		return nil, common.ErrAlreadyExists
	}

	hash, err := cryptox.HashPasswordWithCost(req.Password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreWriteFailed, err)
	}

	identity, err := s.insert(ctx, &models.Identity{
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hash,
		Role:         req.Role,
	})
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("%w: %v", common.ErrStoreWriteFailed, err)
	}

	log := s.logger.With("identity_id", identity.ID, "email", identity.Email)
	result := &CreateResult{Identity: identity, DN: directory.DN(identity, s.config.Directory.BaseDN)}

	if !s.needsEntry(identity.Role) {
		log.Info(ctx, "identity created")
		return result, nil
	}

	ssha, err := cryptox.SSHA(req.Password)
	if err != nil {
		s.compensate(ctx, log, identity)
		return nil, fmt.Errorf("%w: %v", common.ErrDirectoryWriteFailed, err)
	}
	entry := directory.Entry{DN: result.DN, Name: identity.LocalName(), Email: identity.Email, Password: ssha}

	if delegates(s.backends, s.config, identity.Role) {
		if err := s.addToDirectory(ctx, entry); err != nil {
			log.Warn(ctx, "directory add failed, rolling back", "dn", entry.DN, "error", err)
			s.compensate(ctx, log, identity)
			if errors.Is(err, directory.ErrEntryExists) {
				return nil, common.ErrAlreadyExistsRemote
			}
			return nil, fmt.Errorf("%w: %v", common.ErrDirectoryWriteFailed, err)
		}
	}

	if s.backends.Export != nil {
		if err := s.appendExport(ctx, entry); err != nil {
			log.Warn(ctx, "export append failed", "dn", entry.DN, "error", err)
			s.metrics.RecordWarning("export")
			result.Warnings = append(result.Warnings, fmt.Errorf("%w: %v", common.ErrExportSinkFailed, err))
		}
	}

	log.Info(ctx, "identity created", "dn", entry.DN, "warnings", len(result.Warnings))
	return result, nil
}

func (s *ProvisioningService) Delete(ctx context.Context, identifier string) (*DeleteResult, error) {
	res, err := s.delete(ctx, identifier)
	s.metrics.RecordProvisioning("delete", outcome(err))
	return res, err
}

func (s *ProvisioningService) delete(ctx context.Context, identifier string) (*DeleteResult, error) {
	res, err := s.resolve(ctx, identifier)
	if err != nil {
		return nil, unavailable(err)
	}
	if res.Kind == NotFound {
		return nil, common.ErrUserNotFound
	}
	identity := res.Identity

	if err := s.remove(ctx, identity.ID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", common.ErrStoreWriteFailed, err)
	}

	log := s.logger.With("identity_id", identity.ID, "email", identity.Email)
	result := &DeleteResult{Identity: identity, DN: directory.DN(identity, s.config.Directory.BaseDN)}

	if delegates(s.backends, s.config, identity.Role) {
		if err := s.deleteFromDirectory(ctx, result.DN); err != nil && !errors.Is(err, directory.ErrNoSuchEntry) {
			log.Warn(ctx, "directory delete failed", "dn", result.DN, "error", err)
			s.metrics.RecordWarning("directory")
			result.Warnings = append(result.Warnings, fmt.Errorf("%w: %v", common.ErrDirectoryWriteFailed, err))
		}
	}

	if s.backends.Export != nil {
		entry := directory.Entry{DN: result.DN, Email: identity.Email}
		if err := s.removeExport(ctx, entry); err != nil && !errors.Is(err, export.ErrNoSuchEntry) {
			log.Warn(ctx, "export removal failed", "dn", result.DN, "error", err)
			s.metrics.RecordWarning("export")
			result.Warnings = append(result.Warnings, fmt.Errorf("%w: %v", common.ErrExportSinkFailed, err))
		}
	}

	log.Info(ctx, "identity deleted", "dn", result.DN, "warnings", len(result.Warnings))
	return result, nil
}

// compensate undoes the store write of a failed create. It runs even when
// ctx is already canceled; failures are logged and otherwise swallowed.
func (s *ProvisioningService) compensate(ctx context.Context, log logging.Logger, identity *models.Identity) {
	err := s.remove(context.WithoutCancel(ctx), identity.ID)
	s.metrics.RecordCompensation(err == nil)
	if err != nil {
		log.Error(ctx, "compensating delete failed, credential store row left behind", "error", err)
		return
	}
	log.Info(ctx, "credential store row rolled back")
}

func (s *ProvisioningService) needsEntry(role string) bool {
	return delegates(s.backends, s.config, role) || s.backends.Export != nil
}

func (s *ProvisioningService) exists(ctx context.Context, email, username string) (bool, error) {
	ctx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	return s.repomanager.Identities(s.db).ExistsByEmailOrUsername(ctx, email, username)
}

func (s *ProvisioningService) resolve(ctx context.Context, identifier string) (Resolution, error) {
	ctx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	return Resolve(ctx, s.repomanager.Identities(s.db), identifier)
}

func (s *ProvisioningService) insert(ctx context.Context, identity *models.Identity) (*models.Identity, error) {
	ctx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	defer s.metrics.ObserveBackend("store", "create", time.Now())
	return s.repomanager.Identities(s.db).Create(ctx, identity)
}

// remove deletes the identity row and its dashboard in one transaction.
func (s *ProvisioningService) remove(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	defer s.metrics.ObserveBackend("store", "delete", time.Now())

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Dashboards(tx).DeleteByIdentity(ctx, id); err != nil {
			return err
		}
		return s.repomanager.Identities(tx).Delete(ctx, id)
	})
}

func (s *ProvisioningService) addToDirectory(ctx context.Context, entry directory.Entry) error {
	ctx, cancel := withTimeout(ctx, s.config.Directory.Timeout)
	defer cancel()
	defer s.metrics.ObserveBackend("directory", "add", time.Now())
	return s.backends.Directory.Add(ctx, entry)
}

func (s *ProvisioningService) deleteFromDirectory(ctx context.Context, dn string) error {
	ctx, cancel := withTimeout(ctx, s.config.Directory.Timeout)
	defer cancel()
	defer s.metrics.ObserveBackend("directory", "delete", time.Now())
	return s.backends.Directory.Delete(ctx, dn)
}

func (s *ProvisioningService) appendExport(ctx context.Context, entry directory.Entry) error {
	ctx, cancel := withTimeout(ctx, s.config.Export.Timeout)
	defer cancel()
	defer s.metrics.ObserveBackend("export", "append", time.Now())
	return s.backends.Export.Append(ctx, entry)
}

func (s *ProvisioningService) removeExport(ctx context.Context, entry directory.Entry) error {
	ctx, cancel := withTimeout(ctx, s.config.Export.Timeout)
	defer cancel()
	defer s.metrics.ObserveBackend("export", "remove", time.Now())
	return s.backends.Export.Remove(ctx, entry)
}

// validateCreate normalizes req and checks it before anything is touched.
func validateCreate(req CreateRequest) (CreateRequest, error) {
	req.Email = normalizeEmail(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))

	switch {
	case req.Email == "":
		return req, fmt.Errorf("%w: email", common.ErrMissingField)
	case req.Password == "":
		return req, fmt.Errorf("%w: password", common.ErrMissingField)
	case req.Role == "":
		return req, fmt.Errorf("%w: role", common.ErrMissingField)
	}

	if addr, err := mail.ParseAddress(req.Email); err != nil || addr.Address != req.Email {
		return req, fmt.Errorf("%w: email", common.ErrInvalidField)
	}
	if strings.Contains(req.Username, "@") {
		return req, fmt.Errorf("%w: username must not contain '@'", common.ErrInvalidField)
	}
	if strings.IndexFunc(req.Username, func(r rune) bool { return !unicode.IsPrint(r) }) >= 0 {
		return req, fmt.Errorf("%w: username must contain printable characters only", common.ErrInvalidField)
	}
	if !slices.Contains(common.KnownRoles, req.Role) {
		return req, fmt.Errorf("%w: role %q", common.ErrInvalidField, req.Role)
	}
	if err := cryptox.ValidatePassword(req.Password); err != nil {
		return req, fmt.Errorf("%w: %v", common.ErrInvalidField, err)
	}
	return req, nil
}

// outcome is the metrics label for a provisioning error.
func outcome(err error) string {
	kinds := []struct {
		err   error
		label string
	}{
		{common.ErrMissingField, "missing_field"},
		{common.ErrInvalidField, "invalid_field"},
		{common.ErrAlreadyExistsRemote, "already_exists_remote"},
		{common.ErrAlreadyExists, "already_exists"},
		{common.ErrUserNotFound, "not_found"},
		{common.ErrStoreWriteFailed, "store_write_failed"},
		{common.ErrDirectoryWriteFailed, "directory_write_failed"},
		{common.ErrBackendUnavailable, "unavailable"},
	}
	if err == nil {
		return "success"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	return "error"
}
