package identities

import (
	"context"

	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

// Repository is the credential store. Lookups return common.ErrorNotFound
// when no row matches; Create returns common.ErrAlreadyExists on an email or
// username unique violation.
type Repository interface {
	Create(ctx context.Context, identity *models.Identity) (*models.Identity, error)
	GetByID(ctx context.Context, id string) (*models.Identity, error)
	GetByEmail(ctx context.Context, email string) (*models.Identity, error)
	GetByUsername(ctx context.Context, username string) (*models.Identity, error)
	ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error)
	Delete(ctx context.Context, id string) error

	// SetOTPSecretIfEmpty stores secret only when none is set yet and reports
	// whether the row was updated.
	SetOTPSecretIfEmpty(ctx context.Context, id, secret string) (bool, error)
	SetOTPCompleted(ctx context.Context, id string, completed bool) error
	// MarkOTPVerified sets otp_completed and, when enable is true, otp_enabled.
	MarkOTPVerified(ctx context.Context, id string, enable bool) error
}
