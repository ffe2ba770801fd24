package identities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/google/uuid"
)

// SQLRepository works on both the pgx and the sqlite driver: queries stick
// to $n placeholders and portable SQL.
type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

const selectColumns = `id, email, username, password_hash, role, otp_secret, otp_enabled, otp_completed`

func (r *SQLRepository) Create(ctx context.Context, identity *models.Identity) (*models.Identity, error) {
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}

	query :=
		`INSERT INTO identities (id, email, username, password_hash, role)
		 VALUES ($1, $2, $3, $4, $5)
		 `

	_, err := r.db.ExecContext(ctx, query,
		identity.ID, identity.Email, nullable(identity.Username), identity.PasswordHash, identity.Role)

	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return identity, nil
}

func (r *SQLRepository) GetByID(ctx context.Context, id string) (*models.Identity, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM identities WHERE id = $1`, id)
}

func (r *SQLRepository) GetByEmail(ctx context.Context, email string) (*models.Identity, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM identities WHERE email = $1`, email)
}

func (r *SQLRepository) GetByUsername(ctx context.Context, username string) (*models.Identity, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM identities WHERE username = $1`, username)
}

func (r *SQLRepository) getOne(ctx context.Context, query string, arg string) (*models.Identity, error) {
	var (
		identity  models.Identity
		username  sql.NullString
		otpSecret sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&identity.ID, &identity.Email, &username, &identity.PasswordHash, &identity.Role,
		&otpSecret, &identity.OTPEnabled, &identity.OTPCompleted)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	identity.Username = username.String
	identity.OTPSecret = otpSecret.String
	return &identity, nil
}

// ExistsByEmailOrUsername checks both unique keys. An empty username only
// matches on email.
func (r *SQLRepository) ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error) {
	query :=
		`SELECT COUNT(*) FROM identities
		 WHERE email = $1 OR username = $2
		 `

	var n int64
	if err := r.db.QueryRowContext(ctx, query, email, nullable(username)).Scan(&n); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectAffected(res)
}

func (r *SQLRepository) SetOTPSecretIfEmpty(ctx context.Context, id, secret string) (bool, error) {
	query :=
		`UPDATE identities SET otp_secret = $2
		 WHERE id = $1 AND otp_secret IS NULL
		 `

	res, err := r.db.ExecContext(ctx, query, id, secret)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *SQLRepository) SetOTPCompleted(ctx context.Context, id string, completed bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE identities SET otp_completed = $2 WHERE id = $1`, id, completed)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectAffected(res)
}

func (r *SQLRepository) MarkOTPVerified(ctx context.Context, id string, enable bool) error {
	query := `UPDATE identities SET otp_completed = $2 WHERE id = $1`
	if enable {
		query = `UPDATE identities SET otp_completed = $2, otp_enabled = $2 WHERE id = $1`
	}

	res, err := r.db.ExecContext(ctx, query, id, true)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
