package dashboards

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Get(ctx context.Context, identityID string) (*models.Dashboard, error) {
	query :=
		`SELECT identity_id, panels, updated_at FROM dashboards
		 WHERE identity_id = $1
		 `

	var (
		d      models.Dashboard
		panels string
	)
	err := r.db.QueryRowContext(ctx, query, identityID).Scan(&d.IdentityID, &panels, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	d.Panels = []byte(panels)
	return &d, nil
}

// Save inserts or replaces the panels of one identity.
func (r *SQLRepository) Save(ctx context.Context, dashboard *models.Dashboard) error {
	if dashboard.UpdatedAt.IsZero() {
		dashboard.UpdatedAt = time.Now().UTC()
	}

	query :=
		`INSERT INTO dashboards (identity_id, panels, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (identity_id) DO UPDATE
		 SET panels = excluded.panels, updated_at = excluded.updated_at
		 `

	_, err := r.db.ExecContext(ctx, query, dashboard.IdentityID, string(dashboard.Panels), dashboard.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteByIdentity is a no-op when the identity never saved a dashboard.
func (r *SQLRepository) DeleteByIdentity(ctx context.Context, identityID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM dashboards WHERE identity_id = $1`, identityID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
