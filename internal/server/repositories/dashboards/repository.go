package dashboards

import (
	"context"

	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, identityID string) (*models.Dashboard, error)
	Save(ctx context.Context, dashboard *models.Dashboard) error
	DeleteByIdentity(ctx context.Context, identityID string) error
}
