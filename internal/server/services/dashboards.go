package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
)

// emptyPanels is returned for identities that never saved a layout.
var emptyPanels = json.RawMessage("[]")

// DashboardService stores the UI panel layout of each identity as an opaque
// JSON document.
type DashboardService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *config.Config
}

func NewDashboardService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *DashboardService {
	return &DashboardService{db: db, repomanager: m, config: cfg}
}

func (s *DashboardService) Get(ctx context.Context, identityID string) (json.RawMessage, error) {
	ctx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	d, err := s.repomanager.Dashboards(s.db).Get(ctx, identityID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return emptyPanels, nil
		}
		return nil, unavailable(err)
	}
	return json.RawMessage(d.Panels), nil
}

func (s *DashboardService) Save(ctx context.Context, identityID string, panels json.RawMessage) error {
	if !json.Valid(panels) {
		return fmt.Errorf("%w: panels must be valid JSON", common.ErrInvalidField)
	}

	ctx, cancel := withTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	err := s.repomanager.Dashboards(s.db).Save(ctx, &models.Dashboard{
		IdentityID: identityID,
		Panels:     panels,
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}
