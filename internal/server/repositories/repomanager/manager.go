package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/dashboards"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/identities"
)

// RepositoryManager hands out repositories bound to a DBTX, so the same
// repository works on the pool and inside dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Identities(db dbx.DBTX) identities.Repository
	Dashboards(db dbx.DBTX) dashboards.Repository
}
