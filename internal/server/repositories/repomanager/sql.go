// Package repomanager provides the concrete RepositoryManager for the
// credential store, wiring together repository constructors and database
// migrations (via goose). Both the pgx and the sqlite driver are supported.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/gatekeeper/internal/dbx"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/migrations"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/dashboards"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/identities"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLRepositoryManager vends SQL repository implementations and exposes a
// schema migration hook for its goose dialect.
type SQLRepositoryManager struct {
	dialect string
	logger  logging.Logger
}

// Identities returns an identities.Repository bound to the provided DBTX.
func (m *SQLRepositoryManager) Identities(db dbx.DBTX) identities.Repository {
	return identities.NewSQLRepository(db)
}

// Dashboards returns a dashboards.Repository bound to the provided DBTX.
func (m *SQLRepositoryManager) Dashboards(db dbx.DBTX) dashboards.Repository {
	return dashboards.NewSQLRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	logger := m.logger
	if logger == nil {
		logger = logging.Nop{}
	}
	goose.SetLogger(gooseLogger{ctx: ctx, logger: logger})
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(m.dialect); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// NewRepositoryManager constructs a RepositoryManager for a database/sql
// driver name ("pgx" or "sqlite"). Migration progress goes to logger.
func NewRepositoryManager(driver string, logger logging.Logger) (RepositoryManager, error) {
	switch driver {
	case "pgx":
		return &SQLRepositoryManager{dialect: "pgx", logger: logger}, nil
	case "sqlite":
		return &SQLRepositoryManager{dialect: "sqlite3", logger: logger}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Open opens the database pool for driver and checks connectivity.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if driver == "sqlite" {
		// one writer keeps SQLITE_BUSY out of concurrent requests
		db.SetMaxOpenConns(1)
	}
	return db, nil
}
