// Package testutil holds test fixtures shared by server packages.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
)

// NewSQLite returns a migrated sqlite database in a temp dir, closed on cleanup.
func NewSQLite(t testing.TB) (*sql.DB, repomanager.RepositoryManager) {
	t.Helper()
	ctx := context.Background()

	db, err := repomanager.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "gatekeeper.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	m, err := repomanager.NewRepositoryManager("sqlite", logging.Nop{})
	if err != nil {
		t.Fatalf("repository manager: %v", err)
	}
	if err := m.RunMigrations(ctx, db); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return db, m
}
