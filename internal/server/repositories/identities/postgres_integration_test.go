//go:build integration

package identities_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/identities"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newPostgres(t *testing.T) (*sql.DB, repomanager.RepositoryManager) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gatekeeper"),
		postgres.WithUsername("gatekeeper"),
		postgres.WithPassword("gatekeeper"),
		testcontainers.WithWaitStrategyAndDeadline(2*time.Minute,
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := repomanager.Open(ctx, "pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m, err := repomanager.NewRepositoryManager("pgx", logging.Nop{})
	require.NoError(t, err)
	require.NoError(t, m.RunMigrations(ctx, db))
	require.NoError(t, m.RunMigrations(ctx, db), "migrations are idempotent")
	return db, m
}

func TestPostgres_Identities(t *testing.T) {
	db, m := newPostgres(t)
	repo := m.Identities(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, &models.Identity{
		Email: "alice@example.com", Username: "alice", PasswordHash: "hash", Role: common.RoleEditor,
	})
	require.NoError(t, err)

	got, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = repo.Create(ctx, &models.Identity{Email: "alice@example.com", PasswordHash: "h", Role: common.RoleViewer})
	assert.ErrorIs(t, err, common.ErrAlreadyExists, "pgx unique violation is mapped")

	stored, err := repo.SetOTPSecretIfEmpty(ctx, created.ID, "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	assert.True(t, stored)
	stored, err = repo.SetOTPSecretIfEmpty(ctx, created.ID, "OTHER")
	require.NoError(t, err)
	assert.False(t, stored)

	require.NoError(t, repo.MarkOTPVerified(ctx, created.ID, true))
	got, err = repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, got.OTPEnabled)
	assert.True(t, got.OTPCompleted)

	require.NoError(t, m.Dashboards(db).Save(ctx, &models.Dashboard{IdentityID: created.ID, Panels: []byte(`[]`)}))
	require.NoError(t, repo.Delete(ctx, created.ID))
	_, err = m.Dashboards(db).Get(ctx, created.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound, "dashboard follows the identity")
}

func TestPostgres_ConcurrentCreates(t *testing.T) {
	db, _ := newPostgres(t)
	repo := identities.NewSQLRepository(db)

	const n = 10
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.Create(context.Background(), &models.Identity{
				Email: "race@example.com", PasswordHash: "h", Role: common.RoleViewer,
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, common.ErrAlreadyExists)
		}
	}
	assert.Equal(t, 1, wins)
}
