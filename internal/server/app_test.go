package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/directory"
	"github.com/dmitrijs2005/gatekeeper/internal/server/export"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.DatabaseDriver = "sqlite"
	cfg.DatabaseDSN = filepath.Join(t.TempDir(), "gatekeeper.db")
	return cfg
}

func TestNewApp_ServesHealth(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Export.Backend = "file"
	cfg.Export.Path = filepath.Join(t.TempDir(), "export.ldif")

	var logs bytes.Buffer
	app, err := NewApp(context.Background(), cfg, &logs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.db.Close() })

	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	assert.Contains(t, logs.String(), `"msg":"request"`)
}

func TestNewApp_BadDatabase(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.DatabaseDriver = "nosuchdriver"

	_, err := NewApp(context.Background(), cfg, &bytes.Buffer{})
	assert.ErrorContains(t, err, "db init error")
}

func TestNewBackends(t *testing.T) {
	ctx := context.Background()

	cfg := sqliteConfig(t)
	b, err := newBackends(ctx, cfg, logging.Nop{})
	require.NoError(t, err)
	assert.Nil(t, b.Directory)
	assert.Nil(t, b.Export)

	cfg.Directory.Enabled = true
	cfg.Export.Backend = "file"
	b, err = newBackends(ctx, cfg, logging.Nop{})
	require.NoError(t, err)
	assert.IsType(t, &directory.LDAP{}, b.Directory)
	assert.IsType(t, &export.FileSink{}, b.Export)

	cfg.Export.Backend = "s3"
	cfg.Export.S3Bucket = "exports"
	cfg.Export.S3AccessKey = "key"
	cfg.Export.S3SecretKey = "secret"
	cfg.Export.S3Endpoint = "http://127.0.0.1:9000"
	b, err = newBackends(ctx, cfg, logging.Nop{})
	require.NoError(t, err)
	assert.IsType(t, &export.S3Sink{}, b.Export)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	app, err := NewApp(context.Background(), sqliteConfig(t), &bytes.Buffer{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, app.Run(ctx))
}

func TestNewProvisioningService(t *testing.T) {
	ctx := context.Background()
	prov, closer, err := NewProvisioningService(ctx, sqliteConfig(t), logging.Nop{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = closer.Close() })

	res, err := prov.Create(ctx, services.CreateRequest{Email: "root@example.com", Password: "pw123", Role: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "root@example.com", res.Identity.Email)
}
