// Package server wires configuration, the credential store, the optional
// directory and export backends and the HTTP API into one process.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/directory"
	"github.com/dmitrijs2005/gatekeeper/internal/server/export"
	"github.com/dmitrijs2005/gatekeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/gatekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gatekeeper/internal/server/secondfactor"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	handler http.Handler
}

// NewApp opens and migrates the credential store, builds the configured
// backends and assembles the HTTP handler. Logs go to out.
func NewApp(ctx context.Context, c *config.Config, out io.Writer) (*App, error) {
	logger := logging.NewJSONLogger(out, c.LogLevel)

	db, err := repomanager.Open(ctx, c.DatabaseDriver, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app, err := build(ctx, c, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

// NewProvisioningService opens the credential store and the configured
// backends for offline identity management. The returned closer releases
// the database.
func NewProvisioningService(ctx context.Context, c *config.Config, logger logging.Logger) (*services.ProvisioningService, io.Closer, error) {
	db, err := repomanager.Open(ctx, c.DatabaseDriver, c.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("db init error: %w", err)
	}

	rm, err := migrate(ctx, c, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	backends, err := newBackends(ctx, c, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return services.NewProvisioningService(db, rm, backends, c, logger, nil), db, nil
}

func migrate(ctx context.Context, c *config.Config, db *sql.DB, logger logging.Logger) (repomanager.RepositoryManager, error) {
	rm, err := repomanager.NewRepositoryManager(c.DatabaseDriver, logger)
	if err != nil {
		return nil, err
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return rm, nil
}

func build(ctx context.Context, c *config.Config, db *sql.DB, logger logging.Logger) (*App, error) {
	rm, err := migrate(ctx, c, db, logger)
	if err != nil {
		return nil, err
	}

	backends, err := newBackends(ctx, c, logger)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mx := metrics.New(reg)

	issuer := auth.NewIssuer([]byte(c.SecretKey), c.TokenTTL)
	authn := services.NewAuthenticationService(db, rm, backends, issuer, c, logger, mx)
	svc := httpapi.Services{
		Authentication: authn,
		SecondFactor: services.NewSecondFactorService(db, rm, authn,
			secondfactor.NewEngine(c.SecondFactor.Issuer), issuer, c, logger, mx),
		Provisioning: services.NewProvisioningService(db, rm, backends, c, logger, mx),
		Dashboards:   services.NewDashboardService(db, rm, c),
	}

	return &App{
		config:  c,
		logger:  logger,
		db:      db,
		handler: httpapi.NewRouter(svc, db, reg, logger),
	}, nil
}

// newBackends returns the directory and export sink enabled in c. Unset
// backends stay nil.
func newBackends(ctx context.Context, c *config.Config, logger logging.Logger) (services.Backends, error) {
	var b services.Backends

	if c.Directory.Enabled {
		b.Directory = directory.NewLDAP(directory.Options{
			URL:          c.Directory.URL,
			BindDN:       c.Directory.BindDN,
			BindPassword: c.Directory.BindPassword,
			Timeout:      c.Directory.Timeout,
		}, logger)
	}

	switch c.Export.Backend {
	case "file":
		b.Export = export.NewFileSink(c.Export.Path)
	case "s3":
		sink, err := export.NewS3Sink(ctx, export.S3Options{
			Bucket:    c.Export.S3Bucket,
			Key:       c.Export.S3Key,
			Region:    c.Export.S3Region,
			Endpoint:  c.Export.S3Endpoint,
			AccessKey: c.Export.S3AccessKey,
			SecretKey: c.Export.S3SecretKey,
		})
		if err != nil {
			return b, fmt.Errorf("export sink: %w", err)
		}
		b.Export = sink
	}

	return b, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves HTTP until ctx is canceled or a termination signal arrives,
// then closes the database.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer func() { _ = app.db.Close() }()

	app.initSignalHandler(cancelFunc)

	app.logger.Info(ctx, "starting app",
		"db_driver", app.config.DatabaseDriver,
		"directory", app.config.Directory.Enabled,
		"export", app.config.Export.Backend,
	)

	if err := httpapi.NewServer(app.config.HTTPAddr, app.handler, app.logger).Run(ctx); err != nil {
		app.logger.Error(ctx, "http server failed", "error", err)
		return err
	}
	app.logger.Info(ctx, "app stopped")
	return nil
}
