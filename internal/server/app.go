// Package server wires configuration, storage, services and the HTTP API
// together and runs them until the process is asked to stop.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/authkeeper/internal/server/mail"
	"github.com/dmitrijs2005/authkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/memory"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/dmitrijs2005/authkeeper/internal/server/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Storage is an opened persistence backend.
type Storage struct {
	DB      *sql.DB
	// Conn is what repositories run on outside transactions; nil for memory.
	Conn    dbx.DBTX
	Manager repomanager.RepositoryManager
	Tx      dbx.Transactor
}

// Close releases the database handle, if any.
func (s *Storage) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// OpenStorage connects to PostgreSQL and applies migrations, or returns a
// fresh in-memory store when the DSN is config.MemoryDSN.
func OpenStorage(ctx context.Context, c *config.Config) (*Storage, error) {
	if c.UsesMemoryStore() {
		store := memory.NewStore()
		return &Storage{Manager: store, Tx: store}, nil
	}

	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	m := repomanager.NewPostgresRepositoryManager()
	if err := m.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Storage{DB: db, Conn: db, Manager: m, Tx: dbx.NewSQLTransactor(db)}, nil
}

type App struct {
	config   *config.Config
	logger   logging.Logger
	storage  *Storage
	handler  http.Handler
	limiter  *httpapi.RateLimiter
	cleanup  *worker.Cleanup
	users    *services.UserService
	registry *prometheus.Registry
}

func newNotifier(c *config.Config, logger logging.Logger) (mail.Notifier, error) {
	if c.SMTPHost == "" {
		logger.Warn(context.Background(), "SMTP is not configured, reset links will only be logged")
		return mail.NewLogNotifier(logger, c.FrontendURL), nil
	}
	n, err := mail.NewSMTPNotifier(mail.SMTPConfig{
		Host:        c.SMTPHost,
		Port:        c.SMTPPort,
		Username:    c.SMTPUsername,
		Password:    c.SMTPPassword,
		From:        c.SMTPFrom,
		AppName:     c.AppName,
		FrontendURL: c.FrontendURL,
		Timeout:     10 * time.Second,
	}, logger)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// NewApp validates c, opens storage and builds every component.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	storage, err := OpenStorage(ctx, c)
	if err != nil {
		return nil, err
	}

	notifier, err := newNotifier(c, logger)
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("mail init error: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	hasher := auth.NewHasher(c.BcryptCost)
	issuer := auth.NewIssuer([]byte(c.SecretKey), c.AccessTokenValidityDuration)

	authService := services.NewAuthService(storage.Conn, storage.Manager, hasher, issuer, collector, logger)
	resetService := services.NewResetService(storage.Conn, storage.Tx, storage.Manager, hasher, notifier, collector, logger,
		services.WithResetTTL(c.ResetTokenValidityDuration))
	userService := services.NewUserService(storage.Conn, storage.Manager, hasher)

	cleanup, err := worker.NewCleanup(c.CleanupSchedule, resetService, logger)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	var limiter *httpapi.RateLimiter
	if c.LoginRateLimit > 0 {
		limiter = httpapi.NewRateLimiter(c.LoginRateLimit, 5*time.Minute)
	}

	handler := httpapi.NewRouter(&httpapi.RouterDeps{
		Gate:           authService,
		Resetter:       resetService,
		Users:          userService,
		Logger:         logger,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(registry),
		RateLimiter:    limiter,

		TrustProxyHeaders: c.TrustProxyHeaders,
	})

	return &App{
		config:   c,
		logger:   logger,
		storage:  storage,
		handler:  handler,
		limiter:  limiter,
		cleanup:  cleanup,
		users:    userService,
		registry: registry,
	}, nil
}

// Handler is the fully wired HTTP handler.
func (app *App) Handler() http.Handler { return app.handler }

// Users exposes account management, mainly for seeding.
func (app *App) Users() *services.UserService { return app.users }

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves HTTP and runs the cleanup job until ctx is cancelled or a
// termination signal arrives. Resources are released before it returns.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var (
		wg     sync.WaitGroup
		runErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		s := httpapi.NewServer(app.config.EndpointAddrHTTP, app.handler, app.logger)
		if err := s.Run(ctx); err != nil {
			app.logger.Error(ctx, "http server failed", "error", err)
			runErr = err
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.cleanup.Run(ctx)
	}()

	wg.Wait()

	return errors.Join(runErr, app.Close())
}

// Close stops background helpers and releases storage.
func (app *App) Close() error {
	if app.limiter != nil {
		app.limiter.Stop()
	}
	return app.storage.Close()
}
