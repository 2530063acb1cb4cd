// Package server initializes and runs the sync server: it wires storage
// backends, the sync engine, downstream event consumers and the HTTP
// endpoint, and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmarauda/server/internal/logging"
	"github.com/danmarauda/server/internal/server/config"
	"github.com/danmarauda/server/internal/server/events"
	"github.com/danmarauda/server/internal/server/httpapi"
	"github.com/danmarauda/server/internal/server/items"
	"github.com/danmarauda/server/internal/server/repositories/repomanager"
	"github.com/danmarauda/server/internal/server/revisions"
	"github.com/danmarauda/server/internal/server/synctoken"
	"github.com/danmarauda/server/internal/server/userevents"
	"github.com/danmarauda/server/internal/timer"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	httpSrv *httpapi.Server
}

func NewApp(c *config.Config) (*App, error) {
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	manager := repomanager.NewPostgresRepositoryManager()
	if err := manager.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	itemRepo := manager.Items(db)
	vaultUserRepo := manager.SharedVaultUsers(db)
	notificationRepo := manager.Notifications(db)

	clock := timer.NewMonotonicTimer()
	codec := synctoken.NewCodec(clock)

	dispatcher := events.NewDispatcher(logger)
	archive := revisions.NewArchive(itemRepo, c, logger)
	dispatcher.Subscribe(events.TypeItemRevisionCreationRequested, archive.HandleEvent)

	userEventService := userevents.NewService(notificationRepo, clock)

	itemService := items.NewService(
		itemRepo,
		vaultUserRepo,
		items.NewTransferCalculator(itemRepo),
		items.NewSaveValidator(vaultUserRepo, c.SyncConflictTolerance),
		codec,
		clock,
		dispatcher,
		userEventService,
		logger,
		items.ServiceConfig{
			DefaultLimit:          c.SyncDefaultLimit,
			MaxLimit:              c.SyncMaxLimit,
			ContentTransferBudget: c.ContentTransferBudget,
			RevisionFrequency:     c.RevisionFrequency,
		},
	)

	httpSrv := httpapi.NewServer(itemService, userEventService, []byte(c.SecretKey), logger, db.PingContext)

	return &App{config: c, logger: logger, db: db, httpSrv: httpSrv}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "addr", app.config.EndpointAddr)
	app.initSignalHandler(cancelFunc)

	srv := &http.Server{
		Addr:    app.config.EndpointAddr,
		Handler: app.httpSrv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	app.logger.Info(ctx, "Stopping HTTP server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return app.db.Close()
}
