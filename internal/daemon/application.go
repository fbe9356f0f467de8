// Package daemon assembles the relay and runs it either in the foreground or
// as an OS service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/The-Promised-Neverland/vsharing/internal/api/handlers"
	"github.com/The-Promised-Neverland/vsharing/internal/api/routers"
	"github.com/The-Promised-Neverland/vsharing/internal/config"
	"github.com/The-Promised-Neverland/vsharing/internal/service"
	"github.com/The-Promised-Neverland/vsharing/internal/session"
	"github.com/The-Promised-Neverland/vsharing/internal/store"
	"github.com/The-Promised-Neverland/vsharing/internal/stun"
	"github.com/The-Promised-Neverland/vsharing/internal/transfer"
	"github.com/The-Promised-Neverland/vsharing/internal/watcher"
	"github.com/The-Promised-Neverland/vsharing/internal/ws"
	"github.com/The-Promised-Neverland/vsharing/pkg/logger"
	"github.com/The-Promised-Neverland/vsharing/pkg/system"
)

const shutdownTimeout = 10 * time.Second

type Application struct {
	config    *config.Config
	log       *slog.Logger
	store     *store.Store
	sessions  *session.Registry
	hub       *ws.Hub
	transfers *transfer.Manager
	service   *service.Service
	stun      *stun.STUNClient
	server    *http.Server
}

func NewApplication(cfg *config.Config) (*Application, error) {
	log := logger.Log
	st, err := store.New(store.Options{
		Dir:              cfg.UploadDir(),
		TTL:              cfg.FileTTL(),
		CatalogSize:      cfg.MetadataCacheSize(),
		CatalogRetention: cfg.MetadataRetention(),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	sessions := session.NewRegistry()
	hub := ws.NewHub(sessions, log)
	transfers := transfer.NewManager(st, sessions, hub, transfer.Options{
		ChunkSize: cfg.ChunkSize(),
		SavePath:  cfg.SavePath(),
		Logger:    log,
	})
	sessions.OnRelease(transfers.Cancel)
	hub.RegisterDefaultHandlers(transfers, sessions, st)

	stunClient := stun.NewSTUNClient(cfg.StunServer())
	svc := service.NewService(service.Deps{
		Store:       st,
		Sessions:    sessions,
		Connections: hub,
		Transfers:   transfers,
		Endpoint:    stunClient,
		MaxUpload:   cfg.MaxUploadBytes(),
	})

	router := routers.NewRouter(
		handlers.NewHandler(svc),
		handlers.NewWebSocketHandler(hub),
		cfg.StaticDir(),
		log,
	).SetupRouter()

	return &Application{
		config:    cfg,
		log:       log,
		store:     st,
		sessions:  sessions,
		hub:       hub,
		transfers: transfers,
		service:   svc,
		stun:      stunClient,
		server: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func (app *Application) Handler() http.Handler {
	return app.server.Handler
}

// Run serves until ctx is cancelled or the listener fails, then shuts down.
func (app *Application) Run(ctx context.Context) error {
	system.MarkStart()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if app.config.WatchUploads() {
		app.startWatcher(ctx)
	}
	if app.stun != nil {
		go app.stun.StartPeriodicQuery(ctx, app.config.StunInterval())
	}

	errCh := make(chan error, 1)
	go func() {
		app.log.Info("relay listening", "addr", app.server.Addr, "upload_dir", app.store.Dir(), "ttl", app.config.FileTTL())
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	app.Shutdown()
	return runErr
}

// Shutdown stops accepting requests, cancels running transfers and closes
// every connection.
func (app *Application) Shutdown() {
	app.log.Info("relay shutting down", "connections", app.hub.Len(), "transfers", app.transfers.Len())
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.server.Shutdown(ctx); err != nil {
		app.log.Error("http shutdown failed", "error", err)
	}
	app.transfers.Close()
	app.hub.Close()
	app.store.Close()
}

func (app *Application) startWatcher(ctx context.Context) {
	w, err := watcher.NewWatcher(ctx, app.store.Dir(), watcher.DefaultFilterConfig())
	if err != nil {
		app.log.Warn("failed to create upload watcher", "error", err)
		return
	}
	if err := w.Start(); err != nil {
		app.log.Warn("failed to start upload watcher", "error", err)
		w.Stop()
		return
	}
	go w.Sync(app.store)
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
}
