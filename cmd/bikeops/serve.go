package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/MADA-gnuBD/bikeops/handlers"
	"github.com/MADA-gnuBD/bikeops/internal/authz"
	"github.com/MADA-gnuBD/bikeops/internal/backend"
	"github.com/MADA-gnuBD/bikeops/internal/config"
	"github.com/MADA-gnuBD/bikeops/internal/db"
	"github.com/MADA-gnuBD/bikeops/internal/layout"
	"github.com/MADA-gnuBD/bikeops/internal/live"
	"github.com/MADA-gnuBD/bikeops/internal/logging"
	"github.com/MADA-gnuBD/bikeops/internal/mapview"
	"github.com/MADA-gnuBD/bikeops/internal/predict"
	"github.com/MADA-gnuBD/bikeops/internal/session"
	"github.com/MADA-gnuBD/bikeops/internal/stations"
	"github.com/MADA-gnuBD/bikeops/internal/workqueue"
	"github.com/MADA-gnuBD/bikeops/models"
	"github.com/MADA-gnuBD/bikeops/repository"
)

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(cfg.Logging)
	logging.Info().Str("version", version).Int("port", cfg.Server.Port).Msg("starting bikeops")

	store, err := repository.Open(ctx, cfg.DB.DatabaseURL, cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	client := backend.New(cfg.Backend)
	predictions := predict.New(client, cfg.Predict)

	sessStore, closer, err := session.OpenStore(ctx, cfg.Session)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	sessions := session.NewManager(sessStore, client, cfg.Session)
	if err := sessions.Init(ctx); err != nil {
		return err
	}
	client.OnUnauthorized(sessions.HandleUnauthorized)

	en, err := authz.New()
	if err != nil {
		return err
	}

	queue := workqueue.New(store, client)
	if err := queue.Load(ctx); err != nil {
		return fmt.Errorf("load work queue: %w", err)
	}

	views := mapview.NewRegistry(layout.New(cfg.Layout), cfg.MapView)
	views.SetStatusFunc(queue.Status)
	queue.OnChange(views.RefreshStatus)
	sessions.OnTeardown(func(s *session.Session, reason string) {
		if n := views.DeleteOwnedBy(s.ID); n > 0 {
			logging.Debug().Int("views", n).Str("reason", reason).Msg("dropped views of ended session")
		}
	})

	hub := live.NewHub()
	views.OnLayout(hub.PublishLayout)

	poller := stations.NewPoller(client, store, cfg.Stations)
	poller.Subscribe(views.ApplySnapshot)
	poller.Subscribe(hub.PublishStations)
	poller.Subscribe(func(*models.Snapshot) { predictions.Purge() })

	if snap, err := store.LatestSnapshot(ctx); err != nil {
		logging.Warn().Err(err).Msg("failed to restore last snapshot")
	} else if snap != nil {
		poller.Restore(snap)
	}

	viewHandler := handlers.NewViewHandler(views, predictions)
	router := handlers.NewRouter(handlers.Deps{
		CORSOrigins:   cfg.Server.CORSOrigins,
		AuthRateLimit: cfg.Server.AuthRateLimit,
		StaticDir:     cfg.Server.StaticDir,
		Sessions:      sessions,
		Authz:         en,
		Health:        handlers.NewHealthHandler(poller.Freshness, store, client.BreakerState),
		Stations:      handlers.NewStationHandler(poller, store, queue.Status, en),
		Views:         viewHandler,
		Auth:          handlers.NewAuthHandler(sessions, client),
		AI:            handlers.NewAIHandler(predictions, views),
		Community:     handlers.NewCommunityHandler(client),
		WorkHistory:   handlers.NewWorkHistoryHandler(client, en),
		WorkQueue:     handlers.NewWorkQueueHandler(queue, poller),
		WebSocket:     hub.Handler(cfg.Server.CORSOrigins, viewHandler.Watch),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	sup := suture.New("bikeops", suture.Spec{
		EventHook: logSupervisorEvent,
		Timeout:   cfg.Server.ShutdownTimeout,
	})
	sup.Add(hub)
	sup.Add(poller)
	sup.Add(views)
	sup.Add(sessions)
	sup.Add(db.NewRetentionService(store, cfg.DB.Retention, cfg.DB.CleanupInterval))
	sup.Add(newHTTPService(srv, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", srv.Addr).Msg("API server listening")
	err = sup.Serve(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	logging.Info().Msg("bikeops stopped")
	return err
}

func logSupervisorEvent(e suture.Event) {
	ev := logging.Warn()
	if e.Type() == suture.EventTypeBackoff || e.Type() == suture.EventTypeServicePanic {
		ev = logging.Error()
	}
	ev.Fields(e.Map()).Msg(e.String())
}

// httpService runs an http.Server under the supervisor
type httpService struct {
	srv             *http.Server
	shutdownTimeout time.Duration
}

func newHTTPService(srv *http.Server, shutdownTimeout time.Duration) *httpService {
	return &httpService{srv: srv, shutdownTimeout: shutdownTimeout}
}

func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return suture.ErrDoNotRestart
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *httpService) String() string { return "http-server" }
