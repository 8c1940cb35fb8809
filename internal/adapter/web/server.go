// Package web serves the dashboard API, the live event stream and the
// Prometheus metrics.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"

	"github.com/semmidev/vigil/internal/adapter/storage"
	"github.com/semmidev/vigil/internal/config"
	"github.com/semmidev/vigil/internal/domain"
	"github.com/semmidev/vigil/internal/eventbus"
	"github.com/semmidev/vigil/internal/status"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// Controller is the control surface the dashboard drives.
type Controller interface {
	StartScheduler() error
	StopScheduler(ctx context.Context) error
	TriggerJob(ctx context.Context, name string) (domain.JobRun, error)
	RequestShutdown()
}

type Server struct {
	cfg    config.WebConfig
	store  *status.Store
	events *eventbus.Broadcaster
	ctl    Controller
	logger Logger
	oauth  *oauth2.Config

	httpServer *http.Server
}

func New(cfg config.WebConfig, store *status.Store, events *eventbus.Broadcaster, ctl Controller, logger Logger) (*Server, error) {
	if store == nil || events == nil || ctl == nil {
		return nil, errors.New("web server needs a store, a broadcaster and a controller")
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		events: events,
		ctl:    ctl,
		logger: logger,
	}
	if cfg.OAuthClientSecret != "" {
		oc, err := storage.OAuthConfig(cfg.OAuthClientSecret)
		if err != nil {
			return nil, err
		}
		s.oauth = oc
	}
	return s, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if s.cfg.Username != "" {
		r.Use(middleware.BasicAuth("vigil", map[string]string{
			s.cfg.Username: s.cfg.Password,
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Get("/scheduler", s.handleScheduler)
		r.Post("/scheduler/start", s.handleSchedulerStart)
		r.Post("/scheduler/stop", s.handleSchedulerStop)
		r.Post("/jobs/{name}/run", s.handleRunJob)
		r.Post("/shutdown", s.handleShutdown)
		r.Get("/events", s.handleEvents)
	})
	r.Handle("/metrics", promhttp.Handler())

	if s.oauth != nil {
		r.Get("/auth/google/drive", s.handleOAuthStart)
		r.Get("/auth/google/callback", s.handleOAuthCallback)
	}
	return r
}

// Start listens in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Infof("Dashboard listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Dashboard server error: %v", err)
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for the active ones.
// WebSocket streams end when the broadcaster closes.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown dashboard server: %w", err)
	}
	s.logger.Infof("Dashboard server stopped")
	return nil
}
