// Package v1 implements the HTTP API surface: a thin translation layer
// over the cache and scheduler. The server runs a chi router with
// ListenAndServe in a goroutine racing context cancellation, and a
// bounded Shutdown.
package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/doomsday-project/doomsday/internal/backend"
	"github.com/doomsday-project/doomsday/internal/cache"
	"github.com/doomsday-project/doomsday/internal/config"
	"github.com/doomsday-project/doomsday/internal/scheduler"
)

// Config describes everything the HTTP surface needs to serve requests.
type Config struct {
	Logger          hclog.Logger
	Cache           *cache.Cache
	Scheduler       *scheduler.Scheduler
	Backends        []backend.Spec
	Address         string
	Version         string
	Workers         int
	ShutdownTimeout time.Duration

	AuthMode   config.AuthMode
	Username   string
	Password   string
	SessionTTL time.Duration
}

// Server is the bound HTTP listener for /v1.
type Server struct {
	logger hclog.Logger
	server *http.Server

	cache           *cache.Cache
	scheduler       *scheduler.Scheduler
	allBackendNames []string
	version         string
	workers         int
	shutdownTimeout time.Duration

	authMode config.AuthMode
	username string
	password string
	sessions *sessionStore
}

func NewServer(cfg Config) *Server {
	names := make([]string, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		names = append(names, b.Name)
	}

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	s := &Server{
		logger:          cfg.Logger,
		cache:           cfg.Cache,
		scheduler:       cfg.Scheduler,
		allBackendNames: names,
		version:         cfg.Version,
		workers:         cfg.Workers,
		shutdownTimeout: shutdownTimeout,
		authMode:        cfg.AuthMode,
		username:        cfg.Username,
		password:        cfg.Password,
	}
	if cfg.AuthMode == config.AuthUserpass {
		s.sessions = newSessionStore(cfg.SessionTTL)
	}

	router := chi.NewRouter()
	router.Route("/v1", func(r chi.Router) {
		r.Get("/info", s.handleInfo)
		r.Post("/auth", s.handleAuth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/cache", s.handleGetCache)
			r.Post("/cache/refresh", s.handleRefresh)
			r.Get("/scheduler", s.handleScheduler)
		})
	})

	s.server = &http.Server{
		Addr:    cfg.Address,
		Handler: router,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down within the configured
// grace period.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
