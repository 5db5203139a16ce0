// Package server wires the stores, services and background workers of the model zoo into one
// HTTP server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	promclient "github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/modelzoo/modelzoo/internal/api"
	"github.com/modelzoo/modelzoo/internal/bucket"
	"github.com/modelzoo/modelzoo/internal/cleanup"
	"github.com/modelzoo/modelzoo/internal/cluster"
	"github.com/modelzoo/modelzoo/internal/config"
	"github.com/modelzoo/modelzoo/internal/connector"
	zooContext "github.com/modelzoo/modelzoo/internal/context"
	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/internal/export"
	"github.com/modelzoo/modelzoo/internal/htmlmedia"
	"github.com/modelzoo/modelzoo/internal/inference"
	"github.com/modelzoo/modelzoo/internal/modelcard"
	"github.com/modelzoo/modelzoo/internal/prom"
	"github.com/modelzoo/modelzoo/internal/session"
	"github.com/modelzoo/modelzoo/internal/storage"
	"github.com/modelzoo/modelzoo/internal/task"
	"github.com/modelzoo/modelzoo/internal/user"
	"github.com/modelzoo/modelzoo/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

// Server is the model zoo API server.
type Server struct {
	cfg  *config.Config
	echo *echo.Echo
	pool *task.Pool
	db   *db.PgDB
}

// New creates a server from a resolved and validated configuration.
func New(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Handlers are the services the server routes requests to.
type Handlers struct {
	Sessions   *session.Service
	Users      *user.Service
	Cards      *modelcard.Service
	Exports    *export.Service
	Buckets    *bucket.Service
	Connectors *connector.Service
	Pool       *task.Pool
	// Health reports whether the server's dependencies are reachable.
	Health func(ctx context.Context) error
}

// Run sets up every dependency, serves until ctx is canceled and then shuts down.
func (s *Server) Run(ctx context.Context) error {
	var err error
	if s.db, err = db.Setup(&s.cfg.DB); err != nil {
		return err
	}
	defer func() {
		if err := s.db.Close(); err != nil {
			log.WithError(err).Error("error closing database")
		}
	}()

	objects, err := storage.NewS3Store(s.cfg.ObjectStore)
	if err != nil {
		return errors.Wrap(err, "connecting to object store")
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return errors.Wrap(err, "preparing object store bucket")
	}

	users := user.NewPgStore(s.db.Bun())
	if err := user.EnsureSuperuser(ctx, users, s.cfg.Auth); err != nil {
		return err
	}
	cards := modelcard.NewPgStore(s.db.Bun())
	services := inference.NewPgStore(s.db.Bun())
	exports := export.NewPgStore(s.db.Bun())

	var k8s cleanup.Cluster
	if s.cfg.Cluster.Enabled() {
		client, err := cluster.New(s.cfg.Cluster)
		if err != nil {
			return errors.Wrap(err, "connecting to cluster")
		}
		k8s = client
	} else {
		log.Info("no cluster configured, inference services will not be cleaned up")
	}

	s.pool = task.NewPool(s.cfg.Tasks, promclient.DefaultRegisterer)
	defer s.pool.Close()

	media := htmlmedia.New(objects, s.cfg.ObjectStore.APIHost)
	cleaner := cleanup.New(objects, cards, services, k8s)
	registry := connector.NewRegistry(s.cfg.ClearML)
	exporter := export.NewExporter(exports, objects, media, cards, services)

	s.echo = NewEcho(s.cfg)
	RegisterRoutes(s.echo, Handlers{
		Sessions: session.New(s.cfg.Auth, users),
		Users:    user.NewService(users),
		Cards: modelcard.NewService(cards, media, registry, func(kinds ...task.Kind) {
			cleaner.Schedule(s.pool, kinds...)
		}),
		Exports:    export.NewService(exports, objects, exporter, s.pool),
		Buckets:    bucket.NewService(objects, cards, s.cfg.MaxUploadBytes()),
		Connectors: connector.NewService(registry),
		Pool:       s.pool,
		Health: func(ctx context.Context) error {
			return s.db.Bun().PingContext(ctx)
		},
	})
	return s.serve(ctx)
}

func (s *Server) serve(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		log.Infof("listening on %s", addr)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

// NewEcho returns an echo instance with the server-wide middleware installed.
func NewEcho(cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Recover())

	// Add resistance to common HTTP attacks.
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		Skipper:            middleware.DefaultSkipper,
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))
	if origins := cfg.AllowedOrigins(); len(origins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     origins,
			AllowCredentials: true,
			AllowMethods: []string{
				http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete,
			},
			AllowHeaders: []string{
				echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization,
				session.CSRFHeader,
			},
			ExposeHeaders: []string{session.CSRFHeader},
		}))
	}
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dK", cfg.MaxUploadBytes()/1024+1)))

	// Register middleware that extends default context.
	e.Use(zooContext.Extend)

	e.Logger = logger.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.JSONErrorHandler
	return e
}

var (
	httpMetricsOnce sync.Once
	httpMetrics     *prometheus.Prometheus
)

// RegisterRoutes mounts every endpoint on e.
func RegisterRoutes(e *echo.Echo, h Handlers) {
	// The request collectors live on the default registry, so they are created once per process.
	httpMetricsOnce.Do(func() {
		httpMetrics = prometheus.NewPrometheus(prom.ZooNamespace, func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/health"
		})
	})
	httpMetrics.Use(e)

	e.GET("/", api.Route(func(echo.Context) (interface{}, error) {
		return map[string]string{"message": "Hello World"}, nil
	}))
	e.GET("/health", api.Route(func(c echo.Context) (interface{}, error) {
		if h.Health != nil {
			if err := h.Health(c.Request().Context()); err != nil {
				return nil, echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
			}
		}
		return map[string]string{"status": "ok"}, nil
	}))

	authFuncs := []echo.MiddlewareFunc{h.Sessions.ProcessAuthentication}
	adminFuncs := []echo.MiddlewareFunc{h.Sessions.ProcessAuthentication, session.RequireAdmin}

	session.RegisterAPIHandler(e, h.Sessions)
	user.RegisterAPIHandler(e, h.Users, adminFuncs...)
	export.RegisterAPIHandler(e, h.Exports, adminFuncs...)
	modelcard.RegisterAPIHandler(e, h.Cards, authFuncs...)
	bucket.RegisterAPIHandler(e, h.Buckets, authFuncs...)
	connector.RegisterAPIHandler(e, h.Connectors, authFuncs...)
	task.RegisterAPIHandler(e, h.Pool, adminFuncs...)
}
