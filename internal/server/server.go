package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/foodior/apiserver/internal/auth"
	"github.com/foodior/apiserver/internal/handlers"
	"github.com/foodior/apiserver/internal/metrics"
	"github.com/foodior/apiserver/internal/ratelimit"
	"github.com/foodior/apiserver/internal/services"
)

const requestTimeout = 60 * time.Second

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	app        *App
}

// RouterDeps are the collaborators the HTTP routes need.
type RouterDeps struct {
	Recipes   *services.RecipeService
	Relations *services.RelationService
	Accounts  *services.UserService
	Tokens    *auth.TokenService

	// Limiter throttles the credential endpoints. Nil disables throttling.
	Limiter ratelimit.Limiter
	// DB is pinged by /healthz when set.
	DB handlers.Pinger
	// Registry receives the application collectors and is served on
	// /metrics.
	Registry *prometheus.Registry

	MaxUpload int64
	Logger    *slog.Logger
}

// NewRouter builds the chi router with middleware and every route mounted
// both at the root and under /api/v1.
func NewRouter(deps RouterDeps) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics.RegisterCollectors(registry)

	authMiddleware := handlers.RequireAuth(deps.Tokens)
	var limiter func(http.Handler) http.Handler
	if deps.Limiter != nil {
		limiter = ratelimit.Middleware(deps.Limiter, logger)
	}

	routes := func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, deps.Accounts, deps.MaxUpload, logger, limiter)
		})
		r.Route("/recipes", func(r chi.Router) {
			handlers.RecipeRouter(r, deps.Recipes, deps.Relations, authMiddleware, deps.MaxUpload, logger)
		})
		r.Route("/users", func(r chi.Router) {
			handlers.UserRouter(r, deps.Accounts, deps.Relations, authMiddleware, deps.MaxUpload, logger)
		})
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		metrics.Middleware,
		middleware.Timeout(requestTimeout),
	)
	router.Get("/healthz", handlers.Healthz(deps.DB))
	router.Method(http.MethodGet, "/metrics", metrics.Handler(registry))
	routes(router)
	router.Route("/api/v1", routes)
	return router
}

// New constructs a Server on top of a connected App.
func New(ctx context.Context, app *App) (*Server, error) {
	limiter, err := app.Limiter(ctx)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	router := NewRouter(RouterDeps{
		Recipes:   app.Recipes,
		Relations: app.Relations,
		Accounts:  app.Accounts,
		Tokens:    app.Tokens,
		Limiter:   limiter,
		DB:        app.Conn,
		Registry:  registry,
		MaxUpload: app.Config.Media.MaxUploadSize,
		Logger:    app.Logger,
	})

	port := app.Config.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     slog.NewLogLogger(app.Logger.Handler(), slog.LevelError),
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		app:        app,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests, then closes the app connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.app != nil {
		if closeErr := s.app.Close(ctx); err == nil {
			err = closeErr
		}
	}
	return err
}
