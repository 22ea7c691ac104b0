package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/foodior/apiserver/config"
	"github.com/foodior/apiserver/internal/auth"
	"github.com/foodior/apiserver/internal/db"
	"github.com/foodior/apiserver/internal/mq"
	"github.com/foodior/apiserver/internal/ratelimit"
	"github.com/foodior/apiserver/internal/services"
	"github.com/foodior/apiserver/internal/storage"
	"github.com/foodior/apiserver/internal/store"
)

// App holds the connected dependencies and services shared by the server,
// worker and reconcile commands.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Conn    *db.Conn
	Media   *storage.MediaHost
	Queue   *mq.MQ
	Janitor *services.MediaJanitor
	Tokens  *auth.TokenService

	Recipes   *services.RecipeService
	Relations *services.RelationService
	Accounts  *services.UserService

	redis *redis.Client
}

// NewApp connects to MongoDB, the media backend and, when configured, the
// message broker, then wires the services on top of them.
func NewApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Logger: logger, Conn: conn}

	backend, err := storage.NewBackend(ctx, cfg.Media)
	if err != nil {
		_ = app.Close(context.Background())
		return nil, fmt.Errorf("media backend: %w", err)
	}
	app.Media = storage.NewMediaHost(backend, cfg.Media.PublicBaseURL)
	if err := app.Media.EnsureBucket(ctx); err != nil {
		_ = app.Close(context.Background())
		return nil, fmt.Errorf("media bucket: %w", err)
	}

	broker, err := mq.NewBackend(ctx, cfg.MQ)
	if err != nil {
		_ = app.Close(context.Background())
		return nil, fmt.Errorf("message queue: %w", err)
	}
	// The janitor treats a nil Publisher as "log only", so an absent broker
	// must stay an untyped nil.
	var publisher services.Publisher
	if broker != nil {
		app.Queue = mq.New(broker, cfg.MQ.MaxAttempts, logger)
		publisher = app.Queue
	}

	users := store.NewUserRepository(conn.DB)
	recipes := store.NewRecipeRepository(conn.DB)
	tx := store.NewMongoTransactor(conn.Client, conn.Transactions)
	if !conn.Transactions {
		logger.Warn("mongodb deployment has no transactions; follow toggles fall back to compensation")
	}

	app.Tokens = auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.TTL)
	app.Janitor = services.NewMediaJanitor(app.Media, publisher, cfg.MQ.MediaChannel, logger)
	app.Recipes = services.NewRecipeService(recipes, users, app.Janitor, logger)
	app.Relations = services.NewRelationService(recipes, users, tx, logger)
	app.Accounts = services.NewUserService(users, recipes, app.Tokens, app.Janitor, logger)
	return app, nil
}

// Limiter returns the credential endpoint limiter selected by the config:
// a Redis fixed window when REDIS_ADDR is set, otherwise an in-process
// token bucket. It returns nil when rate limiting is disabled.
func (a *App) Limiter(ctx context.Context) (ratelimit.Limiter, error) {
	rl := a.Config.RateLimit
	if !rl.Enabled {
		return nil, nil
	}
	if a.Config.Redis.Addr == "" {
		return ratelimit.NewMemoryLimiter(rl.RPS, rl.Burst), nil
	}
	if a.redis == nil {
		client, err := ratelimit.NewRedisClient(ctx, a.Config.Redis)
		if err != nil {
			return nil, err
		}
		a.redis = client
	}
	return ratelimit.NewRedisLimiter(a.redis, rl.RPS, rl.Burst, rl.Window), nil
}

// Close releases every connection the app opened.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.Conn != nil {
		errs = append(errs, a.Conn.Close(ctx))
	}
	return errors.Join(errs...)
}
