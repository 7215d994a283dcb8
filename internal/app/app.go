package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirinyoku/tixledger/internal/auth"
	"github.com/kirinyoku/tixledger/internal/config"
	"github.com/kirinyoku/tixledger/internal/domain"
	"github.com/kirinyoku/tixledger/internal/postgres"
	"github.com/kirinyoku/tixledger/internal/redis"
	"github.com/kirinyoku/tixledger/internal/repository"
	"github.com/kirinyoku/tixledger/internal/repository/memory"
	postgresrepo "github.com/kirinyoku/tixledger/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/tixledger/internal/repository/redis"
	"github.com/kirinyoku/tixledger/internal/service"
	"github.com/kirinyoku/tixledger/internal/service/ledger"
	"github.com/kirinyoku/tixledger/internal/service/registry"
	httpgin "github.com/kirinyoku/tixledger/internal/transport/http/gin"
)

const idempotencyTTL = 24 * time.Hour

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	closers    []func()
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx := context.Background()
	a := &App{cfg: cfg, logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var (
		cache   *redisrepo.Cache
		pubsub  *redisrepo.TicketsPubSub
		limiter *redisrepo.SlidingWindowLimiter
		idem    httpgin.Idempotency
		feed    httpgin.TicketFeed
	)

	if cfg.Redis.Enabled {
		rdb, err := redis.New(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })

		cache = redisrepo.New(rdb)
		pubsub = redisrepo.NewTicketsPubSub(rdb)
		limiter = redisrepo.NewSlidingWindowLimiter(
			rdb,
			"purchase",
			cfg.RateLimit.PurchaseLimit,
			cfg.RateLimit.PurchaseWindow,
		)
		idem = redisrepo.NewIdempotencyStore(rdb, idempotencyTTL)
		feed = pubsub
	} else {
		logger.Warn("redis disabled: no cache, change feed, idempotency or rate limiting")
	}

	services := service.NewServices(
		store,
		cache,
		pubsub,
		limiter,
		auth.ContextAuthorizer{},
		logger,
		service.Config{
			Registry:    registry.Config{CacheTTL: cfg.Cache.TicketTTL},
			Ledger:      ledger.Config{TicketTTL: cfg.Cache.TicketTTL, ListTTL: cfg.Cache.ListTTL},
			AssetIssuer: domain.Identity(cfg.Auth.AssetIssuer),
		},
	)

	verifier := auth.NewTokenVerifier([]byte(cfg.Auth.JWTSecret))

	router := httpgin.NewRouter(services, verifier, idem, feed, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) (repository.Store, error) {
	if a.cfg.Storage == config.StorageMemory {
		a.logger.Warn("using in-memory storage, state is lost on restart")
		return memory.NewStore(), nil
	}

	pool, err := postgres.New(ctx, postgres.Config{
		User:     a.cfg.Postgres.User,
		Password: a.cfg.Postgres.Password,
		Host:     a.cfg.Postgres.Host,
		Port:     a.cfg.Postgres.Port,
		Name:     a.cfg.Postgres.Name,
		SSLMode:  a.cfg.Postgres.SSLMode,
		MaxConns: a.cfg.Postgres.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}
	a.closers = append(a.closers, pool.Close)

	store := postgresrepo.NewStore(pool, a.cfg.Postgres.TxMaxRetries)

	applied, err := store.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	a.logger.Info("migrations applied", "count", applied)

	return store, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
