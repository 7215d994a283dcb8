package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirinyoku/tixledger/internal/auth"
	"github.com/kirinyoku/tixledger/internal/domain"
	"github.com/kirinyoku/tixledger/internal/monitoring"
	"github.com/kirinyoku/tixledger/internal/repository"
	redisrepo "github.com/kirinyoku/tixledger/internal/repository/redis"
	"github.com/kirinyoku/tixledger/internal/uow"
)

type Config struct {
	CacheTTL time.Duration
}

// Service owns the marketplace-wide configuration: organizer, payment asset
// and the ticket id counter.
type Service struct {
	store repository.Store
	cache *redisrepo.Cache
	authz auth.Authorizer
	uow   *uow.UoW
	log   *slog.Logger
	cfg   Config
}

func New(
	store repository.Store,
	cache *redisrepo.Cache,
	authz auth.Authorizer,
	log *slog.Logger,
	cfg Config,
) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}

	if log == nil {
		log = slog.Default()
	}

	return &Service{
		store: store,
		cache: cache,
		authz: authz,
		uow:   uow.NewUoW(store),
		log:   log.With(slog.String("component", "registry")),
		cfg:   cfg,
	}
}

// Initialize creates the registry. It can succeed only once per store, and
// only for a caller that proves the organizer identity.
//
// Returns:
//   - error: registry.ErrAlreadyInitialized on a second call.
//   - error: auth.ErrUnauthorized if the caller is not organizer.
//   - error: registry.ErrInvalidIdentity if either identity is empty.
func (s *Service) Initialize(ctx context.Context, organizer, asset domain.Identity) (err error) {
	const op = "service.registry.Initialize"

	defer func() { monitoring.TrackOperation("initialize", err) }()

	if organizer == "" || asset == "" {
		return fmt.Errorf("%s: %w", op, ErrInvalidIdentity)
	}

	return s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx, after func(uow.AfterCommit)) error {
		_, err := tx.Registry().Get(ctx)
		switch {
		case err == nil:
			return fmt.Errorf("%s: %w", op, ErrAlreadyInitialized)
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("%s: %w", op, err)
		}

		if err := s.authz.Require(ctx, organizer); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		reg := domain.Registry{Organizer: organizer, Asset: asset, TicketCount: 0}
		if err := tx.Registry().Create(ctx, reg); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%s: %w", op, ErrAlreadyInitialized)
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		after(func(ctx context.Context) {
			if err := s.cache.InvalidateRegistry(ctx); err != nil {
				s.log.WarnContext(ctx, "cache invalidation failed",
					slog.String("key", redisrepo.KeyRegistry()),
					slog.Any("err", err),
				)
			}
		})

		return nil
	})
}

// Get returns the committed registry.
func (s *Service) Get(ctx context.Context) (*domain.Registry, error) {
	const op = "service.registry.Get"

	reg, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyRegistry(),
		s.cfg.CacheTTL,
		func(ctx context.Context) (domain.Registry, error) {
			r, err := s.Load(ctx, s.store)
			if err != nil {
				return domain.Registry{}, err
			}
			return *r, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &reg, nil
}

// Load reads the registry through tx, so the ledger sees the registry state
// of its own unit of work.
func (s *Service) Load(ctx context.Context, tx repository.Tx) (*domain.Registry, error) {
	reg, err := tx.Registry().Get(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}

	return reg, nil
}

// AllocateTicketID returns the next sequential ticket id and advances the
// counter inside tx.
func (s *Service) AllocateTicketID(ctx context.Context, tx repository.Tx) (uint32, error) {
	id, err := tx.Registry().IncrementTicketCount(ctx)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return 0, ErrNotInitialized
		case errors.Is(err, repository.ErrConflict):
			return 0, ErrTicketIDsExhausted
		}
		return 0, err
	}

	return id, nil
}
