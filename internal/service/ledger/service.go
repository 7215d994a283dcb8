package ledger

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

// Registry is the registry handle every ledger operation reads through its
// own transaction.
type Registry interface {
	Load(ctx context.Context, tx repository.Tx) (*domain.Registry, error)
	AllocateTicketID(ctx context.Context, tx repository.Tx) (uint32, error)
}

// Limiter counts purchase attempts per principal.
type Limiter interface {
	Allow(ctx context.Context, id string) (allowed bool, current int64, retryAfter time.Duration, err error)
}

// Payer moves the payment asset inside the ledger's transaction.
type Payer interface {
	Transfer(ctx context.Context, tx repository.Tx, asset, from, to domain.Identity, amount int64) error
}

type Config struct {
	TicketTTL time.Duration
	ListTTL   time.Duration
}

type Service struct {
	store    repository.Store
	registry Registry
	payer    Payer
	authz    auth.Authorizer
	cache    *redisrepo.Cache
	pubsub   *redisrepo.TicketsPubSub
	limiter  Limiter
	uow      *uow.UoW
	log      *slog.Logger
	cfg      Config
}

// Deps groups the optional collaborators. Nil cache, pubsub and limiter
// disable caching, change publishing and purchase rate limiting.
type Deps struct {
	Cache   *redisrepo.Cache
	PubSub  *redisrepo.TicketsPubSub
	Limiter Limiter
	Log     *slog.Logger
}

func New(
	store repository.Store,
	registry Registry,
	payer Payer,
	authz auth.Authorizer,
	deps Deps,
	cfg Config,
) *Service {
	if cfg.TicketTTL <= 0 {
		cfg.TicketTTL = 30 * time.Second
	}

	if cfg.ListTTL <= 0 {
		cfg.ListTTL = 5 * time.Second
	}

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		store:    store,
		registry: registry,
		payer:    payer,
		authz:    authz,
		cache:    deps.Cache,
		pubsub:   deps.PubSub,
		limiter:  deps.Limiter,
		uow:      uow.NewUoW(store),
		log:      log.With(slog.String("component", "ledger")),
		cfg:      cfg,
	}
}

// Mint creates a ticket for eventID owned by the organizer and returns its id.
//
// Returns:
//   - uint32: the id of the new ticket, equal to the previous ticket count.
//   - error: ledger.ErrInvalidPrice if price is negative.
//   - error: registry.ErrNotInitialized if the registry does not exist.
//   - error: auth.ErrUnauthorized if the caller is not the organizer.
func (s *Service) Mint(ctx context.Context, eventID uint32, price int64) (id uint32, err error) {
	const op = "service.ledger.Mint"

	defer func() { monitoring.TrackOperation("mint", err) }()

	if price < 0 {
		return 0, fmt.Errorf("%s: %d: %w", op, price, ErrInvalidPrice)
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx, after func(uow.AfterCommit)) error {
		reg, err := s.registry.Load(ctx, tx)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if err := s.authz.Require(ctx, reg.Organizer); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		tid, err := s.registry.AllocateTicketID(ctx, tx)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		t := domain.Ticket{
			ID:       tid,
			EventID:  eventID,
			Owner:    reg.Organizer,
			Price:    price,
			ForSale:  false,
			IsResale: false,
		}
		if err := tx.Tickets().Create(ctx, t); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		id = tid

		after(func(ctx context.Context) {
			s.changed(ctx, redisrepo.ChangeMinted, t)
		})

		return nil
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

// ListForResale puts a ticket up for sale at newPrice. Only the current owner
// may list, and a listed ticket cannot be listed again. Every listing is
// marked as a resale.
func (s *Service) ListForResale(ctx context.Context, id uint32, newPrice int64) (_ *domain.Ticket, err error) {
	const op = "service.ledger.ListForResale"

	defer func() { monitoring.TrackOperation("list_for_resale", err) }()

	var listed domain.Ticket

	err = s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx, after func(uow.AfterCommit)) error {
		t, err := s.loadTicket(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if err := s.authz.Require(ctx, t.Owner); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if t.Listed() {
			return fmt.Errorf("%s: ticket %d: %w", op, id, ErrAlreadyListed)
		}

		t.Price = newPrice
		t.ForSale = true
		t.IsResale = true

		if err := tx.Tickets().Update(ctx, *t); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		listed = *t

		after(func(ctx context.Context) {
			s.changed(ctx, redisrepo.ChangeListed, listed)
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &listed, nil
}

// Purchase settles a listed ticket to buyer. Payments and the ownership
// change commit together or not at all.
//
// Returns:
//   - *domain.Receipt: the updated ticket, previous owner and executed transfers.
//   - error: ledger.ErrTicketNotFound if the ticket does not exist.
//   - error: ledger.ErrNotForSale if the ticket is not listed.
//   - error: auth.ErrUnauthorized if the caller is not buyer.
//   - error: ledger.ErrPaymentFailed if any transfer fails.
//   - error: repository.ErrContention if the store aborted a concurrent settlement.
//   - error: *ledger.RateLimitError (ledger.ErrRateLimited) if the
//     authenticated caller exceeded the purchase rate.
func (s *Service) Purchase(ctx context.Context, id uint32, buyer domain.Identity) (_ *domain.Receipt, err error) {
	const op = "service.ledger.Purchase"

	start := time.Now()
	defer func() { monitoring.TrackOperation("purchase", err) }()

	// Attempts are counted against the proven caller, never the claimed buyer.
	if principal, ok := auth.PrincipalFrom(ctx); ok && s.limiter != nil {
		allowed, _, retry, err := s.limiter.Allow(ctx, principal.String())
		if err != nil {
			s.log.WarnContext(ctx, "rate limiter unavailable", slog.Any("err", err))
		} else if !allowed {
			return nil, fmt.Errorf("%s: %w", op, &RateLimitError{RetryAfter: retry})
		}
	}

	var receipt domain.Receipt

	err = s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx, after func(uow.AfterCommit)) error {
		t, err := s.loadTicket(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if !t.Listed() {
			return fmt.Errorf("%s: ticket %d: %w", op, id, ErrNotForSale)
		}

		if err := s.authz.Require(ctx, buyer); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		reg, err := s.registry.Load(ctx, tx)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		plan := domain.PlanPayments(*t, reg.Organizer, buyer)
		for _, tr := range plan {
			if err := s.payer.Transfer(ctx, tx, reg.Asset, tr.From, tr.To, tr.Amount); err != nil {
				if errors.Is(err, repository.ErrContention) {
					return fmt.Errorf("%s: %s transfer: %w", op, tr.Kind, err)
				}
				return fmt.Errorf("%s: %s transfer: %w: %w", op, tr.Kind, ErrPaymentFailed, err)
			}
		}

		seller := t.Owner

		t.Owner = buyer
		t.ForSale = false
		t.IsResale = false

		if err := tx.Tickets().Update(ctx, *t); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		receipt = domain.Receipt{
			Ticket:    *t,
			Seller:    seller,
			Asset:     reg.Asset,
			Transfers: plan,
		}

		after(func(ctx context.Context) {
			s.changed(ctx, redisrepo.ChangePurchased, receipt.Ticket)
			monitoring.TrackTransfers(receipt.Transfers)
			monitoring.TrackPurchaseDuration(time.Since(start))
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &receipt, nil
}

func (s *Service) GetTicket(ctx context.Context, id uint32) (*domain.Ticket, error) {
	const op = "service.ledger.GetTicket"

	t, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyTicket(id),
		s.cfg.TicketTTL,
		func(ctx context.Context) (domain.Ticket, error) {
			t, err := s.loadTicket(ctx, s.store, id)
			if err != nil {
				return domain.Ticket{}, err
			}
			return *t, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &t, nil
}

func (s *Service) GetOwner(ctx context.Context, id uint32) (domain.Identity, error) {
	t, err := s.GetTicket(ctx, id)
	if err != nil {
		return "", err
	}

	return t.Owner, nil
}

// ListResaleTickets returns every ticket listed as a resale, ascending by id.
func (s *Service) ListResaleTickets(ctx context.Context) ([]domain.Ticket, error) {
	const op = "service.ledger.ListResaleTickets"

	out, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyResaleTickets(),
		s.cfg.ListTTL,
		func(ctx context.Context) ([]domain.Ticket, error) {
			return s.store.Tickets().ListResale(ctx)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// ListEventTickets returns every ticket of eventID, ascending by id.
func (s *Service) ListEventTickets(ctx context.Context, eventID uint32) ([]domain.Ticket, error) {
	const op = "service.ledger.ListEventTickets"

	out, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyEventTickets(eventID),
		s.cfg.ListTTL,
		func(ctx context.Context) ([]domain.Ticket, error) {
			return s.store.Tickets().ListByEvent(ctx, eventID)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

func (s *Service) loadTicket(ctx context.Context, tx repository.Tx, id uint32) (*domain.Ticket, error) {
	t, err := tx.Tickets().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("ticket %d: %w", id, ErrTicketNotFound)
		}
		return nil, err
	}

	return t, nil
}

// changed runs after a mutation commits. Failures here never affect the
// committed outcome.
func (s *Service) changed(ctx context.Context, typ redisrepo.ChangeType, t domain.Ticket) {
	if err := s.cache.InvalidateTicket(ctx, t.ID, t.EventID); err != nil {
		s.log.WarnContext(ctx, "cache invalidation failed",
			slog.Uint64("ticket_id", uint64(t.ID)),
			slog.Any("err", err),
		)
	}

	if err := s.pubsub.PublishTicketChanged(ctx, typ, t.ID, t.EventID); err != nil {
		s.log.WarnContext(ctx, "publish ticket change failed",
			slog.String("type", string(typ)),
			slog.Uint64("ticket_id", uint64(t.ID)),
			slog.Any("err", err),
		)
	}

	s.log.DebugContext(ctx, "ticket changed",
		slog.String("type", string(typ)),
		slog.Uint64("ticket_id", uint64(t.ID)),
		slog.String("owner", t.Owner.String()),
	)
}
