// Package memory is an in-process implementation of repository.Store.
//
// A transaction holds the store's write lock for its whole duration and works
// on a copy of the state, which replaces the live state only on success. This
// gives the single-writer, all-or-nothing execution model the ledger expects.
package memory

import (
	"context"
	"fmt"
	"maps"
	"math"
	"sync"

	"github.com/kirinyoku/tixledger/internal/domain"
	"github.com/kirinyoku/tixledger/internal/repository"
)

type balanceKey struct {
	asset   domain.Identity
	account domain.Identity
}

type state struct {
	registry *domain.Registry
	tickets  map[uint32]domain.Ticket
	balances map[balanceKey]int64
}

func newState() *state {
	return &state{
		tickets:  make(map[uint32]domain.Ticket),
		balances: make(map[balanceKey]int64),
	}
}

func (s *state) clone() *state {
	cp := &state{
		tickets:  maps.Clone(s.tickets),
		balances: maps.Clone(s.balances),
	}
	if s.registry != nil {
		reg := *s.registry
		cp.registry = &reg
	}
	return cp
}

type Store struct {
	mu sync.RWMutex
	st *state
}

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) RunTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.st.clone()
	if err := fn(ctx, view{st: work}); err != nil {
		return err
	}

	s.st = work

	return nil
}

func (s *Store) Registry() repository.RegistryRepo { return &registryRepo{store: s} }
func (s *Store) Tickets() repository.TicketRepo    { return &ticketRepo{store: s} }
func (s *Store) Balances() repository.BalanceRepo  { return &balanceRepo{store: s} }

// view binds repositories to a transaction's working copy.
type view struct{ st *state }

func (v view) Registry() repository.RegistryRepo { return &registryRepo{st: v.st} }
func (v view) Tickets() repository.TicketRepo    { return &ticketRepo{st: v.st} }
func (v view) Balances() repository.BalanceRepo  { return &balanceRepo{st: v.st} }

// access runs fn on a transaction's working copy when st is set, otherwise
// on the live state under the store lock.
func access(st *state, store *Store, write bool, fn func(st *state) error) error {
	if st != nil {
		return fn(st)
	}

	if write {
		store.mu.Lock()
		defer store.mu.Unlock()
	} else {
		store.mu.RLock()
		defer store.mu.RUnlock()
	}

	return fn(store.st)
}

type registryRepo struct {
	st    *state
	store *Store
}

func (r *registryRepo) Get(ctx context.Context) (*domain.Registry, error) {
	const op = "memory.RegistryRepo.Get"

	var out *domain.Registry
	err := access(r.st, r.store, false, func(st *state) error {
		if st.registry == nil {
			return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
		}
		reg := *st.registry
		out = &reg
		return nil
	})

	return out, err
}

func (r *registryRepo) Create(ctx context.Context, reg domain.Registry) error {
	const op = "memory.RegistryRepo.Create"

	return access(r.st, r.store, true, func(st *state) error {
		if st.registry != nil {
			return fmt.Errorf("%s: %w", op, repository.ErrConflict)
		}
		st.registry = &reg
		return nil
	})
}

func (r *registryRepo) IncrementTicketCount(ctx context.Context) (uint32, error) {
	const op = "memory.RegistryRepo.IncrementTicketCount"

	var prev uint32
	err := access(r.st, r.store, true, func(st *state) error {
		if st.registry == nil {
			return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
		}
		if st.registry.TicketCount == math.MaxUint32 {
			return fmt.Errorf("%s: %w", op, repository.ErrConflict)
		}
		prev = st.registry.TicketCount
		st.registry.TicketCount++
		return nil
	})

	return prev, err
}

type ticketRepo struct {
	st    *state
	store *Store
}

func (r *ticketRepo) Get(ctx context.Context, id uint32) (*domain.Ticket, error) {
	const op = "memory.TicketRepo.Get"

	var out *domain.Ticket
	err := access(r.st, r.store, false, func(st *state) error {
		t, ok := st.tickets[id]
		if !ok {
			return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
		}
		out = &t
		return nil
	})

	return out, err
}

func (r *ticketRepo) Create(ctx context.Context, t domain.Ticket) error {
	const op = "memory.TicketRepo.Create"

	return access(r.st, r.store, true, func(st *state) error {
		if _, ok := st.tickets[t.ID]; ok {
			return fmt.Errorf("%s: %w", op, repository.ErrConflict)
		}
		st.tickets[t.ID] = t
		return nil
	})
}

func (r *ticketRepo) Update(ctx context.Context, t domain.Ticket) error {
	const op = "memory.TicketRepo.Update"

	return access(r.st, r.store, true, func(st *state) error {
		if _, ok := st.tickets[t.ID]; !ok {
			return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
		}
		st.tickets[t.ID] = t
		return nil
	})
}

func (r *ticketRepo) ListResale(ctx context.Context) ([]domain.Ticket, error) {
	return r.scan(func(t domain.Ticket) bool {
		return t.ForSale && t.IsResale
	})
}

func (r *ticketRepo) ListByEvent(ctx context.Context, eventID uint32) ([]domain.Ticket, error) {
	return r.scan(func(t domain.Ticket) bool {
		return t.EventID == eventID
	})
}

// scan walks ids [0, ticket_count) in order.
func (r *ticketRepo) scan(match func(domain.Ticket) bool) ([]domain.Ticket, error) {
	out := []domain.Ticket{}
	err := access(r.st, r.store, false, func(st *state) error {
		if st.registry == nil {
			return nil
		}
		for id := uint32(0); id < st.registry.TicketCount; id++ {
			if t, ok := st.tickets[id]; ok && match(t) {
				out = append(out, t)
			}
		}
		return nil
	})

	return out, err
}

type balanceRepo struct {
	st    *state
	store *Store
}

func (r *balanceRepo) Get(ctx context.Context, asset, account domain.Identity) (int64, error) {
	var amount int64
	err := access(r.st, r.store, false, func(st *state) error {
		amount = st.balances[balanceKey{asset, account}]
		return nil
	})
	return amount, err
}

func (r *balanceRepo) Credit(ctx context.Context, asset, account domain.Identity, amount int64) error {
	const op = "memory.BalanceRepo.Credit"

	return access(r.st, r.store, true, func(st *state) error {
		key := balanceKey{asset, account}
		if amount > 0 && st.balances[key] > math.MaxInt64-amount {
			return fmt.Errorf("%s: %w", op, repository.ErrConflict)
		}
		st.balances[key] += amount
		return nil
	})
}

func (r *balanceRepo) Debit(ctx context.Context, asset, account domain.Identity, amount int64) error {
	const op = "memory.BalanceRepo.Debit"

	return access(r.st, r.store, true, func(st *state) error {
		key := balanceKey{asset, account}
		if st.balances[key] < amount {
			return fmt.Errorf("%s: %w", op, repository.ErrInsufficientFunds)
		}
		st.balances[key] -= amount
		return nil
	})
}
