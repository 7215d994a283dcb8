package repository

import (
	"context"

	"github.com/kirinyoku/tixledger/internal/domain"
)

// RegistryRepo stores the single marketplace registry record.
type RegistryRepo interface {
	// Get returns ErrNotFound until the registry has been created.
	Get(ctx context.Context) (*domain.Registry, error)
	// Create returns ErrConflict if a registry already exists.
	Create(ctx context.Context, reg domain.Registry) error
	// IncrementTicketCount bumps the counter by one and returns the previous
	// value. It returns ErrNotFound when no registry exists.
	IncrementTicketCount(ctx context.Context) (uint32, error)
}

// TicketRepo stores tickets keyed by id.
type TicketRepo interface {
	Get(ctx context.Context, id uint32) (*domain.Ticket, error)
	// Create returns ErrConflict if the id is taken.
	Create(ctx context.Context, t domain.Ticket) error
	// Update returns ErrNotFound if the id does not exist.
	Update(ctx context.Context, t domain.Ticket) error
	// ListResale returns listed resale tickets in ascending id order.
	ListResale(ctx context.Context) ([]domain.Ticket, error)
	// ListByEvent returns the event's tickets in ascending id order.
	ListByEvent(ctx context.Context, eventID uint32) ([]domain.Ticket, error)
}

// BalanceRepo stores payment asset balances per account.
type BalanceRepo interface {
	// Get returns 0 for accounts that were never credited.
	Get(ctx context.Context, asset, account domain.Identity) (int64, error)
	Credit(ctx context.Context, asset, account domain.Identity, amount int64) error
	// Debit returns ErrInsufficientFunds if the balance would go negative.
	Debit(ctx context.Context, asset, account domain.Identity, amount int64) error
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Registry() RegistryRepo
	Tickets() TicketRepo
	Balances() BalanceRepo
}

// Store is a durable store whose repositories can be used outside a
// transaction (single statements) or inside RunTx (all-or-nothing).
type Store interface {
	Tx
	RunTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
