// Package payment moves a fungible asset between accounts. Transfers run on
// the caller's transaction so a purchase's payments and its ownership change
// commit together.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirinyoku/tixledger/internal/auth"
	"github.com/kirinyoku/tixledger/internal/domain"
	"github.com/kirinyoku/tixledger/internal/monitoring"
	"github.com/kirinyoku/tixledger/internal/repository"
	"github.com/kirinyoku/tixledger/internal/uow"
)

type Service struct {
	store  repository.Store
	authz  auth.Authorizer
	uow    *uow.UoW
	issuer domain.Identity
}

// New builds the service. issuer is the identity allowed to mint balances
// through Deposit.
func New(store repository.Store, authz auth.Authorizer, issuer domain.Identity) *Service {
	return &Service{
		store:  store,
		authz:  authz,
		uow:    uow.NewUoW(store),
		issuer: issuer,
	}
}

// Transfer debits from and credits to by amount inside tx. A zero amount
// is a successful no-op.
func (s *Service) Transfer(
	ctx context.Context,
	tx repository.Tx,
	asset, from, to domain.Identity,
	amount int64,
) error {
	const op = "service.payment.Transfer"

	if amount < 0 {
		return fmt.Errorf("%s: %d: %w", op, amount, ErrInvalidAmount)
	}

	if amount == 0 {
		return nil
	}

	if err := tx.Balances().Debit(ctx, asset, from, amount); err != nil {
		if errors.Is(err, repository.ErrInsufficientFunds) {
			return fmt.Errorf("%s: %s: %w", op, from, ErrInsufficientFunds)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Balances().Credit(ctx, asset, to, amount); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Deposit credits amount of asset to an account. Only the configured issuer
// may deposit.
func (s *Service) Deposit(ctx context.Context, asset, to domain.Identity, amount int64) (err error) {
	const op = "service.payment.Deposit"

	defer func() { monitoring.TrackOperation("deposit", err) }()

	if amount <= 0 {
		return fmt.Errorf("%s: %w", op, ErrInvalidAmount)
	}

	if s.issuer == "" {
		return fmt.Errorf("%s: no asset issuer configured: %w", op, auth.ErrUnauthorized)
	}

	if err := s.authz.Require(ctx, s.issuer); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx, after func(uow.AfterCommit)) error {
		if err := tx.Balances().Credit(ctx, asset, to, amount); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
}

func (s *Service) Balance(ctx context.Context, asset, account domain.Identity) (int64, error) {
	const op = "service.payment.Balance"

	amount, err := s.store.Balances().Get(ctx, asset, account)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return amount, nil
}
