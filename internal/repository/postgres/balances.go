package postgresrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kirinyoku/tixledger/internal/domain"
	"github.com/kirinyoku/tixledger/internal/repository"
)

type BalanceRepo struct {
	db DB
}

func (r *BalanceRepo) Get(ctx context.Context, asset, account domain.Identity) (int64, error) {
	const op = "postgresrepo.BalanceRepo.Get"

	var amount int64
	err := r.db.QueryRow(ctx,
		`SELECT amount FROM balances WHERE asset = $1 AND account = $2`,
		string(asset), string(account),
	).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return amount, nil
}

func (r *BalanceRepo) Credit(ctx context.Context, asset, account domain.Identity, amount int64) error {
	const op = "postgresrepo.BalanceRepo.Credit"

	_, err := r.db.Exec(ctx,
		`INSERT INTO balances(asset, account, amount)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (asset, account)
		 DO UPDATE SET amount = balances.amount + EXCLUDED.amount`,
		string(asset), string(account), amount,
	)

	return wrapDBErr(op, err)
}

func (r *BalanceRepo) Debit(ctx context.Context, asset, account domain.Identity, amount int64) error {
	const op = "postgresrepo.BalanceRepo.Debit"

	tag, err := r.db.Exec(ctx,
		`UPDATE balances
		 SET amount = amount - $3
		 WHERE asset = $1 AND account = $2 AND amount >= $3`,
		string(asset), string(account), amount,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrInsufficientFunds)
	}

	return nil
}
