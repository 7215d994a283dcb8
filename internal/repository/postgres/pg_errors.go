package postgresrepo

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirinyoku/tixledger/internal/repository"
)

const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return true
		}
	}

	return false
}

// wrapDBErr maps common DB errors to repository-level errors and wraps them with
// the provided operation name. The pg error is kept in the chain so callers
// can still ask IsRetryable.
func wrapDBErr(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	var pge *pgconn.PgError
	if errors.As(err, &pge) {
		switch pge.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w: %w", op, repository.ErrConflict, err)
		case codeCheckViolation:
			switch pge.ConstraintName {
			case "balances_amount_check":
				return fmt.Errorf("%s: %w: %w", op, repository.ErrInsufficientFunds, err)
			case "registry_ticket_count_check":
				return fmt.Errorf("%s: %w: %w", op, repository.ErrConflict, err)
			}
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%s: %w: %w", op, repository.ErrContention, err)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}
