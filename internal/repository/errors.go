package repository

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrContention means the store aborted the transaction because of a
	// concurrent one. The operation can be retried as is.
	ErrContention = errors.New("contention")
)
