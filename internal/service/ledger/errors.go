package ledger

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidPrice   = errors.New("invalid price")
	ErrTicketNotFound = errors.New("ticket not found")
	ErrAlreadyListed  = errors.New("ticket already listed")
	ErrNotForSale     = errors.New("ticket not for sale")
	ErrPaymentFailed  = errors.New("payment failed")
	ErrRateLimited    = errors.New("rate limited")
)

// RateLimitError carries how long the caller should wait. It matches
// ErrRateLimited with errors.Is.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
