// Package auth answers "has the caller proven they are principal P".
//
// The HTTP layer verifies a bearer token and stores the proven principal in
// the request context; services then call Authorizer.Require with the
// identity an operation needs.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirinyoku/tixledger/internal/domain"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
)

// Authorizer aborts an operation unless the caller proved identity.
type Authorizer interface {
	Require(ctx context.Context, identity domain.Identity) error
}

type principalKey struct{}

// WithPrincipal returns a context carrying the proven principal.
func WithPrincipal(ctx context.Context, p domain.Identity) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (domain.Identity, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Identity)
	return p, ok && p != ""
}

// ContextAuthorizer checks the principal stored in the context.
type ContextAuthorizer struct{}

func (ContextAuthorizer) Require(ctx context.Context, identity domain.Identity) error {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return fmt.Errorf("no proven principal, %q required: %w", identity, ErrUnauthorized)
	}

	if p != identity {
		return fmt.Errorf("principal %q is not %q: %w", p, identity, ErrUnauthorized)
	}

	return nil
}

// AllowAll satisfies every Require call.
type AllowAll struct{}

func (AllowAll) Require(context.Context, domain.Identity) error { return nil }

// DenyAll fails every Require call.
type DenyAll struct{}

func (DenyAll) Require(_ context.Context, identity domain.Identity) error {
	return fmt.Errorf("%q denied: %w", identity, ErrUnauthorized)
}
