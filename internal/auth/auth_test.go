package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextAuthorizer(t *testing.T) {
	authz := ContextAuthorizer{}
	ctx := context.Background()

	assert.ErrorIs(t, authz.Require(ctx, "alice"), ErrUnauthorized)

	ctx = WithPrincipal(ctx, "alice")
	assert.NoError(t, authz.Require(ctx, "alice"))
	assert.ErrorIs(t, authz.Require(ctx, "bob"), ErrUnauthorized)
}

func TestPrincipalFrom_EmptyIsAbsent(t *testing.T) {
	_, ok := PrincipalFrom(WithPrincipal(context.Background(), ""))
	assert.False(t, ok)

	p, ok := PrincipalFrom(WithPrincipal(context.Background(), "org"))
	assert.True(t, ok)
	assert.Equal(t, "org", p.String())
}

func TestStubAuthorizers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, AllowAll{}.Require(ctx, "anyone"))
	assert.ErrorIs(t, DenyAll{}.Require(ctx, "anyone"), ErrUnauthorized)
}
