package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/tixledger/internal/auth"
	"github.com/kirinyoku/tixledger/internal/domain"
	"github.com/kirinyoku/tixledger/internal/repository"
	"github.com/kirinyoku/tixledger/internal/repository/memory"
	redisrepo "github.com/kirinyoku/tixledger/internal/repository/redis"
	"github.com/kirinyoku/tixledger/internal/service/payment"
	"github.com/kirinyoku/tixledger/internal/service/registry"
)

const (
	organizer = domain.Identity("org")
	asset     = domain.Identity("xlm")
	issuer    = domain.Identity("issuer")
)

type fixture struct {
	store *memory.Store
	reg   *registry.Service
	pay   *payment.Service
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	reg := registry.New(store, nil, auth.ContextAuthorizer{}, discardLogger(), registry.Config{})
	pay := payment.New(store, auth.ContextAuthorizer{}, issuer)

	return &fixture{
		store: store,
		reg:   reg,
		pay:   pay,
		svc:   New(store, reg, pay, auth.ContextAuthorizer{}, Deps{Log: discardLogger()}, Config{}),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func as(id domain.Identity) context.Context {
	return auth.WithPrincipal(context.Background(), id)
}

func (f *fixture) initialize(t *testing.T) {
	t.Helper()
	require.NoError(t, f.reg.Initialize(as(organizer), organizer, asset))
}

func (f *fixture) fund(t *testing.T, account domain.Identity, amount int64) {
	t.Helper()
	require.NoError(t, f.pay.Deposit(as(issuer), asset, account, amount))
}

func (f *fixture) balance(t *testing.T, account domain.Identity) int64 {
	t.Helper()
	b, err := f.pay.Balance(context.Background(), asset, account)
	require.NoError(t, err)
	return b
}

func (f *fixture) mint(t *testing.T, eventID uint32, price int64) uint32 {
	t.Helper()
	id, err := f.svc.Mint(as(organizer), eventID, price)
	require.NoError(t, err)
	return id
}

func (f *fixture) ticket(t *testing.T, id uint32) domain.Ticket {
	t.Helper()
	tk, err := f.svc.GetTicket(context.Background(), id)
	require.NoError(t, err)
	return *tk
}

func (f *fixture) ticketCount(t *testing.T) uint32 {
	t.Helper()
	reg, err := f.reg.Get(context.Background())
	require.NoError(t, err)
	return reg.TicketCount
}

// sellTo moves a ticket from the organizer to owner through a real listing
// and purchase, leaving owner with a zero balance.
func (f *fixture) sellTo(t *testing.T, id uint32, owner domain.Identity, price int64) {
	t.Helper()
	_, err := f.svc.ListForResale(as(organizer), id, price)
	require.NoError(t, err)
	f.fund(t, owner, price)
	_, err = f.svc.Purchase(as(owner), id, owner)
	require.NoError(t, err)
}

func TestMint_SequentialIDs(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	for want := uint32(0); want < 5; want++ {
		id := f.mint(t, 9, int64(want)*100)
		assert.Equal(t, want, id)

		tk := f.ticket(t, id)
		assert.Equal(t, domain.Ticket{
			ID:       want,
			EventID:  9,
			Owner:    organizer,
			Price:    int64(want) * 100,
			ForSale:  false,
			IsResale: false,
		}, tk)
	}

	assert.Equal(t, uint32(5), f.ticketCount(t))

	_, err := f.svc.GetTicket(context.Background(), 5)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestMint_InvalidPrice(t *testing.T) {
	f := newFixture(t)

	// Price is validated before the registry is consulted.
	_, err := f.svc.Mint(as(organizer), 1, -1)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	f.initialize(t)
	f.mint(t, 1, 0)

	_, err = f.svc.Mint(as(organizer), 1, -500)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	assert.Equal(t, uint32(1), f.ticketCount(t))
}

func TestMint_NotInitialized(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Mint(as(organizer), 1, 10)
	assert.ErrorIs(t, err, registry.ErrNotInitialized)
}

func TestMint_Unauthorized(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	_, err := f.svc.Mint(as("alice"), 1, 10)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = f.svc.Mint(context.Background(), 1, 10)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	assert.Zero(t, f.ticketCount(t))
}

func TestListForResale(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	id := f.mint(t, 1, 1_000)

	listed, err := f.svc.ListForResale(as(organizer), id, 2_500)
	require.NoError(t, err)

	want := domain.Ticket{ID: id, EventID: 1, Owner: organizer, Price: 2_500, ForSale: true, IsResale: true}
	assert.Equal(t, want, *listed)
	assert.Equal(t, want, f.ticket(t, id))
}

func TestListForResale_Errors(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	id := f.mint(t, 1, 1_000)

	_, err := f.svc.ListForResale(as(organizer), 42, 10)
	assert.ErrorIs(t, err, ErrTicketNotFound)

	_, err = f.svc.ListForResale(as("alice"), id, 10)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = f.svc.ListForResale(as(organizer), id, 2_000)
	require.NoError(t, err)
	before := f.ticket(t, id)

	_, err = f.svc.ListForResale(as(organizer), id, 3_000)
	assert.ErrorIs(t, err, ErrAlreadyListed)
	assert.Equal(t, before, f.ticket(t, id))

	// Ownership is checked before the listing state.
	_, err = f.svc.ListForResale(as("alice"), id, 3_000)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestListForResale_AnyPriceAccepted(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	id := f.mint(t, 1, 1_000)

	listed, err := f.svc.ListForResale(as(organizer), id, -7)
	require.NoError(t, err)
	assert.Equal(t, int64(-7), listed.Price)

	// The negative amount is rejected by the payment layer at purchase.
	f.fund(t, "bob", 100)
	_, err = f.svc.Purchase(as("bob"), id, "bob")
	assert.ErrorIs(t, err, ErrPaymentFailed)
	assert.ErrorIs(t, err, payment.ErrInvalidAmount)
	assert.Equal(t, *listed, f.ticket(t, id))
}

func TestPurchase_Errors(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	id := f.mint(t, 1, 1_000)
	f.fund(t, "bob", 10_000)

	_, err := f.svc.Purchase(as("bob"), 99, "bob")
	assert.ErrorIs(t, err, ErrTicketNotFound)

	_, err = f.svc.Purchase(as("bob"), id, "bob")
	assert.ErrorIs(t, err, ErrNotForSale)

	_, err = f.svc.ListForResale(as(organizer), id, 1_000)
	require.NoError(t, err)

	_, err = f.svc.Purchase(as("mallory"), id, "bob")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	assert.Equal(t, int64(10_000), f.balance(t, "bob"))
	assert.Equal(t, organizer, f.ticket(t, id).Owner)
}

func TestPurchase_PrimaryListingPaysOrganizerInFull(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	id := f.mint(t, 1, 1_000)

	// A primary listing cannot be produced through ListForResale, so it is
	// written to storage directly.
	err := f.store.RunTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		tk, err := tx.Tickets().Get(ctx, id)
		if err != nil {
			return err
		}
		tk.ForSale = true
		return tx.Tickets().Update(ctx, *tk)
	})
	require.NoError(t, err)

	f.fund(t, "bob", 1_500)

	receipt, err := f.svc.Purchase(as("bob"), id, "bob")
	require.NoError(t, err)

	assert.Equal(t, []domain.Transfer{
		{Kind: domain.TransferPrimary, From: "bob", To: organizer, Amount: 1_000},
	}, receipt.Transfers)
	assert.Equal(t, int64(1_000), f.balance(t, organizer))
	assert.Equal(t, int64(500), f.balance(t, "bob"))
}

func TestPurchase_ResaleSplit(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	id := f.mint(t, 1, 100)
	f.sellTo(t, id, "alice", 100)

	orgBefore := f.balance(t, organizer)

	_, err := f.svc.ListForResale(as("alice"), id, 1_001)
	require.NoError(t, err)
	f.fund(t, "bob", 2_000)

	receipt, err := f.svc.Purchase(as("bob"), id, "bob")
	require.NoError(t, err)

	assert.Equal(t, domain.Identity("alice"), receipt.Seller)
	assert.Equal(t, asset, receipt.Asset)
	assert.Equal(t, []domain.Transfer{
		{Kind: domain.TransferCommission, From: "bob", To: organizer, Amount: 300},
		{Kind: domain.TransferSeller, From: "bob", To: "alice", Amount: 701},
	}, receipt.Transfers)

	assert.Equal(t, orgBefore+300, f.balance(t, organizer))
	assert.Equal(t, int64(701), f.balance(t, "alice"))
	assert.Equal(t, int64(999), f.balance(t, "bob"))

	assert.Equal(t, domain.Ticket{ID: id, EventID: 1, Owner: "bob", Price: 1_001}, f.ticket(t, id))

	owner, err := f.svc.GetOwner(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("bob"), owner)
}

func TestPurchase_InsufficientFundsLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	id := f.mint(t, 1, 100)
	f.sellTo(t, id, "alice", 100)

	_, err := f.svc.ListForResale(as("alice"), id, 1_000)
	require.NoError(t, err)
	before := f.ticket(t, id)
	orgBefore := f.balance(t, organizer)

	f.fund(t, "bob", 999)

	_, err = f.svc.Purchase(as("bob"), id, "bob")
	assert.ErrorIs(t, err, ErrPaymentFailed)
	assert.ErrorIs(t, err, payment.ErrInsufficientFunds)

	assert.Equal(t, before, f.ticket(t, id))
	assert.Equal(t, int64(999), f.balance(t, "bob"))
	assert.Equal(t, orgBefore, f.balance(t, organizer))
	assert.Zero(t, f.balance(t, "alice"))
}

type payerMock struct {
	mock.Mock
	next Payer
}

func (m *payerMock) Transfer(
	ctx context.Context,
	tx repository.Tx,
	asset, from, to domain.Identity,
	amount int64,
) error {
	args := m.Called(from, to, amount)
	if err := args.Error(0); err != nil {
		return err
	}
	return m.next.Transfer(ctx, tx, asset, from, to, amount)
}

func TestPurchase_FailedSecondTransferRollsBackFirst(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	id := f.mint(t, 1, 100)
	f.sellTo(t, id, "alice", 100)

	_, err := f.svc.ListForResale(as("alice"), id, 1_000)
	require.NoError(t, err)
	before := f.ticket(t, id)
	orgBefore := f.balance(t, organizer)
	f.fund(t, "bob", 1_000)

	payer := &payerMock{next: f.pay}
	payer.On("Transfer", domain.Identity("bob"), organizer, int64(300)).Return(nil).Once()
	payer.On("Transfer", domain.Identity("bob"), domain.Identity("alice"), int64(700)).
		Return(errors.New("asset contract unavailable")).Once()

	svc := New(f.store, f.reg, payer, auth.ContextAuthorizer{}, Deps{Log: discardLogger()}, Config{})

	_, err = svc.Purchase(as("bob"), id, "bob")
	assert.ErrorIs(t, err, ErrPaymentFailed)
	payer.AssertExpectations(t)

	assert.Equal(t, before, f.ticket(t, id))
	assert.Equal(t, int64(1_000), f.balance(t, "bob"))
	assert.Equal(t, orgBefore, f.balance(t, organizer))
	assert.Zero(t, f.balance(t, "alice"))
}

func TestPurchase_ContentionIsNotAPaymentFailure(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	id := f.mint(t, 1, 100)

	_, err := f.svc.ListForResale(as(organizer), id, 100)
	require.NoError(t, err)
	before := f.ticket(t, id)
	f.fund(t, "bob", 100)

	payer := &payerMock{next: f.pay}
	payer.On("Transfer", domain.Identity("bob"), organizer, int64(30)).
		Return(fmt.Errorf("debit: %w", repository.ErrContention)).Once()

	svc := New(f.store, f.reg, payer, auth.ContextAuthorizer{}, Deps{Log: discardLogger()}, Config{})

	_, err = svc.Purchase(as("bob"), id, "bob")
	assert.ErrorIs(t, err, repository.ErrContention)
	assert.NotErrorIs(t, err, ErrPaymentFailed)
	payer.AssertExpectations(t)

	assert.Equal(t, before, f.ticket(t, id))
	assert.Equal(t, int64(100), f.balance(t, "bob"))
}

type limiterStub struct {
	limit int64
	retry time.Duration
	err   error
	hits  map[string]int64
	calls []string
}

func (l *limiterStub) Allow(_ context.Context, id string) (bool, int64, time.Duration, error) {
	l.calls = append(l.calls, id)
	if l.err != nil {
		return false, 0, 0, l.err
	}

	if l.hits == nil {
		l.hits = make(map[string]int64)
	}
	l.hits[id]++

	if l.hits[id] > l.limit {
		return false, l.hits[id], l.retry, nil
	}
	return true, l.hits[id], 0, nil
}

func (f *fixture) withLimiter(l Limiter) *Service {
	return New(f.store, f.reg, f.pay, auth.ContextAuthorizer{}, Deps{Limiter: l, Log: discardLogger()}, Config{})
}

func TestPurchase_RateLimitedChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	id := f.mint(t, 1, 100)

	_, err := f.svc.ListForResale(as(organizer), id, 100)
	require.NoError(t, err)
	before := f.ticket(t, id)
	f.fund(t, "bob", 100)

	lim := &limiterStub{limit: 0, retry: 1500 * time.Millisecond}
	svc := f.withLimiter(lim)

	_, err = svc.Purchase(as("bob"), id, "bob")
	require.ErrorIs(t, err, ErrRateLimited)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 1500*time.Millisecond, rl.RetryAfter)

	assert.Equal(t, []string{"bob"}, lim.calls)
	assert.Equal(t, before, f.ticket(t, id))
	assert.Equal(t, int64(100), f.balance(t, "bob"))
	assert.Zero(t, f.balance(t, organizer))
}

func TestPurchase_RateLimitCountsThePrincipal(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	id := f.mint(t, 1, 100)

	_, err := f.svc.ListForResale(as(organizer), id, 100)
	require.NoError(t, err)

	lim := &limiterStub{limit: 1, retry: time.Second}
	svc := f.withLimiter(lim)

	// Anonymous attempts naming someone else never spend their budget.
	for range 3 {
		_, err = svc.Purchase(context.Background(), id, "victim")
		assert.ErrorIs(t, err, auth.ErrUnauthorized)
	}
	assert.Empty(t, lim.calls)

	// An authenticated caller naming another buyer spends its own budget.
	_, err = svc.Purchase(as("mallory"), id, "victim")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	_, err = svc.Purchase(as("mallory"), id, "victim")
	assert.ErrorIs(t, err, ErrRateLimited)

	f.fund(t, "victim", 100)
	receipt, err := svc.Purchase(as("victim"), id, "victim")
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("victim"), receipt.Ticket.Owner)

	assert.Equal(t, []string{"mallory", "mallory", "victim"}, lim.calls)
}

func TestPurchase_LimiterOutageAllowsPurchase(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	id := f.mint(t, 1, 100)

	_, err := f.svc.ListForResale(as(organizer), id, 100)
	require.NoError(t, err)
	f.fund(t, "bob", 100)

	svc := f.withLimiter(&limiterStub{err: errors.New("connection refused")})

	_, err = svc.Purchase(as("bob"), id, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("bob"), f.ticket(t, id).Owner)
}

// Every listing is marked as a resale, so the organizer's own first sale is
// settled with the commission split and the organizer receives both parts.
func TestPurchase_OrganizerListingSettlesAsResale(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	id := f.mint(t, 1, 1_000)

	listed, err := f.svc.ListForResale(as(organizer), id, 1_000)
	require.NoError(t, err)
	assert.True(t, listed.IsResale)

	f.fund(t, "bob", 1_000)
	receipt, err := f.svc.Purchase(as("bob"), id, "bob")
	require.NoError(t, err)

	assert.Equal(t, []domain.Transfer{
		{Kind: domain.TransferCommission, From: "bob", To: organizer, Amount: 300},
		{Kind: domain.TransferSeller, From: "bob", To: organizer, Amount: 700},
	}, receipt.Transfers)
	assert.Equal(t, int64(1_000), f.balance(t, organizer))
}

func TestScenario_ListEventTickets(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	f.mint(t, 42, 1_000_000)
	f.mint(t, 42, 1_200_000)
	f.mint(t, 100, 1_500_000)

	got, err := f.svc.ListEventTickets(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(0), got[0].ID)
	assert.Equal(t, uint32(1), got[1].ID)
	for _, tk := range got {
		assert.Equal(t, uint32(42), tk.EventID)
	}

	none, err := f.svc.ListEventTickets(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestScenario_ListResaleTickets(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	f.mint(t, 1, 1_000_000)
	f.mint(t, 1, 1_500_000)

	_, err := f.svc.ListForResale(as(organizer), 0, 2_000_000)
	require.NoError(t, err)

	got, err := f.svc.ListResaleTickets(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(0), got[0].ID)
	assert.Equal(t, int64(2_000_000), got[0].Price)
}

func TestScenario_ListThenPurchase(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	id := f.mint(t, 1, 2_000_000)

	_, err := f.svc.ListForResale(as(organizer), id, 2_000_000)
	require.NoError(t, err)

	f.fund(t, "buyer", 5_000_000)
	orgBefore := f.balance(t, organizer)

	_, err = f.svc.Purchase(as("buyer"), id, "buyer")
	require.NoError(t, err)

	assert.Equal(t, orgBefore+2_000_000, f.balance(t, organizer))
	assert.Equal(t, int64(3_000_000), f.balance(t, "buyer"))

	tk := f.ticket(t, id)
	assert.False(t, tk.IsResale)
	assert.False(t, tk.ForSale)
	assert.Equal(t, domain.Identity("buyer"), tk.Owner)

	resale, err := f.svc.ListResaleTickets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, resale)
}

func TestAfterCommitHooks(t *testing.T) {
	db, rmock := redismock.NewClientMock()
	var logs bytes.Buffer

	store := memory.NewStore()
	reg := registry.New(store, nil, auth.ContextAuthorizer{}, discardLogger(), registry.Config{})
	pay := payment.New(store, auth.ContextAuthorizer{}, issuer)
	svc := New(store, reg, pay, auth.ContextAuthorizer{}, Deps{
		Cache: redisrepo.New(db),
		Log:   slog.New(slog.NewTextHandler(&logs, nil)),
	}, Config{})

	require.NoError(t, reg.Initialize(as(organizer), organizer, asset))

	// A failed mint must not touch the cache.
	_, err := svc.Mint(as("alice"), 7, 10)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.NotContains(t, logs.String(), "cache invalidation failed")

	rmock.ExpectDel(
		redisrepo.KeyTicket(0),
		redisrepo.KeyEventTickets(7),
		redisrepo.KeyResaleTickets(),
		redisrepo.KeyRegistry(),
	).SetVal(0)

	_, err = svc.Mint(as(organizer), 7, 10)
	require.NoError(t, err)

	assert.NoError(t, rmock.ExpectationsWereMet())
	assert.NotContains(t, logs.String(), "cache invalidation failed")
}
