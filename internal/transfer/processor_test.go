package transfer

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucky7games/ledger/internal/domain"
	"github.com/lucky7games/ledger/internal/models"
	"github.com/lucky7games/ledger/internal/notify"
	"github.com/lucky7games/ledger/internal/repository"
)

type fakeResolver struct {
	wallets      map[string]*models.Wallet
	accounts     map[string]*models.WalletAccount
	cachedCalls  []string
	cachedValues map[string]decimal.Decimal
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		wallets:      make(map[string]*models.Wallet),
		accounts:     make(map[string]*models.WalletAccount),
		cachedValues: make(map[string]decimal.Decimal),
	}
}

func (f *fakeResolver) addPlatform(name, flow string) *models.Wallet {
	w := &models.Wallet{ID: uuid.New(), Type: domain.WalletTypePlatform, Name: name, Flow: flow}
	f.wallets["platform:"+name] = w
	return w
}

func (f *fakeResolver) addUser(userID uuid.UUID) *models.Wallet {
	w := &models.Wallet{ID: uuid.New(), Type: domain.WalletTypeUser, UserID: &userID, Flow: domain.FlowAll}
	f.wallets["user:"+userID.String()] = w
	return w
}

func (f *fakeResolver) addAccount(w *models.Wallet, name, currency string, balance decimal.Decimal, allowNegative bool) *models.WalletAccount {
	a := &models.WalletAccount{
		ID: uuid.New(), WalletID: w.ID, Name: name, CurrencyCode: currency,
		Balance: balance, BalanceRaw: balance, AllowNegative: allowNegative,
	}
	f.accounts[w.ID.String()+"/"+name] = a
	return a
}

func (f *fakeResolver) GetPlatformWallet(_ context.Context, name string) (*models.Wallet, error) {
	if w, ok := f.wallets["platform:"+name]; ok {
		return w, nil
	}
	return nil, domain.NotFoundf("platform wallet %q not found", name)
}

func (f *fakeResolver) GetUserWallet(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if w, ok := f.wallets["user:"+userID.String()]; ok {
		return w, nil
	}
	return nil, domain.NotFoundf("user wallet for user %s not found", userID)
}

func (f *fakeResolver) GetAccount(_ context.Context, w *models.Wallet, name string) (*models.WalletAccount, error) {
	if a, ok := f.accounts[w.ID.String()+"/"+name]; ok {
		return a, nil
	}
	return nil, domain.NotFoundf("account %q not found", name)
}

func (f *fakeResolver) CacheObservableBalance(_ context.Context, userID uuid.UUID, account string, balance decimal.Decimal) error {
	key := userID.String() + ":" + account
	f.cachedCalls = append(f.cachedCalls, key)
	f.cachedValues[key] = balance
	return nil
}

type fakeRates struct {
	rates map[string]decimal.Decimal
}

func newFakeRates(rates map[string]string) *fakeRates {
	parsed := map[string]decimal.Decimal{domain.BaseCurrency: decimal.NewFromInt(1)}
	for code, rate := range rates {
		parsed[code] = decimal.RequireFromString(rate)
	}
	return &fakeRates{rates: parsed}
}

func (f *fakeRates) GetRate(_ context.Context, code string) (*models.CurrencyRate, error) {
	rate, ok := f.rates[code]
	if !ok {
		return nil, domain.NotFoundf("no rate recorded for currency %q", code)
	}
	return &models.CurrencyRate{CurrencyCode: code, Rate: rate}, nil
}

func (f *fakeRates) Convert(ctx context.Context, amount decimal.Decimal, fromCode, toCode string) (decimal.Decimal, error) {
	if fromCode == toCode {
		return amount, nil
	}
	from, err := f.GetRate(ctx, fromCode)
	if err != nil {
		return decimal.Zero, err
	}
	to, err := f.GetRate(ctx, toCode)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Div(from.Rate).Mul(to.Rate), nil
}

type fakeLedger struct {
	entriesByRef map[string]*models.WalletEntry
	posted       []repository.PostEntryParams
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entriesByRef: make(map[string]*models.WalletEntry)}
}

func (f *fakeLedger) FindEntryByExternalRef(_ context.Context, ref string) (*models.WalletEntry, error) {
	if e, ok := f.entriesByRef[ref]; ok {
		return e, nil
	}
	return nil, domain.NotFoundf("no entry with external ref %q", ref)
}

func (f *fakeLedger) PostEntry(_ context.Context, params repository.PostEntryParams) (*models.WalletEntry, error) {
	f.posted = append(f.posted, params)
	entry := params.Entry
	for i := range params.Transactions {
		tx := params.Transactions[i]
		tx.EntryID = entry.ID
		entry.Transactions = append(entry.Transactions, tx)
	}
	if entry.ExternalRef != nil {
		f.entriesByRef[*entry.ExternalRef] = &entry
	}
	return &entry, nil
}

type fakeNotifier struct {
	events map[uuid.UUID][]notify.AccountBalance
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{events: make(map[uuid.UUID][]notify.AccountBalance)}
}

func (f *fakeNotifier) BalanceUpdated(_ context.Context, userID uuid.UUID, accounts []notify.AccountBalance) error {
	f.events[userID] = append(f.events[userID], accounts...)
	return nil
}

type processorFixture struct {
	resolver *fakeResolver
	rates    *fakeRates
	ledger   *fakeLedger
	notifier *fakeNotifier
	proc     *Processor
}

func newFixture(rates map[string]string) *processorFixture {
	f := &processorFixture{
		resolver: newFakeResolver(),
		rates:    newFakeRates(rates),
		ledger:   newFakeLedger(),
		notifier: newFakeNotifier(),
	}
	f.proc = NewProcessor(f.resolver, f.rates, f.ledger, f.notifier)
	return f
}

func mustRequest(t *testing.T, build func(*Builder) (*Request, error), amount, currency, purpose string) *Request {
	t.Helper()
	b, err := New(decimal.RequireFromString(amount), currency, purpose)
	require.NoError(t, err)
	req, err := build(b)
	require.NoError(t, err)
	return req
}

func TestProcessor_SimpleDeposit(t *testing.T) {
	fx := newFixture(nil)
	userID := uuid.New()

	prize := fx.resolver.addPlatform(domain.PlatformWalletPrize, domain.FlowAll)
	fx.resolver.addAccount(prize, "USD", "USD", decimal.Zero, true)
	user := fx.resolver.addUser(userID)
	userAcct := fx.resolver.addAccount(user, domain.AccountWithdrawable, "USD", decimal.Zero, false)

	req := mustRequest(t, func(b *Builder) (*Request, error) {
		return b.RequestedBy(domain.RequesterSystem, "game-7").
			FromPlatform(domain.PlatformWalletPrize, "USD").
			ToUser(userID, domain.AccountWithdrawable).
			Commit()
	}, "100", "USD", domain.PurposeDeposit)

	entry, err := fx.proc.Process(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, entry.Transactions, 2)

	debit, credit := entry.Transactions[0], entry.Transactions[1]
	assert.True(t, debit.Amount.Equal(decimal.NewFromInt(-100)))
	assert.True(t, debit.BaseAmount.Equal(decimal.NewFromInt(-100)))
	assert.True(t, credit.Amount.Equal(decimal.NewFromInt(100)))
	assert.True(t, credit.BaseAmount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, userAcct.ID, credit.AccountID)

	require.Len(t, fx.ledger.posted, 1)
	params := fx.ledger.posted[0]
	assert.Len(t, params.Deltas, 2)
	// The funding account allows negative balances, so no guard is set.
	assert.Equal(t, uuid.Nil, params.GuardAccountID)

	// Observable credit triggers cache refresh and one notification.
	events := fx.notifier.events[userID]
	require.Len(t, events, 1)
	assert.Equal(t, domain.AccountWithdrawable, events[0].Account)
	assert.True(t, events[0].Balance.Equal(decimal.NewFromInt(100)))
	assert.Contains(t, fx.resolver.cachedCalls, userID.String()+":"+domain.AccountWithdrawable)
}

func TestProcessor_CrossCurrencyPurchase(t *testing.T) {
	fx := newFixture(map[string]string{"EUR": "0.9"})
	userID := uuid.New()

	user := fx.resolver.addUser(userID)
	userAcct := fx.resolver.addAccount(user, domain.AccountWithdrawable, "USD", decimal.NewFromInt(50), false)
	revenue := fx.resolver.addPlatform(domain.PlatformWalletRevenue, domain.FlowAll)
	fx.resolver.addAccount(revenue, "EUR", "EUR", decimal.Zero, true)

	req := mustRequest(t, func(b *Builder) (*Request, error) {
		return b.RequestedBy(domain.RequesterUser, userID.String()).
			FromUser(userID, domain.AccountWithdrawable).
			ToPlatform(domain.PlatformWalletRevenue, "EUR").
			Commit()
	}, "10", "USD", domain.PurposePurchase)

	entry, err := fx.proc.Process(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, entry.Transactions, 2)

	debit, credit := entry.Transactions[0], entry.Transactions[1]
	assert.True(t, debit.Amount.Equal(decimal.NewFromInt(-10)), "got %s", debit.Amount)
	assert.Equal(t, "USD", debit.CurrencyCode)
	assert.True(t, credit.Amount.Equal(decimal.NewFromInt(9)), "got %s", credit.Amount)
	assert.Equal(t, "EUR", credit.CurrencyCode)
	assert.True(t, credit.ExchangeRate.Equal(decimal.RequireFromString("0.9")))

	// Both legs carry the same base magnitude, so the entry sums to zero.
	assert.True(t, debit.BaseAmount.Add(credit.BaseAmount).IsZero())

	// The funding account forbids negatives, so it is the guard.
	require.Len(t, fx.ledger.posted, 1)
	assert.Equal(t, userAcct.ID, fx.ledger.posted[0].GuardAccountID)
}

func TestProcessor_DuplicateExternalRef(t *testing.T) {
	fx := newFixture(nil)
	userID := uuid.New()

	prize := fx.resolver.addPlatform(domain.PlatformWalletPrize, domain.FlowAll)
	fx.resolver.addAccount(prize, "USD", "USD", decimal.Zero, true)
	user := fx.resolver.addUser(userID)
	fx.resolver.addAccount(user, domain.AccountWithdrawable, "USD", decimal.Zero, false)

	build := func(b *Builder) (*Request, error) {
		return b.RequestedBy(domain.RequesterSystem, "checkout").
			ExternalRef("dep-42").
			FromPlatform(domain.PlatformWalletPrize, "USD").
			ToUser(userID, domain.AccountWithdrawable).
			Commit()
	}

	_, err := fx.proc.Process(context.Background(), mustRequest(t, build, "100", "USD", domain.PurposeDeposit))
	require.NoError(t, err)

	_, err = fx.proc.Process(context.Background(), mustRequest(t, build, "100", "USD", domain.PurposeDeposit))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConflict), "got %v", err)
	assert.Len(t, fx.ledger.posted, 1, "duplicate must not reach the store")
}

func TestProcessor_InsufficientFunds(t *testing.T) {
	fx := newFixture(nil)
	userID := uuid.New()

	user := fx.resolver.addUser(userID)
	fx.resolver.addAccount(user, domain.AccountWithdrawable, "USD", decimal.NewFromInt(5), false)
	revenue := fx.resolver.addPlatform(domain.PlatformWalletRevenue, domain.FlowAll)
	fx.resolver.addAccount(revenue, "USD", "USD", decimal.Zero, true)

	req := mustRequest(t, func(b *Builder) (*Request, error) {
		return b.RequestedBy(domain.RequesterUser, userID.String()).
			FromUser(userID, domain.AccountWithdrawable).
			ToPlatform(domain.PlatformWalletRevenue, "USD").
			Commit()
	}, "10", "USD", domain.PurposePurchase)

	_, err := fx.proc.Process(context.Background(), req)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInsufficientFunds), "got %v", err)
	assert.Empty(t, fx.ledger.posted)
}

func TestProcessor_FlowPolicy(t *testing.T) {
	fx := newFixture(nil)
	userID := uuid.New()

	// An inbound-only wallet cannot fund transfers.
	vault := fx.resolver.addPlatform("vault", domain.FlowInbound)
	fx.resolver.addAccount(vault, "USD", "USD", decimal.Zero, true)
	user := fx.resolver.addUser(userID)
	fx.resolver.addAccount(user, domain.AccountWithdrawable, "USD", decimal.Zero, false)

	build := func(bypass bool) *Request {
		var opts []LegOption
		if bypass {
			opts = append(opts, BypassFlow())
		}
		b, err := New(decimal.NewFromInt(10), "USD", domain.PurposeRefund)
		require.NoError(t, err)
		req, err := b.RequestedBy(domain.RequesterAdmin, "ops").
			FromPlatform("vault", "USD", opts...).
			ToUser(userID, domain.AccountWithdrawable).
			Commit()
		require.NoError(t, err)
		return req
	}

	_, err := fx.proc.Process(context.Background(), build(false))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindForbidden), "got %v", err)

	_, err = fx.proc.Process(context.Background(), build(true))
	require.NoError(t, err)
}

func TestProcessor_RelayLegsShareMagnitude(t *testing.T) {
	fx := newFixture(map[string]string{"EUR": "0.9"})
	alice, bob := uuid.New(), uuid.New()

	aliceWallet := fx.resolver.addUser(alice)
	fx.resolver.addAccount(aliceWallet, domain.AccountWithdrawable, "USD", decimal.NewFromInt(100), false)
	exchange := fx.resolver.addPlatform("exchange", domain.FlowAll)
	exchangeAcct := fx.resolver.addAccount(exchange, "EUR", "EUR", decimal.Zero, true)
	bobWallet := fx.resolver.addUser(bob)
	fx.resolver.addAccount(bobWallet, domain.AccountWithdrawable, "USD", decimal.Zero, false)

	req := mustRequest(t, func(b *Builder) (*Request, error) {
		return b.RequestedBy(domain.RequesterAdmin, "ops").
			FromUser(alice, domain.AccountWithdrawable).
			ToPlatform("exchange", "EUR").
			ToUser(bob, domain.AccountWithdrawable).
			Commit()
	}, "10", "USD", domain.PurposeUpgrade)

	entry, err := fx.proc.Process(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, entry.Transactions, 4)

	hop, mirror := entry.Transactions[1], entry.Transactions[2]
	assert.True(t, hop.Amount.Equal(mirror.Amount.Neg()), "hop %s mirror %s", hop.Amount, mirror.Amount)
	assert.Equal(t, exchangeAcct.ID, hop.AccountID)
	assert.Equal(t, exchangeAcct.ID, mirror.AccountID)

	// Bob receives the full 10 USD after the EUR round trip.
	final := entry.Transactions[3]
	assert.True(t, final.Amount.Equal(decimal.NewFromInt(10)), "got %s", final.Amount)

	// The relay account nets to zero, so three deltas cover four legs.
	require.Len(t, fx.ledger.posted, 1)
	deltas := fx.ledger.posted[0].Deltas
	require.Len(t, deltas, 3)
	assert.True(t, deltas[1].Amount.IsZero())

	net := decimal.Zero
	for _, tx := range entry.Transactions {
		net = net.Add(tx.BaseAmount)
	}
	assert.True(t, net.IsZero())
}

func TestProcessor_NoNotificationForUnobservableAccounts(t *testing.T) {
	fx := newFixture(nil)
	userID := uuid.New()

	prize := fx.resolver.addPlatform(domain.PlatformWalletPrize, domain.FlowAll)
	fx.resolver.addAccount(prize, "USD", "USD", decimal.Zero, true)
	user := fx.resolver.addUser(userID)
	fx.resolver.addAccount(user, domain.AccountDeposited, "USD", decimal.Zero, false)

	req := mustRequest(t, func(b *Builder) (*Request, error) {
		return b.RequestedBy(domain.RequesterSystem, "checkout").
			FromPlatform(domain.PlatformWalletPrize, "USD").
			ToUser(userID, domain.AccountDeposited).
			Commit()
	}, "20", "USD", domain.PurposeDeposit)

	_, err := fx.proc.Process(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, fx.notifier.events)
	assert.Empty(t, fx.resolver.cachedCalls)
}

func TestProcessor_RawAmountKeepsPrecision(t *testing.T) {
	fx := newFixture(nil)
	userID := uuid.New()

	prize := fx.resolver.addPlatform(domain.PlatformWalletPrize, domain.FlowAll)
	fx.resolver.addAccount(prize, "USD", "USD", decimal.Zero, true)
	user := fx.resolver.addUser(userID)
	fx.resolver.addAccount(user, domain.AccountWithdrawable, "USD", decimal.Zero, false)

	req := mustRequest(t, func(b *Builder) (*Request, error) {
		return b.RequestedBy(domain.RequesterSystem, "checkout").
			FromPlatform(domain.PlatformWalletPrize, "USD").
			ToUser(userID, domain.AccountWithdrawable).
			Commit()
	}, "10.555", "USD", domain.PurposeDeposit)

	entry, err := fx.proc.Process(context.Background(), req)
	require.NoError(t, err)

	credit := entry.Transactions[1]
	assert.Equal(t, "10.555", credit.AmountRaw.String())
	assert.Equal(t, "10.56", credit.Amount.String())
	assert.Equal(t, "10.56", credit.BaseAmount.String())
}
