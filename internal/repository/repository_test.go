package repository

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucky7games/ledger/internal/db"
	"github.com/lucky7games/ledger/internal/domain"
	"github.com/lucky7games/ledger/internal/models"
)

func init() {
	_ = godotenv.Load("../../.env")
}

func testStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	pool, err := db.Connect(context.Background(), os.Getenv("DATABASE_URL"))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewStore(pool)
}

func createTestWallets(t *testing.T, q *Queries) (*models.WalletAccount, *models.WalletAccount) {
	t.Helper()
	ctx := context.Background()

	platform := &models.Wallet{
		ID:   uuid.New(),
		Type: domain.WalletTypePlatform,
		Name: "it_prize_" + uuid.NewString()[:8],
		Flow: domain.FlowAll,
	}
	require.NoError(t, q.CreateWallet(ctx, platform))
	platformAcct := &models.WalletAccount{
		ID:            uuid.New(),
		WalletID:      platform.ID,
		Name:          "USD",
		CurrencyCode:  "USD",
		AllowNegative: true,
	}
	require.NoError(t, q.CreateAccount(ctx, platformAcct))

	userID := uuid.New()
	user := &models.Wallet{
		ID:     uuid.New(),
		Type:   domain.WalletTypeUser,
		UserID: &userID,
		Flow:   domain.FlowAll,
	}
	userAcct := &models.WalletAccount{
		ID:           uuid.New(),
		WalletID:     user.ID,
		Name:         domain.AccountWithdrawable,
		CurrencyCode: "USD",
	}
	require.NoError(t, q.CreateWalletWithAccounts(ctx, user, []*models.WalletAccount{userAcct}))

	return platformAcct, userAcct
}

func depositParams(platformAcct, userAcct *models.WalletAccount, amount decimal.Decimal, ref string) PostEntryParams {
	entry := models.WalletEntry{
		ID:            uuid.New(),
		Purpose:       domain.PurposeDeposit,
		RequesterType: domain.RequesterSystem,
		RequesterID:   "integration-test",
	}
	if ref != "" {
		entry.ExternalRef = &ref
	}

	one := decimal.NewFromInt(1)
	txs := []models.WalletTransaction{
		{
			ID: uuid.New(), WalletID: platformAcct.WalletID, AccountID: platformAcct.ID,
			Amount: amount.Neg(), AmountRaw: amount.Neg(), CurrencyCode: "USD",
			ExchangeRate: one, BaseAmount: amount.Neg(),
			Purpose: entry.Purpose, RequesterType: entry.RequesterType, RequesterID: entry.RequesterID,
		},
		{
			ID: uuid.New(), WalletID: userAcct.WalletID, AccountID: userAcct.ID,
			Amount: amount, AmountRaw: amount, CurrencyCode: "USD",
			ExchangeRate: one, BaseAmount: amount,
			Purpose: entry.Purpose, RequesterType: entry.RequesterType, RequesterID: entry.RequesterID,
		},
	}
	deltas := []BalanceDelta{
		{AccountID: platformAcct.ID, Amount: amount.Neg(), AmountRaw: amount.Neg(), BaseAmount: amount.Neg()},
		{AccountID: userAcct.ID, Amount: amount, AmountRaw: amount, BaseAmount: amount},
	}
	return PostEntryParams{Entry: entry, Transactions: txs, Deltas: deltas}
}

func TestPostEntry_RoundTrip(t *testing.T) {
	store := testStore(t)
	q := store.Queries()
	ctx := context.Background()

	platformAcct, userAcct := createTestWallets(t, q)

	amount := decimal.NewFromInt(100)
	ref := "it-" + uuid.NewString()
	posted, err := store.PostEntry(ctx, depositParams(platformAcct, userAcct, amount, ref))
	require.NoError(t, err)
	require.Len(t, posted.Transactions, 2)
	assert.False(t, posted.CreatedAt.IsZero())

	got, err := q.GetAccount(ctx, userAcct.WalletID, domain.AccountWithdrawable)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(amount), "balance %s", got.Balance)

	platformGot, err := q.GetAccount(ctx, platformAcct.WalletID, "USD")
	require.NoError(t, err)
	assert.True(t, platformGot.Balance.Equal(amount.Neg()))

	found, err := store.FindEntryByExternalRef(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, posted.ID, found.ID)

	full, err := q.GetEntry(ctx, posted.ID)
	require.NoError(t, err)
	assert.Len(t, full.Transactions, 2)
}

func TestPostEntry_DuplicateExternalRef(t *testing.T) {
	store := testStore(t)
	q := store.Queries()
	ctx := context.Background()

	platformAcct, userAcct := createTestWallets(t, q)
	ref := "it-dup-" + uuid.NewString()
	amount := decimal.NewFromInt(10)

	_, err := store.PostEntry(ctx, depositParams(platformAcct, userAcct, amount, ref))
	require.NoError(t, err)

	_, err = store.PostEntry(ctx, depositParams(platformAcct, userAcct, amount, ref))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConflict), "got %v", err)
}

func TestPostEntry_GuardRejectsOverdraft(t *testing.T) {
	store := testStore(t)
	q := store.Queries()
	ctx := context.Background()

	platformAcct, userAcct := createTestWallets(t, q)

	// Fund the user account, then try to debit more than it holds.
	_, err := store.PostEntry(ctx, depositParams(platformAcct, userAcct, decimal.NewFromInt(50), ""))
	require.NoError(t, err)

	params := depositParams(userAcct, platformAcct, decimal.NewFromInt(80), "")
	params.GuardAccountID = userAcct.ID
	_, err = store.PostEntry(ctx, params)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInsufficientFunds), "got %v", err)

	got, err := q.GetAccount(ctx, userAcct.WalletID, domain.AccountWithdrawable)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(50)))
}

func TestCreateWalletWithAccounts_RollsBackOnFailure(t *testing.T) {
	store := testStore(t)
	q := store.Queries()
	ctx := context.Background()

	userID := uuid.New()
	w := &models.Wallet{
		ID:     uuid.New(),
		Type:   domain.WalletTypeUser,
		UserID: &userID,
		Flow:   domain.FlowAll,
	}
	// The duplicate account name trips the unique constraint on the second
	// insert; the wallet inserted before it must not survive.
	accounts := []*models.WalletAccount{
		{ID: uuid.New(), WalletID: w.ID, Name: domain.AccountWithdrawable, CurrencyCode: "USD"},
		{ID: uuid.New(), WalletID: w.ID, Name: domain.AccountWithdrawable, CurrencyCode: "USD"},
	}
	err := q.CreateWalletWithAccounts(ctx, w, accounts)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConflict), "got %v", err)

	_, err = q.GetUserWallet(ctx, userID)
	assert.True(t, domain.IsKind(err, domain.KindNotFound), "got %v", err)

	// The same wallet can be provisioned once the account set is valid.
	retry := []*models.WalletAccount{
		{ID: uuid.New(), WalletID: w.ID, Name: domain.AccountWithdrawable, CurrencyCode: "USD"},
	}
	require.NoError(t, q.CreateWalletWithAccounts(ctx, w, retry))
}

func TestUpsertRate(t *testing.T) {
	store := testStore(t)
	q := store.Queries()
	ctx := context.Background()

	code := "ZZ" + uuid.NewString()[:1]
	first, err := q.UpsertRate(ctx, code, decimal.RequireFromString("0.9"))
	require.NoError(t, err)

	second, err := q.UpsertRate(ctx, code, decimal.RequireFromString("0.95"))
	require.NoError(t, err)
	assert.True(t, second.Rate.Equal(decimal.RequireFromString("0.95")))
	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))

	got, err := q.GetRate(ctx, code)
	require.NoError(t, err)
	assert.True(t, got.Rate.Equal(decimal.RequireFromString("0.95")))
}
