package transfer

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucky7games/ledger/internal/domain"
)

func TestBuilder_RejectsNonPositiveAmount(t *testing.T) {
	_, err := New(decimal.Zero, "USD", domain.PurposeDeposit)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	_, err = New(decimal.NewFromInt(-5), "USD", domain.PurposeDeposit)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	// 0.001 USD rounds to zero at the currency's minor units.
	_, err = New(decimal.RequireFromString("0.001"), "USD", domain.PurposeDeposit)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestBuilder_RequiresCurrencyAndPurpose(t *testing.T) {
	_, err := New(decimal.NewFromInt(1), "", domain.PurposeDeposit)
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	_, err = New(decimal.NewFromInt(1), "USD", "")
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestBuilder_SimpleTransfer(t *testing.T) {
	userID := uuid.New()

	b, err := New(decimal.NewFromInt(100), "USD", domain.PurposeDeposit)
	require.NoError(t, err)

	req, err := b.
		RequestedBy(domain.RequesterSystem, "checkout").
		Memo("first deposit").
		ExternalRef("dep-001").
		FromPlatform(domain.PlatformWalletPrize, "USD").
		ToUser(userID, domain.AccountWithdrawable).
		Commit()
	require.NoError(t, err)

	assert.Equal(t, "first deposit", req.Memo)
	assert.Equal(t, "dep-001", req.ExternalRef)

	legs := req.Legs()
	require.Len(t, legs, 2)
	assert.Equal(t, Debit, legs[0].Type)
	assert.Equal(t, domain.WalletTypePlatform, legs[0].Wallet.Type)
	assert.Equal(t, Credit, legs[1].Type)
	assert.Equal(t, userID, legs[1].Wallet.UserID)
}

func TestBuilder_RelayEmitsMirrorDebits(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()

	b, err := New(decimal.NewFromInt(25), "USD", domain.PurposeReferralBonus)
	require.NoError(t, err)

	req, err := b.
		RequestedBy(domain.RequesterSystem, "referrals").
		FromUser(alice, domain.AccountBonus).
		ToPlatform(domain.PlatformWalletRevenue, "USD", BypassFlow()).
		ToUser(bob, domain.AccountBonus).
		Commit()
	require.NoError(t, err)

	legs := req.Legs()
	require.Len(t, legs, 4)

	// Mirror debit targets the previous credit's wallet and account but
	// never inherits its flow bypass.
	assert.Equal(t, Credit, legs[1].Type)
	assert.True(t, legs[1].BypassFlow)
	assert.Equal(t, Debit, legs[2].Type)
	assert.Equal(t, legs[1].Wallet, legs[2].Wallet)
	assert.Equal(t, legs[1].Account, legs[2].Account)
	assert.False(t, legs[2].BypassFlow)
	assert.Equal(t, Credit, legs[3].Type)
	assert.Equal(t, bob, legs[3].Wallet.UserID)
}

func TestBuilder_MissingRequesterFailsAtCommit(t *testing.T) {
	b, err := New(decimal.NewFromInt(1), "USD", domain.PurposePurchase)
	require.NoError(t, err)

	_, err = b.
		RequestedBy("", "").
		FromUser(uuid.New(), domain.AccountWithdrawable).
		ToPlatform(domain.PlatformWalletRevenue, "USD").
		Commit()
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestBuilder_MissingAccountSelectorFailsAtCommit(t *testing.T) {
	b, err := New(decimal.NewFromInt(1), "USD", domain.PurposePurchase)
	require.NoError(t, err)

	_, err = b.
		RequestedBy(domain.RequesterUser, uuid.NewString()).
		FromUser(uuid.New(), "").
		ToPlatform(domain.PlatformWalletRevenue, "USD").
		Commit()
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestRequest_LegsReturnsCopy(t *testing.T) {
	b, err := New(decimal.NewFromInt(1), "USD", domain.PurposePurchase)
	require.NoError(t, err)

	req, err := b.
		RequestedBy(domain.RequesterUser, uuid.NewString()).
		FromUser(uuid.New(), domain.AccountWithdrawable).
		ToPlatform(domain.PlatformWalletRevenue, "USD").
		Commit()
	require.NoError(t, err)

	legs := req.Legs()
	legs[0].Account = "tampered"
	assert.Equal(t, domain.AccountWithdrawable, req.Legs()[0].Account)
}
