package domain

// BaseCurrency is the normalization currency used for the zero-sum invariant.
// Its rate is fixed at 1 and can never be adjusted.
const BaseCurrency = "USD"

// Platform wallet names seeded by migration 0001.
const (
	PlatformWalletPrize   = "prize"
	PlatformWalletRevenue = "revenue"
	PlatformWalletJackpot = "jackpot"
)

// Wallet types.
const (
	WalletTypePlatform = "platform"
	WalletTypeUser     = "user"
)

// Wallet flow policies.
const (
	FlowInbound  = "inbound"
	FlowOutbound = "outbound"
	FlowAll      = "all"
)

// User account names. A user wallet carries one sub-ledger per semantic
// account type; platform wallet accounts are named by their currency code.
const (
	AccountWithdrawable = "withdrawable"
	AccountDeposited    = "deposited"
	AccountBonus        = "bonus"
	AccountDiamonds     = "diamonds"
)

// DiamondCurrency is the synthetic currency backing diamond accounts.
// It participates in conversion through a regular currency rate.
const DiamondCurrency = "DIA"

// Entry purposes.
const (
	PurposeDeposit       = "deposit"
	PurposePurchase      = "purchase"
	PurposePayout        = "payout"
	PurposeJackpotPayout = "jackpot_payout"
	PurposeRefund        = "refund"
	PurposeReferralBonus = "referral_bonus"
	PurposeUpgrade       = "upgrade"
)

// Requester types.
const (
	RequesterUser   = "user"
	RequesterAdmin  = "admin"
	RequesterSystem = "system"
	RequesterGame   = "game"
)

// ObservableAccounts lists the user account types whose balance changes are
// pushed out as notifications and mirrored into the read cache.
var ObservableAccounts = map[string]struct{}{
	AccountWithdrawable: {},
	AccountBonus:        {},
	AccountDiamonds:     {},
}

// IsObservableAccount reports whether balance changes on the named user
// account are externally visible.
func IsObservableAccount(name string) bool {
	_, ok := ObservableAccounts[name]
	return ok
}
