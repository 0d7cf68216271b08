package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is a balance container, either platform-owned (identified by a fixed
// name) or user-owned (identified by the user id). Exactly one wallet exists
// per (type, name) or (type, user_id).
type Wallet struct {
	ID        uuid.UUID  `json:"id"`
	Type      string     `json:"type"` // "platform" or "user"
	Name      string     `json:"name,omitempty"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	Flow      string     `json:"flow"` // "inbound", "outbound" or "all"
	CreatedAt time.Time  `json:"created_at"`
}

// WalletAccount is a per-currency sub-ledger of a wallet. Name is the account
// selector: the currency code for platform wallets, a semantic account type
// (withdrawable, diamonds, ...) for user wallets. Balance is authoritative and
// mutated only by the transfer processor, inside the same transaction as the
// wallet transactions that justify the change.
type WalletAccount struct {
	ID            uuid.UUID       `json:"id"`
	WalletID      uuid.UUID       `json:"wallet_id"`
	Name          string          `json:"name"`
	CurrencyCode  string          `json:"currency_code"`
	Balance       decimal.Decimal `json:"balance"`
	BalanceRaw    decimal.Decimal `json:"balance_raw"`
	BaseBalance   decimal.Decimal `json:"base_balance"`
	AllowNegative bool            `json:"allow_negative"`
	CreatedAt     time.Time       `json:"created_at"`
}

// WalletEntry is one logical transfer owning 2..N transactions. Entries and
// their transactions are immutable once created; corrections are new entries
// referencing the original via LinkedEntryID.
type WalletEntry struct {
	ID            uuid.UUID           `json:"id"`
	Purpose       string              `json:"purpose"`
	RequesterType string              `json:"requester_type"`
	RequesterID   string              `json:"requester_id"`
	Memo          *string             `json:"memo,omitempty"`
	ExternalRef   *string             `json:"external_ref,omitempty"`
	LinkedEntryID *uuid.UUID          `json:"linked_entry_id,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	Transactions  []WalletTransaction `json:"transactions,omitempty"`
}

// WalletTransaction is one signed leg of an entry, in the account's own
// currency. Negative = debit, positive = credit. BaseAmount carries the same
// sign in the normalization currency.
type WalletTransaction struct {
	ID            uuid.UUID       `json:"id"`
	EntryID       uuid.UUID       `json:"entry_id"`
	WalletID      uuid.UUID       `json:"wallet_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	AmountRaw     decimal.Decimal `json:"amount_raw"`
	CurrencyCode  string          `json:"currency_code"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	Purpose       string          `json:"purpose"`
	RequesterType string          `json:"requester_type"`
	RequesterID   string          `json:"requester_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CurrencyRate is the number of currency units per 1 unit of the base
// currency at the time it was recorded.
type CurrencyRate struct {
	CurrencyCode string          `json:"currency_code"`
	Rate         decimal.Decimal `json:"rate"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
