package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lucky7games/ledger/internal/domain"
	"github.com/lucky7games/ledger/internal/models"
)

// BalanceDelta is the aggregated change to one account produced by all legs
// of a single entry touching it.
type BalanceDelta struct {
	AccountID  uuid.UUID
	Amount     decimal.Decimal
	AmountRaw  decimal.Decimal
	BaseAmount decimal.Decimal
}

// PostEntryParams carries everything needed to persist one wallet entry
// atomically: the entry, its legs, the per-account deltas, and the funding
// account whose balance floor must hold under lock.
type PostEntryParams struct {
	Entry        models.WalletEntry
	Transactions []models.WalletTransaction
	Deltas       []BalanceDelta
	// GuardAccountID identifies the funding (first-leg) account. When set,
	// the account row is locked and the projected balance is re-checked
	// before any write; uuid.Nil disables the guard.
	GuardAccountID uuid.UUID
}

// FindEntryByExternalRef looks up an entry by its idempotency reference.
func (q *Queries) FindEntryByExternalRef(ctx context.Context, ref string) (*models.WalletEntry, error) {
	e := &models.WalletEntry{}
	err := q.db.QueryRow(ctx,
		`SELECT id, purpose, requester_type, requester_id, memo, external_ref, linked_entry_id, created_at
		 FROM wallet_entries WHERE external_ref = $1`,
		ref,
	).Scan(&e.ID, &e.Purpose, &e.RequesterType, &e.RequesterID, &e.Memo, &e.ExternalRef, &e.LinkedEntryID, &e.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NotFoundf("no entry with external ref %q", ref)
		}
		return nil, fmt.Errorf("find entry by external ref: %w", err)
	}
	return e, nil
}

// FindEntryByExternalRef looks up an entry by its idempotency reference
// outside any transaction.
func (s *Store) FindEntryByExternalRef(ctx context.Context, ref string) (*models.WalletEntry, error) {
	return s.queries.FindEntryByExternalRef(ctx, ref)
}

// GetEntry loads an entry together with its transactions.
func (q *Queries) GetEntry(ctx context.Context, id uuid.UUID) (*models.WalletEntry, error) {
	e := &models.WalletEntry{}
	err := q.db.QueryRow(ctx,
		`SELECT id, purpose, requester_type, requester_id, memo, external_ref, linked_entry_id, created_at
		 FROM wallet_entries WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Purpose, &e.RequesterType, &e.RequesterID, &e.Memo, &e.ExternalRef, &e.LinkedEntryID, &e.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NotFoundf("entry %s not found", id)
		}
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}

	rows, err := q.db.Query(ctx,
		`SELECT `+transactionColumns+` FROM wallet_transactions WHERE entry_id = $1 ORDER BY created_at, id`,
		id)
	if err != nil {
		return nil, fmt.Errorf("list entry transactions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry transaction: %w", err)
		}
		e.Transactions = append(e.Transactions, *t)
	}
	return e, rows.Err()
}

// PostEntry persists one entry, its transactions and the resulting balance
// changes in a single transaction, retried on transient conflicts. The
// balance update is one aggregate statement over all affected accounts, so
// entries touching disjoint accounts do not serialize against each other.
func (s *Store) PostEntry(ctx context.Context, params PostEntryParams) (*models.WalletEntry, error) {
	entry := params.Entry
	err := s.RunInTxRetry(ctx, func(q *Queries) error {
		if params.GuardAccountID != uuid.Nil {
			if err := q.guardBalanceFloor(ctx, params.GuardAccountID, params.Deltas); err != nil {
				return err
			}
		}

		if err := q.insertEntry(ctx, &entry); err != nil {
			return err
		}
		entry.Transactions = entry.Transactions[:0]
		for i := range params.Transactions {
			t := params.Transactions[i]
			t.EntryID = entry.ID
			if err := q.insertTransaction(ctx, &t); err != nil {
				return err
			}
			entry.Transactions = append(entry.Transactions, t)
		}

		return q.applyBalanceDeltas(ctx, params.Deltas)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// guardBalanceFloor locks the funding account and verifies the projected
// balance stays non-negative unless the account allows it.
func (q *Queries) guardBalanceFloor(ctx context.Context, accountID uuid.UUID, deltas []BalanceDelta) error {
	var (
		balance       decimal.Decimal
		allowNegative bool
	)
	err := q.db.QueryRow(ctx,
		`SELECT balance, allow_negative FROM wallet_accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&balance, &allowNegative)
	if err != nil {
		if isNoRows(err) {
			return domain.NotFoundf("account %s not found", accountID)
		}
		return fmt.Errorf("lock funding account %s: %w", accountID, err)
	}
	if allowNegative {
		return nil
	}

	delta := decimal.Zero
	for _, d := range deltas {
		if d.AccountID == accountID {
			delta = delta.Add(d.Amount)
		}
	}
	if balance.Add(delta).IsNegative() {
		return domain.InsufficientFundsf("account %s balance %s cannot cover %s",
			accountID, balance, delta.Neg())
	}
	return nil
}

func (q *Queries) insertEntry(ctx context.Context, e *models.WalletEntry) error {
	err := q.db.QueryRow(ctx,
		`INSERT INTO wallet_entries (id, purpose, requester_type, requester_id, memo, external_ref, linked_entry_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`,
		e.ID, e.Purpose, e.RequesterType, e.RequesterID, e.Memo, e.ExternalRef, e.LinkedEntryID,
	).Scan(&e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && e.ExternalRef != nil {
			return domain.Conflictf("entry with external ref %q already exists", *e.ExternalRef)
		}
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (q *Queries) insertTransaction(ctx context.Context, t *models.WalletTransaction) error {
	err := q.db.QueryRow(ctx,
		`INSERT INTO wallet_transactions
		 (id, entry_id, wallet_id, account_id, amount, amount_raw, currency_code, exchange_rate, base_amount, purpose, requester_type, requester_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING created_at`,
		t.ID, t.EntryID, t.WalletID, t.AccountID, t.Amount, t.AmountRaw, t.CurrencyCode,
		t.ExchangeRate, t.BaseAmount, t.Purpose, t.RequesterType, t.RequesterID,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// applyBalanceDeltas increments all affected account balances in one
// statement keyed by account id.
func (q *Queries) applyBalanceDeltas(ctx context.Context, deltas []BalanceDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(deltas))
	amounts := make([]decimal.Decimal, len(deltas))
	raws := make([]decimal.Decimal, len(deltas))
	bases := make([]decimal.Decimal, len(deltas))
	for i, d := range deltas {
		ids[i] = d.AccountID
		amounts[i] = d.Amount
		raws[i] = d.AmountRaw
		bases[i] = d.BaseAmount
	}

	tag, err := q.db.Exec(ctx,
		`UPDATE wallet_accounts AS a SET
			balance      = a.balance + v.amount,
			balance_raw  = a.balance_raw + v.amount_raw,
			base_balance = a.base_balance + v.base_amount
		 FROM (
			SELECT unnest($1::uuid[])    AS id,
			       unnest($2::numeric[]) AS amount,
			       unnest($3::numeric[]) AS amount_raw,
			       unnest($4::numeric[]) AS base_amount
		 ) v
		 WHERE a.id = v.id`,
		ids, amounts, raws, bases)
	if err != nil {
		return fmt.Errorf("apply balance deltas: %w", err)
	}
	if tag.RowsAffected() != int64(len(deltas)) {
		return domain.Internalf("balance update affected %d of %d accounts", tag.RowsAffected(), len(deltas))
	}
	return nil
}

// EntryImbalance reports an entry whose base amounts do not sum to zero.
type EntryImbalance struct {
	EntryID uuid.UUID
	Net     decimal.Decimal
}

// ListUnbalancedEntries returns entries violating the zero-sum invariant.
func (q *Queries) ListUnbalancedEntries(ctx context.Context) ([]EntryImbalance, error) {
	rows, err := q.db.Query(ctx,
		`SELECT entry_id, SUM(base_amount) AS net
		 FROM wallet_transactions GROUP BY entry_id HAVING SUM(base_amount) <> 0`)
	if err != nil {
		return nil, fmt.Errorf("list unbalanced entries: %w", err)
	}
	defer rows.Close()

	var out []EntryImbalance
	for rows.Next() {
		var im EntryImbalance
		if err := rows.Scan(&im.EntryID, &im.Net); err != nil {
			return nil, fmt.Errorf("scan entry imbalance: %w", err)
		}
		out = append(out, im)
	}
	return out, rows.Err()
}

// AccountDrift reports an account whose materialized balance disagrees with
// the sum of its posted transactions.
type AccountDrift struct {
	AccountID uuid.UUID
	Balance   decimal.Decimal
	Posted    decimal.Decimal
}

// ListDriftingAccounts returns accounts whose balance has drifted from the
// transaction log.
func (q *Queries) ListDriftingAccounts(ctx context.Context) ([]AccountDrift, error) {
	rows, err := q.db.Query(ctx,
		`SELECT a.id, a.balance, COALESCE(SUM(t.amount), 0) AS posted
		 FROM wallet_accounts a
		 LEFT JOIN wallet_transactions t ON t.account_id = a.id
		 GROUP BY a.id, a.balance
		 HAVING a.balance <> COALESCE(SUM(t.amount), 0)`)
	if err != nil {
		return nil, fmt.Errorf("list drifting accounts: %w", err)
	}
	defer rows.Close()

	var out []AccountDrift
	for rows.Next() {
		var d AccountDrift
		if err := rows.Scan(&d.AccountID, &d.Balance, &d.Posted); err != nil {
			return nil, fmt.Errorf("scan account drift: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
