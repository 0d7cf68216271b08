package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/lucky7games/ledger/internal/domain"
	"github.com/lucky7games/ledger/internal/models"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx so the same query set
// can run inside or outside a transaction. Begin on a pgx.Tx opens a nested
// transaction backed by a savepoint.
type DBTX interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries bundles all SQL access against the ledger schema.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a query set scoped to the given transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const walletColumns = `id, type, name, user_id, flow, created_at`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	w := &models.Wallet{}
	var name *string
	if err := row.Scan(&w.ID, &w.Type, &name, &w.UserID, &w.Flow, &w.CreatedAt); err != nil {
		return nil, err
	}
	if name != nil {
		w.Name = *name
	}
	return w, nil
}

// CreateWallet inserts a wallet row, filling CreatedAt.
func (q *Queries) CreateWallet(ctx context.Context, w *models.Wallet) error {
	var name *string
	if w.Name != "" {
		name = &w.Name
	}
	err := q.db.QueryRow(ctx,
		`INSERT INTO wallets (id, type, name, user_id, flow) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		w.ID, w.Type, name, w.UserID, w.Flow,
	).Scan(&w.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("wallet already exists for key %q", walletKey(w))
		}
		return fmt.Errorf("create wallet: %w", err)
	}
	return nil
}

func walletKey(w *models.Wallet) string {
	if w.Type == domain.WalletTypeUser && w.UserID != nil {
		return w.UserID.String()
	}
	return w.Name
}

// GetPlatformWallet resolves a platform wallet by its fixed name.
func (q *Queries) GetPlatformWallet(ctx context.Context, name string) (*models.Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE type = $1 AND name = $2`,
		domain.WalletTypePlatform, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("platform wallet %q not found", name)
		}
		return nil, fmt.Errorf("get platform wallet %q: %w", name, err)
	}
	return w, nil
}

// GetUserWallet resolves a user wallet by user id.
func (q *Queries) GetUserWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE type = $1 AND user_id = $2`,
		domain.WalletTypeUser, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("user wallet for user %s not found", userID)
		}
		return nil, fmt.Errorf("get user wallet %s: %w", userID, err)
	}
	return w, nil
}

const accountColumns = `id, wallet_id, name, currency_code, balance, balance_raw, base_balance, allow_negative, created_at`

func scanAccount(row pgx.Row) (*models.WalletAccount, error) {
	a := &models.WalletAccount{}
	err := row.Scan(&a.ID, &a.WalletID, &a.Name, &a.CurrencyCode,
		&a.Balance, &a.BalanceRaw, &a.BaseBalance, &a.AllowNegative, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CreateAccount inserts a wallet account row, filling CreatedAt.
func (q *Queries) CreateAccount(ctx context.Context, a *models.WalletAccount) error {
	err := q.db.QueryRow(ctx,
		`INSERT INTO wallet_accounts (id, wallet_id, name, currency_code, balance, balance_raw, base_balance, allow_negative)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`,
		a.ID, a.WalletID, a.Name, a.CurrencyCode, a.Balance, a.BalanceRaw, a.BaseBalance, a.AllowNegative,
	).Scan(&a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("account %q already exists on wallet %s", a.Name, a.WalletID)
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// CreateWalletWithAccounts inserts a wallet and all of its accounts in a
// single transaction, so a failed insert cannot leave a half-provisioned
// wallet behind.
func (q *Queries) CreateWalletWithAccounts(ctx context.Context, w *models.Wallet, accounts []*models.WalletAccount) error {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	qtx := q.WithTx(tx)
	if err := qtx.CreateWallet(ctx, w); err != nil {
		return err
	}
	for _, a := range accounts {
		if err := qtx.CreateAccount(ctx, a); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetAccount resolves an account by wallet id and account name.
func (q *Queries) GetAccount(ctx context.Context, walletID uuid.UUID, name string) (*models.WalletAccount, error) {
	a, err := scanAccount(q.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM wallet_accounts WHERE wallet_id = $1 AND name = $2`,
		walletID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("account %q not found on wallet %s", name, walletID)
		}
		return nil, fmt.Errorf("get account %q on wallet %s: %w", name, walletID, err)
	}
	return a, nil
}

// ListAccounts returns all accounts of a wallet.
func (q *Queries) ListAccounts(ctx context.Context, walletID uuid.UUID) ([]models.WalletAccount, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+accountColumns+` FROM wallet_accounts WHERE wallet_id = $1 ORDER BY name`,
		walletID)
	if err != nil {
		return nil, fmt.Errorf("list accounts for wallet %s: %w", walletID, err)
	}
	defer rows.Close()

	var accounts []models.WalletAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// UpsertRate writes a currency rate, updating updated_at on conflict.
func (q *Queries) UpsertRate(ctx context.Context, code string, rate decimal.Decimal) (*models.CurrencyRate, error) {
	r := &models.CurrencyRate{CurrencyCode: code, Rate: rate}
	err := q.db.QueryRow(ctx,
		`INSERT INTO currency_rates (currency_code, rate)
		 VALUES ($1, $2)
		 ON CONFLICT (currency_code) DO UPDATE SET rate = EXCLUDED.rate, updated_at = NOW()
		 RETURNING created_at, updated_at`,
		code, rate,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert rate %s: %w", code, err)
	}
	return r, nil
}

// GetRate returns the recorded rate for a currency.
func (q *Queries) GetRate(ctx context.Context, code string) (*models.CurrencyRate, error) {
	r := &models.CurrencyRate{}
	err := q.db.QueryRow(ctx,
		`SELECT currency_code, rate, created_at, updated_at FROM currency_rates WHERE currency_code = $1`,
		code,
	).Scan(&r.CurrencyCode, &r.Rate, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("no rate recorded for currency %q", code)
		}
		return nil, fmt.Errorf("get rate %s: %w", code, err)
	}
	return r, nil
}

// ListRates returns the full rate table.
func (q *Queries) ListRates(ctx context.Context) ([]models.CurrencyRate, error) {
	rows, err := q.db.Query(ctx,
		`SELECT currency_code, rate, created_at, updated_at FROM currency_rates ORDER BY currency_code`)
	if err != nil {
		return nil, fmt.Errorf("list rates: %w", err)
	}
	defer rows.Close()

	var rates []models.CurrencyRate
	for rows.Next() {
		var r models.CurrencyRate
		if err := rows.Scan(&r.CurrencyCode, &r.Rate, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

const transactionColumns = `id, entry_id, wallet_id, account_id, amount, amount_raw, currency_code, exchange_rate, base_amount, purpose, requester_type, requester_id, created_at`

func scanTransaction(row pgx.Row) (*models.WalletTransaction, error) {
	t := &models.WalletTransaction{}
	err := row.Scan(&t.ID, &t.EntryID, &t.WalletID, &t.AccountID,
		&t.Amount, &t.AmountRaw, &t.CurrencyCode, &t.ExchangeRate, &t.BaseAmount,
		&t.Purpose, &t.RequesterType, &t.RequesterID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListAccountTransactions returns the statement of an account, newest first.
func (q *Queries) ListAccountTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int32) ([]models.WalletTransaction, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+transactionColumns+` FROM wallet_transactions
		 WHERE account_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
		accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var txs []models.WalletTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
