package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucky7games/ledger/internal/cache"
	"github.com/lucky7games/ledger/internal/domain"
	"github.com/lucky7games/ledger/internal/models"
)

// WalletRepository is the persistence contract consumed by the wallet service.
type WalletRepository interface {
	CreateWallet(ctx context.Context, w *models.Wallet) error
	CreateWalletWithAccounts(ctx context.Context, w *models.Wallet, accounts []*models.WalletAccount) error
	GetPlatformWallet(ctx context.Context, name string) (*models.Wallet, error)
	GetUserWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	CreateAccount(ctx context.Context, a *models.WalletAccount) error
	GetAccount(ctx context.Context, walletID uuid.UUID, name string) (*models.WalletAccount, error)
	ListAccounts(ctx context.Context, walletID uuid.UUID) ([]models.WalletAccount, error)
	ListAccountTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int32) ([]models.WalletTransaction, error)
}

// DefaultWalletCacheTTL bounds how stale a cached wallet identity may be.
// Wallet identity rarely changes; balances are never served from this cache.
const DefaultWalletCacheTTL = 24 * time.Hour

// WalletService resolves wallets and their accounts, cache-first for wallet
// identity, always live for account balances.
type WalletService struct {
	repo      WalletRepository
	cache     cache.Cache
	walletTTL time.Duration
}

func NewWalletService(repo WalletRepository, c cache.Cache, walletTTL time.Duration) *WalletService {
	if walletTTL <= 0 {
		walletTTL = DefaultWalletCacheTTL
	}
	return &WalletService{repo: repo, cache: c, walletTTL: walletTTL}
}

// GetPlatformWallet resolves a platform wallet by name, cache-first.
func (s *WalletService) GetPlatformWallet(ctx context.Context, name string) (*models.Wallet, error) {
	key := "wallet:platform:" + name
	if w := s.cachedWallet(ctx, key); w != nil {
		return w, nil
	}
	w, err := s.repo.GetPlatformWallet(ctx, name)
	if err != nil {
		return nil, err
	}
	s.cacheWallet(ctx, key, w)
	return w, nil
}

// GetUserWallet resolves a user wallet by user id, cache-first.
func (s *WalletService) GetUserWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	key := "wallet:user:" + userID.String()
	if w := s.cachedWallet(ctx, key); w != nil {
		return w, nil
	}
	w, err := s.repo.GetUserWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheWallet(ctx, key, w)
	return w, nil
}

// GetAccount resolves an account of a wallet by its selector: the currency
// code for platform wallets, the semantic account type for user wallets.
// Balances always come from the live store.
func (s *WalletService) GetAccount(ctx context.Context, w *models.Wallet, name string) (*models.WalletAccount, error) {
	account, err := s.repo.GetAccount(ctx, w.ID, name)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return nil, domain.NotFoundf("account %q not found on %s wallet %q", name, w.Type, walletDescriptor(w))
		}
		return nil, err
	}
	return account, nil
}

// AddForUser creates a user wallet with the standard account set. Wallet and
// accounts are persisted atomically so a failed provisioning leaves nothing
// behind and can simply be retried.
func (s *WalletService) AddForUser(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	w := &models.Wallet{
		ID:     uuid.New(),
		Type:   domain.WalletTypeUser,
		UserID: &userID,
		Flow:   domain.FlowAll,
	}

	defaults := []struct {
		name     string
		currency string
	}{
		{domain.AccountWithdrawable, domain.BaseCurrency},
		{domain.AccountDeposited, domain.BaseCurrency},
		{domain.AccountBonus, domain.BaseCurrency},
		{domain.AccountDiamonds, domain.DiamondCurrency},
	}
	accounts := make([]*models.WalletAccount, 0, len(defaults))
	for _, d := range defaults {
		accounts = append(accounts, &models.WalletAccount{
			ID:           uuid.New(),
			WalletID:     w.ID,
			Name:         d.name,
			CurrencyCode: d.currency,
			Balance:      decimal.Zero,
			BalanceRaw:   decimal.Zero,
			BaseBalance:  decimal.Zero,
		})
	}
	if err := s.repo.CreateWalletWithAccounts(ctx, w, accounts); err != nil {
		return nil, fmt.Errorf("provision user wallet: %w", err)
	}
	return w, nil
}

// AddForPlatform creates a platform wallet. Flow defaults to "all".
func (s *WalletService) AddForPlatform(ctx context.Context, name, flow string) (*models.Wallet, error) {
	if name == "" {
		return nil, domain.Validationf("platform wallet name is required")
	}
	if flow == "" {
		flow = domain.FlowAll
	}
	switch flow {
	case domain.FlowInbound, domain.FlowOutbound, domain.FlowAll:
	default:
		return nil, domain.Validationf("unknown wallet flow %q", flow)
	}

	w := &models.Wallet{
		ID:   uuid.New(),
		Type: domain.WalletTypePlatform,
		Name: name,
		Flow: flow,
	}
	if err := s.repo.CreateWallet(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// AddPlatformAccount provisions a per-currency account on a platform wallet.
// Platform accounts may run negative: they represent liquidity positions.
func (s *WalletService) AddPlatformAccount(ctx context.Context, walletName, currency string) (*models.WalletAccount, error) {
	w, err := s.GetPlatformWallet(ctx, walletName)
	if err != nil {
		return nil, err
	}
	account := &models.WalletAccount{
		ID:            uuid.New(),
		WalletID:      w.ID,
		Name:          currency,
		CurrencyCode:  currency,
		Balance:       decimal.Zero,
		BalanceRaw:    decimal.Zero,
		BaseBalance:   decimal.Zero,
		AllowNegative: true,
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// ObservableBalances returns the externally visible account balances of a
// user wallet, read live from the store.
func (s *WalletService) ObservableBalances(ctx context.Context, userID uuid.UUID) (map[string]decimal.Decimal, error) {
	w, err := s.GetUserWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	accounts, err := s.repo.ListAccounts(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal)
	for _, a := range accounts {
		if domain.IsObservableAccount(a.Name) {
			out[a.Name] = a.Balance
		}
	}
	return out, nil
}

// Statement lists the posted transactions of one user account, newest first.
func (s *WalletService) Statement(ctx context.Context, userID uuid.UUID, account string, limit, offset int32) ([]models.WalletTransaction, error) {
	w, err := s.GetUserWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	a, err := s.GetAccount(ctx, w, account)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListAccountTransactions(ctx, a.ID, limit, offset)
}

// CacheObservableBalance mirrors a just-committed balance into the read
// cache for observable user accounts.
func (s *WalletService) CacheObservableBalance(ctx context.Context, userID uuid.UUID, account string, balance decimal.Decimal) error {
	key := fmt.Sprintf("balance:user:%s:%s", userID, account)
	return s.cache.Set(ctx, key, []byte(balance.String()), s.walletTTL)
}

func (s *WalletService) cachedWallet(ctx context.Context, key string) *models.Wallet {
	payload, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		zap.L().Warn("wallet cache read failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	w := &models.Wallet{}
	if err := json.Unmarshal(payload, w); err != nil {
		zap.L().Warn("wallet cache payload corrupt", zap.String("key", key), zap.Error(err))
		return nil
	}
	return w
}

func (s *WalletService) cacheWallet(ctx context.Context, key string, w *models.Wallet) {
	payload, err := json.Marshal(w)
	if err != nil {
		zap.L().Warn("marshal wallet for cache", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.walletTTL); err != nil {
		zap.L().Warn("wallet cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func walletDescriptor(w *models.Wallet) string {
	if w.Type == domain.WalletTypeUser && w.UserID != nil {
		return w.UserID.String()
	}
	return w.Name
}
