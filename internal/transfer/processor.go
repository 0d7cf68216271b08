package transfer

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucky7games/ledger/internal/domain"
	"github.com/lucky7games/ledger/internal/models"
	"github.com/lucky7games/ledger/internal/notify"
	"github.com/lucky7games/ledger/internal/observability"
	"github.com/lucky7games/ledger/internal/repository"
)

// WalletResolver resolves wallets and their accounts and mirrors committed
// balances into the read cache.
type WalletResolver interface {
	GetPlatformWallet(ctx context.Context, name string) (*models.Wallet, error)
	GetUserWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	GetAccount(ctx context.Context, w *models.Wallet, name string) (*models.WalletAccount, error)
	CacheObservableBalance(ctx context.Context, userID uuid.UUID, account string, balance decimal.Decimal) error
}

// RateConverter supplies exchange rates and base-routed conversion.
type RateConverter interface {
	GetRate(ctx context.Context, code string) (*models.CurrencyRate, error)
	Convert(ctx context.Context, amount decimal.Decimal, fromCode, toCode string) (decimal.Decimal, error)
}

// LedgerStore persists balanced entries and answers idempotency lookups.
type LedgerStore interface {
	FindEntryByExternalRef(ctx context.Context, ref string) (*models.WalletEntry, error)
	PostEntry(ctx context.Context, params repository.PostEntryParams) (*models.WalletEntry, error)
}

// Processor turns committed transfer requests into balanced wallet entries.
type Processor struct {
	wallets  WalletResolver
	rates    RateConverter
	ledger   LedgerStore
	notifier notify.Notifier
}

func NewProcessor(wallets WalletResolver, rates RateConverter, ledger LedgerStore, notifier notify.Notifier) *Processor {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Processor{wallets: wallets, rates: rates, ledger: ledger, notifier: notifier}
}

// resolvedLeg pairs a descriptor with the wallet and account it targets.
type resolvedLeg struct {
	desc    LegDescriptor
	wallet  *models.Wallet
	account *models.WalletAccount
}

// Process validates, resolves and posts a transfer request, returning the
// persisted entry with all transactions. Every amount is derived from the
// requested amount before any leg is written, so the entry balances to zero
// in the base currency by construction; a defensive check still guards the
// arithmetic. The database write is a single transaction retried on
// serialization conflicts.
func (p *Processor) Process(ctx context.Context, req *Request) (*models.WalletEntry, error) {
	entry, err := p.process(ctx, req)
	outcome := "success"
	if err != nil {
		outcome = string(domain.KindOf(err))
	}
	purpose := ""
	if req != nil {
		purpose = req.Purpose
	}
	observability.IncrementTransfer(purpose, outcome)
	return entry, err
}

func (p *Processor) process(ctx context.Context, req *Request) (*models.WalletEntry, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if req.ExternalRef != "" {
		existing, err := p.ledger.FindEntryByExternalRef(ctx, req.ExternalRef)
		if err != nil && !domain.IsKind(err, domain.KindNotFound) {
			return nil, err
		}
		if existing != nil {
			return nil, domain.Conflictf("transfer with external ref %q already processed as entry %s",
				req.ExternalRef, existing.ID)
		}
	}

	// One conversion to the base currency up front. Every leg carries a
	// signed copy of this figure, which is what makes the entry zero-sum.
	baseRaw, err := p.rates.Convert(ctx, req.Amount, req.CurrencyCode, domain.BaseCurrency)
	if err != nil {
		return nil, err
	}
	baseAmount := domain.NewMoney(baseRaw, domain.BaseCurrency).Rounded()

	legs, err := p.resolveLegs(ctx, req.Legs())
	if err != nil {
		return nil, err
	}

	txs, err := p.buildTransactions(ctx, req, legs, baseAmount)
	if err != nil {
		return nil, err
	}

	net := decimal.Zero
	for _, t := range txs {
		net = net.Add(t.BaseAmount)
	}
	if !net.IsZero() {
		observability.IncrementLedgerImbalance("processor")
		zap.L().Error("transfer legs do not balance",
			zap.String("purpose", req.Purpose),
			zap.String("amount", req.Amount.String()),
			zap.String("currency", req.CurrencyCode),
			zap.String("net", net.String()),
		)
		return nil, domain.Internalf("transfer legs sum to %s in %s, want zero", net, domain.BaseCurrency)
	}

	deltas := aggregateDeltas(txs)

	guard := uuid.Nil
	if first := legs[0]; first.desc.Type == Debit && !first.account.AllowNegative {
		guard = first.account.ID
	}

	entry := models.WalletEntry{
		ID:            uuid.New(),
		Purpose:       req.Purpose,
		RequesterType: req.RequesterType,
		RequesterID:   req.RequesterID,
	}
	if req.Memo != "" {
		memo := req.Memo
		entry.Memo = &memo
	}
	if req.ExternalRef != "" {
		ref := req.ExternalRef
		entry.ExternalRef = &ref
	}
	if req.LinkedEntryID != uuid.Nil {
		linked := req.LinkedEntryID
		entry.LinkedEntryID = &linked
	}

	posted, err := p.ledger.PostEntry(ctx, repository.PostEntryParams{
		Entry:          entry,
		Transactions:   txs,
		Deltas:         deltas,
		GuardAccountID: guard,
	})
	if err != nil {
		return nil, err
	}

	p.publishBalances(ctx, legs, deltas)
	return posted, nil
}

func validateRequest(req *Request) error {
	if req == nil {
		return domain.Validationf("transfer request is required")
	}
	if req.CurrencyCode == "" || req.Purpose == "" {
		return domain.Validationf("transfer currency and purpose are required")
	}
	if value := domain.NewMoney(req.Amount, req.CurrencyCode); !value.IsPositive() {
		return domain.Validationf("transfer amount must be positive, got %s", value)
	}
	if req.RequesterType == "" || req.RequesterID == "" {
		return domain.Validationf("transfer requester is required")
	}
	var debits, credits int
	for _, d := range req.Legs() {
		if d.Type == Debit {
			debits++
		} else {
			credits++
		}
	}
	if debits == 0 || credits == 0 {
		return domain.Validationf("transfer needs at least one debit and one credit leg")
	}
	return nil
}

// resolveLegs loads each referenced wallet and account exactly once,
// preserving descriptor order.
func (p *Processor) resolveLegs(ctx context.Context, descs []LegDescriptor) ([]resolvedLeg, error) {
	wallets := make(map[string]*models.Wallet)
	accounts := make(map[string]*models.WalletAccount)

	legs := make([]resolvedLeg, 0, len(descs))
	for _, d := range descs {
		wKey := d.Wallet.String()
		w, ok := wallets[wKey]
		if !ok {
			var err error
			if d.Wallet.Type == domain.WalletTypeUser {
				w, err = p.wallets.GetUserWallet(ctx, d.Wallet.UserID)
			} else {
				w, err = p.wallets.GetPlatformWallet(ctx, d.Wallet.Name)
			}
			if err != nil {
				return nil, err
			}
			wallets[wKey] = w
		}

		aKey := wKey + "/" + d.Account
		a, ok := accounts[aKey]
		if !ok {
			var err error
			a, err = p.wallets.GetAccount(ctx, w, d.Account)
			if err != nil {
				return nil, err
			}
			accounts[aKey] = a
		}

		legs = append(legs, resolvedLeg{desc: d, wallet: w, account: a})
	}
	return legs, nil
}

// buildTransactions derives the signed amounts of each leg in order. The
// first leg converts the requested amount into its account currency; every
// later leg converts the magnitude carried over from the leg before it, so
// paired relay legs always match.
func (p *Processor) buildTransactions(ctx context.Context, req *Request, legs []resolvedLeg, baseAmount decimal.Decimal) ([]models.WalletTransaction, error) {
	var (
		prevAbs      decimal.Decimal
		prevCurrency string
	)

	txs := make([]models.WalletTransaction, 0, len(legs))
	for i, leg := range legs {
		if !leg.desc.BypassFlow {
			if leg.desc.Type == Debit && leg.wallet.Flow == domain.FlowInbound {
				return nil, domain.Forbiddenf("wallet %s accepts inbound transfers only", leg.desc.Wallet)
			}
			if leg.desc.Type == Credit && leg.wallet.Flow == domain.FlowOutbound {
				return nil, domain.Forbiddenf("wallet %s issues outbound transfers only", leg.desc.Wallet)
			}
		}

		var (
			raw decimal.Decimal
			err error
		)
		if i == 0 {
			raw, err = p.rates.Convert(ctx, req.Amount, req.CurrencyCode, leg.account.CurrencyCode)
		} else {
			raw, err = p.rates.Convert(ctx, prevAbs, prevCurrency, leg.account.CurrencyCode)
		}
		if err != nil {
			return nil, err
		}
		value := domain.NewMoney(raw, leg.account.CurrencyCode)
		prevAbs = value.Abs().Amount
		prevCurrency = leg.account.CurrencyCode

		rate, err := p.rates.GetRate(ctx, leg.account.CurrencyCode)
		if err != nil {
			return nil, err
		}

		base := baseAmount
		if leg.desc.Type == Debit {
			value = value.Neg()
			base = base.Neg()
		}

		// Fail fast before touching the database; the floor is re-checked
		// under lock when the entry is posted.
		if i == 0 && leg.desc.Type == Debit && !leg.account.AllowNegative {
			debit := value.Abs().Round()
			balance := domain.NewMoney(leg.account.Balance, leg.account.CurrencyCode)
			projected, err := balance.Sub(debit)
			if err != nil {
				return nil, domain.Internalf("project balance for account %q: %v", leg.desc.Account, err)
			}
			if projected.Sign() < 0 {
				return nil, domain.InsufficientFundsf("account %q on wallet %s has %s, needs %s",
					leg.desc.Account, leg.desc.Wallet, balance, debit)
			}
		}

		txs = append(txs, models.WalletTransaction{
			ID:            uuid.New(),
			WalletID:      leg.wallet.ID,
			AccountID:     leg.account.ID,
			Amount:        value.Rounded(),
			AmountRaw:     value.Amount,
			CurrencyCode:  leg.account.CurrencyCode,
			ExchangeRate:  rate.Rate,
			BaseAmount:    base,
			Purpose:       req.Purpose,
			RequesterType: req.RequesterType,
			RequesterID:   req.RequesterID,
		})
	}
	return txs, nil
}

// aggregateDeltas folds per-leg amounts into one delta per account,
// preserving first-touch order.
func aggregateDeltas(txs []models.WalletTransaction) []repository.BalanceDelta {
	index := make(map[uuid.UUID]int)
	deltas := make([]repository.BalanceDelta, 0, len(txs))
	for _, t := range txs {
		i, ok := index[t.AccountID]
		if !ok {
			i = len(deltas)
			index[t.AccountID] = i
			deltas = append(deltas, repository.BalanceDelta{AccountID: t.AccountID})
		}
		deltas[i].Amount = deltas[i].Amount.Add(t.Amount)
		deltas[i].AmountRaw = deltas[i].AmountRaw.Add(t.AmountRaw)
		deltas[i].BaseAmount = deltas[i].BaseAmount.Add(t.BaseAmount)
	}
	return deltas
}

// publishBalances refreshes the observable-balance cache and emits one
// balance-updated event per affected user wallet. Failures here never fail
// the committed transfer.
func (p *Processor) publishBalances(ctx context.Context, legs []resolvedLeg, deltas []repository.BalanceDelta) {
	deltaByAccount := make(map[uuid.UUID]decimal.Decimal, len(deltas))
	for _, d := range deltas {
		deltaByAccount[d.AccountID] = d.Amount
	}

	type userUpdate struct {
		userID   uuid.UUID
		accounts []notify.AccountBalance
	}
	seen := make(map[uuid.UUID]bool)
	var updates []userUpdate

	for _, leg := range legs {
		if leg.wallet.Type != domain.WalletTypeUser || leg.wallet.UserID == nil {
			continue
		}
		if seen[leg.account.ID] || !domain.IsObservableAccount(leg.account.Name) {
			continue
		}
		seen[leg.account.ID] = true

		userID := *leg.wallet.UserID
		current := domain.NewMoney(leg.account.Balance, leg.account.CurrencyCode)
		updated, err := current.Add(domain.NewMoney(deltaByAccount[leg.account.ID], leg.account.CurrencyCode))
		if err != nil {
			zap.L().Warn("balance projection failed",
				zap.String("user_id", userID.String()),
				zap.String("account", leg.account.Name),
				zap.Error(err),
			)
			continue
		}
		balance := updated.Rounded()

		if err := p.wallets.CacheObservableBalance(ctx, userID, leg.account.Name, balance); err != nil {
			zap.L().Warn("balance cache refresh failed",
				zap.String("user_id", userID.String()),
				zap.String("account", leg.account.Name),
				zap.Error(err),
			)
		}

		found := false
		for i := range updates {
			if updates[i].userID == userID {
				updates[i].accounts = append(updates[i].accounts, notify.AccountBalance{
					Account: leg.account.Name, Balance: balance,
				})
				found = true
				break
			}
		}
		if !found {
			updates = append(updates, userUpdate{
				userID: userID,
				accounts: []notify.AccountBalance{
					{Account: leg.account.Name, Balance: balance},
				},
			})
		}
	}

	for _, u := range updates {
		if err := p.notifier.BalanceUpdated(ctx, u.userID, u.accounts); err != nil {
			observability.IncrementNotification("error")
			zap.L().Warn("balance notification failed",
				zap.String("user_id", u.userID.String()),
				zap.Error(err),
			)
			continue
		}
		observability.IncrementNotification("ok")
	}
}
