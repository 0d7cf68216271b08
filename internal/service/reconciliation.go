package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/lucky7games/ledger/internal/observability"
	"github.com/lucky7games/ledger/internal/repository"
)

// LedgerAuditor is the persistence contract for integrity sweeps.
type LedgerAuditor interface {
	ListUnbalancedEntries(ctx context.Context) ([]repository.EntryImbalance, error)
	ListDriftingAccounts(ctx context.Context) ([]repository.AccountDrift, error)
}

// ReconciliationReport is the outcome of one integrity sweep.
type ReconciliationReport struct {
	UnbalancedEntries []repository.EntryImbalance
	DriftingAccounts  []repository.AccountDrift
}

// Clean reports whether both invariants held.
func (r ReconciliationReport) Clean() bool {
	return len(r.UnbalancedEntries) == 0 && len(r.DriftingAccounts) == 0
}

// ReconciliationService verifies ledger integrity: every entry sums to zero
// in the base currency, and every account balance equals the sum of its
// posted transactions.
type ReconciliationService struct {
	repo LedgerAuditor
}

func NewReconciliationService(repo LedgerAuditor) *ReconciliationService {
	return &ReconciliationService{repo: repo}
}

// Run executes one sweep. Violations are logged and counted but do not fail
// the run; callers get the full report.
func (s *ReconciliationService) Run(ctx context.Context) (ReconciliationReport, error) {
	var report ReconciliationReport

	unbalanced, err := s.repo.ListUnbalancedEntries(ctx)
	if err != nil {
		return report, err
	}
	report.UnbalancedEntries = unbalanced
	for _, im := range unbalanced {
		observability.IncrementLedgerImbalance("zero_sum")
		zap.L().Error("entry violates zero-sum invariant",
			zap.String("entry_id", im.EntryID.String()),
			zap.String("net", im.Net.String()),
		)
	}

	drifting, err := s.repo.ListDriftingAccounts(ctx)
	if err != nil {
		return report, err
	}
	report.DriftingAccounts = drifting
	for _, d := range drifting {
		observability.IncrementLedgerImbalance("balance_drift")
		zap.L().Error("account balance drifted from transaction log",
			zap.String("account_id", d.AccountID.String()),
			zap.String("balance", d.Balance.String()),
			zap.String("posted", d.Posted.String()),
		)
	}

	if report.Clean() {
		zap.L().Info("ledger reconciliation clean")
	}
	return report, nil
}
