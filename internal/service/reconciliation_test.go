package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucky7games/ledger/internal/repository"
)

type fakeAuditor struct {
	unbalanced []repository.EntryImbalance
	drifting   []repository.AccountDrift
}

func (f *fakeAuditor) ListUnbalancedEntries(context.Context) ([]repository.EntryImbalance, error) {
	return f.unbalanced, nil
}

func (f *fakeAuditor) ListDriftingAccounts(context.Context) ([]repository.AccountDrift, error) {
	return f.drifting, nil
}

func TestReconciliation_Clean(t *testing.T) {
	svc := NewReconciliationService(&fakeAuditor{})

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestReconciliation_ReportsViolations(t *testing.T) {
	auditor := &fakeAuditor{
		unbalanced: []repository.EntryImbalance{
			{EntryID: uuid.New(), Net: decimal.RequireFromString("0.01")},
		},
		drifting: []repository.AccountDrift{
			{AccountID: uuid.New(), Balance: decimal.NewFromInt(100), Posted: decimal.NewFromInt(90)},
		},
	}
	svc := NewReconciliationService(auditor)

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Clean())
	assert.Len(t, report.UnbalancedEntries, 1)
	assert.Len(t, report.DriftingAccounts, 1)
}
