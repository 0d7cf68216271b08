package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucky7games/ledger/internal/cache"
	"github.com/lucky7games/ledger/internal/domain"
	"github.com/lucky7games/ledger/internal/models"
)

type fakeRateRepo struct {
	rates     map[string]decimal.Decimal
	listCalls int
}

func newFakeRateRepo(rates map[string]string) *fakeRateRepo {
	parsed := make(map[string]decimal.Decimal, len(rates))
	for code, rate := range rates {
		parsed[code] = decimal.RequireFromString(rate)
	}
	return &fakeRateRepo{rates: parsed}
}

func (f *fakeRateRepo) GetRate(_ context.Context, code string) (*models.CurrencyRate, error) {
	rate, ok := f.rates[code]
	if !ok {
		return nil, domain.NotFoundf("no rate recorded for currency %q", code)
	}
	return &models.CurrencyRate{CurrencyCode: code, Rate: rate}, nil
}

func (f *fakeRateRepo) ListRates(context.Context) ([]models.CurrencyRate, error) {
	f.listCalls++
	out := make([]models.CurrencyRate, 0, len(f.rates))
	for code, rate := range f.rates {
		out = append(out, models.CurrencyRate{CurrencyCode: code, Rate: rate, UpdatedAt: time.Now()})
	}
	return out, nil
}

func (f *fakeRateRepo) UpsertRate(_ context.Context, code string, rate decimal.Decimal) (*models.CurrencyRate, error) {
	f.rates[code] = rate
	return &models.CurrencyRate{CurrencyCode: code, Rate: rate, UpdatedAt: time.Now()}, nil
}

func newRateService(rates map[string]string) (*RateService, *fakeRateRepo) {
	repo := newFakeRateRepo(rates)
	return NewRateService(repo, cache.NewMemory(16)), repo
}

func TestRateService_GetRate_BaseShortCircuits(t *testing.T) {
	svc, repo := newRateService(nil)

	rate, err := svc.GetRate(context.Background(), "usd")
	require.NoError(t, err)
	assert.True(t, rate.Rate.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 0, repo.listCalls)
}

func TestRateService_GetRate_Missing(t *testing.T) {
	svc, _ := newRateService(map[string]string{"EUR": "0.9"})

	_, err := svc.GetRate(context.Background(), "GBP")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestRateService_GetRates_Cached(t *testing.T) {
	svc, repo := newRateService(map[string]string{"EUR": "0.9", "JPY": "150"})
	ctx := context.Background()

	first, err := svc.GetRates(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	_, err = svc.GetRates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls)
}

func TestRateService_SetRate(t *testing.T) {
	svc, repo := newRateService(map[string]string{"EUR": "0.9"})
	ctx := context.Background()

	_, err := svc.SetRate(ctx, "USD", decimal.NewFromInt(2))
	assert.True(t, domain.IsKind(err, domain.KindForbidden))

	_, err = svc.SetRate(ctx, "EUR", decimal.Zero)
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	updated, err := svc.SetRate(ctx, "eur", decimal.RequireFromString("0.95"))
	require.NoError(t, err)
	assert.Equal(t, "EUR", updated.CurrencyCode)
	assert.True(t, repo.rates["EUR"].Equal(decimal.RequireFromString("0.95")))

	// The cache was refreshed by the write, so reads serve the new table.
	rate, err := svc.GetRate(ctx, "EUR")
	require.NoError(t, err)
	assert.True(t, rate.Rate.Equal(decimal.RequireFromString("0.95")))
}

func TestRateService_Convert_ThroughBase(t *testing.T) {
	svc, _ := newRateService(map[string]string{"EUR": "0.9", "JPY": "150"})
	ctx := context.Background()

	// 10 USD at 0.9 EUR per USD.
	got, err := svc.Convert(ctx, decimal.NewFromInt(10), "USD", "EUR")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("9")), "got %s", got)

	// 9 EUR back through the base into JPY: 9 / 0.9 * 150 = 1500.
	got, err = svc.Convert(ctx, decimal.NewFromInt(9), "EUR", "JPY")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(1500)), "got %s", got)
}

func TestRateService_Convert_RoundTripWithinMinorUnit(t *testing.T) {
	svc, _ := newRateService(map[string]string{"EUR": "0.913", "JPY": "149.57"})
	ctx := context.Background()
	amount := decimal.RequireFromString("123.45")

	// Out and back on one rate snapshot, rounding at each hop, must land
	// within one minor unit of the original.
	for _, code := range []string{"EUR", "JPY"} {
		out, err := svc.Convert(ctx, amount, "USD", code)
		require.NoError(t, err)
		out = out.Round(domain.MinorUnits(code))

		back, err := svc.Convert(ctx, out, code, "USD")
		require.NoError(t, err)
		back = back.Round(domain.MinorUnits("USD"))

		diff := back.Sub(amount).Abs()
		assert.True(t, diff.LessThanOrEqual(decimal.RequireFromString("0.01")),
			"%s round trip drifted by %s", code, diff)
	}
}

func TestRateService_Convert_Identity(t *testing.T) {
	svc, repo := newRateService(nil)

	amount := decimal.RequireFromString("12.34")
	got, err := svc.Convert(context.Background(), amount, "GBP", "GBP")
	require.NoError(t, err)
	assert.True(t, got.Equal(amount))
	assert.Equal(t, 0, repo.listCalls)
}

func TestRateService_Convert_MissingRate(t *testing.T) {
	svc, _ := newRateService(map[string]string{"EUR": "0.9"})

	_, err := svc.Convert(context.Background(), decimal.NewFromInt(1), "EUR", "GBP")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}
