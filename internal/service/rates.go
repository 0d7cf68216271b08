package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucky7games/ledger/internal/cache"
	"github.com/lucky7games/ledger/internal/domain"
	"github.com/lucky7games/ledger/internal/models"
)

// RateRepository is the persistence contract consumed by the rate service.
type RateRepository interface {
	GetRate(ctx context.Context, code string) (*models.CurrencyRate, error)
	ListRates(ctx context.Context) ([]models.CurrencyRate, error)
	UpsertRate(ctx context.Context, code string, rate decimal.Decimal) (*models.CurrencyRate, error)
}

const ratesCacheKey = "currency:rates"

var one = decimal.NewFromInt(1)

// RateService caches and serves exchange rates relative to the base
// currency. Conversion always routes through the base, so rounding at each
// hop is reproducible from the individually cached rates.
type RateService struct {
	repo  RateRepository
	cache cache.Cache
}

func NewRateService(repo RateRepository, c cache.Cache) *RateService {
	return &RateService{repo: repo, cache: c}
}

// GetRate returns the rate for a currency. The base currency short-circuits
// to 1 without a lookup. A NotFound error means the currency has never had a
// rate recorded.
func (s *RateService) GetRate(ctx context.Context, code string) (*models.CurrencyRate, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == domain.BaseCurrency {
		return &models.CurrencyRate{CurrencyCode: domain.BaseCurrency, Rate: one}, nil
	}

	rates, err := s.GetRates(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rates {
		if rates[i].CurrencyCode == code {
			return &rates[i], nil
		}
	}
	return nil, domain.NotFoundf("no rate recorded for currency %q", code)
}

// GetRates returns the full rate table, cache-backed. A cache miss loads the
// table from the repository and repopulates the cache.
func (s *RateService) GetRates(ctx context.Context) ([]models.CurrencyRate, error) {
	if payload, ok, err := s.cache.Get(ctx, ratesCacheKey); err != nil {
		zap.L().Warn("rate cache read failed", zap.Error(err))
	} else if ok {
		var rates []models.CurrencyRate
		if err := json.Unmarshal(payload, &rates); err == nil {
			return rates, nil
		}
		zap.L().Warn("rate cache payload corrupt, reloading", zap.Error(err))
	}

	rates, err := s.repo.ListRates(ctx)
	if err != nil {
		return nil, err
	}
	s.populateCache(ctx, rates)
	return rates, nil
}

// SetRate records a new rate for a currency, writing through to both the
// repository and the cache. The base currency is immutable.
func (s *RateService) SetRate(ctx context.Context, code string, rate decimal.Decimal) (*models.CurrencyRate, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == domain.BaseCurrency {
		return nil, domain.Forbiddenf("rate for base currency %s cannot be changed", domain.BaseCurrency)
	}
	if code == "" {
		return nil, domain.Validationf("currency code is required")
	}
	if !rate.IsPositive() {
		return nil, domain.Validationf("rate must be positive, got %s", rate)
	}

	updated, err := s.repo.UpsertRate(ctx, code, rate)
	if err != nil {
		return nil, err
	}

	rates, err := s.repo.ListRates(ctx)
	if err != nil {
		// The write succeeded; drop the stale cache entry instead.
		if invErr := s.cache.Invalidate(ctx, ratesCacheKey); invErr != nil {
			zap.L().Warn("rate cache invalidation failed", zap.Error(invErr))
		}
		return updated, nil
	}
	s.populateCache(ctx, rates)
	return updated, nil
}

// Convert translates an amount between currencies through the base currency:
// divide by the source rate to reach the base, multiply by the destination
// rate to leave it. The result is unrounded.
func (s *RateService) Convert(ctx context.Context, amount decimal.Decimal, fromCode, toCode string) (decimal.Decimal, error) {
	fromCode = strings.ToUpper(strings.TrimSpace(fromCode))
	toCode = strings.ToUpper(strings.TrimSpace(toCode))
	if fromCode == toCode {
		return amount, nil
	}

	from, err := s.GetRate(ctx, fromCode)
	if err != nil {
		return decimal.Zero, err
	}
	to, err := s.GetRate(ctx, toCode)
	if err != nil {
		return decimal.Zero, err
	}

	through := domain.NewMoney(amount, fromCode).Div(from.Rate)
	return through.Convert(toCode, to.Rate).Amount, nil
}

func (s *RateService) populateCache(ctx context.Context, rates []models.CurrencyRate) {
	payload, err := json.Marshal(rates)
	if err != nil {
		zap.L().Warn("marshal rate table", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, ratesCacheKey, payload, 0); err != nil {
		zap.L().Warn("rate cache write failed", zap.Error(err))
	}
}
