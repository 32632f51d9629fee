package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pesa/internal/cache"
	"pesa/internal/core"
	"pesa/internal/log"
	"pesa/internal/storage"
)

var (
	ErrUnknownCurrency  = errors.New("currency is not offered by the rate provider")
	ErrRatesUnavailable = errors.New("exchange rates are unavailable, try again later")
)

// PreferenceStore persists the selected currency.
type PreferenceStore interface {
	GetPreference(ctx context.Context, key string) (string, error)
	SetPreferences(ctx context.Context, values map[string]string) error
}

// Service owns the display currency preference. Rates are fetched only when
// the user changes currency; responses are cached briefly so repeated
// changes do not hit the provider again.
type Service struct {
	provider RatesProvider
	store    PreferenceStore
	base     string
	rates    *cache.LRUCache[Rates]
	logger   *log.Logger
}

func NewService(provider RatesProvider, store PreferenceStore, base string, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	base = strings.ToUpper(strings.TrimSpace(base))
	if base == "" {
		base = Base
	}
	return &Service{
		provider: provider,
		store:    store,
		base:     base,
		rates:    cache.NewLRUCache[Rates](4, time.Minute),
		logger:   logger.WithComponent(log.ComponentCurrency),
	}
}

// RatesCache is exposed so the process cache manager can sweep it.
func (s *Service) RatesCache() cache.Cleaner { return s.rates }

// Default is the base currency at rate one.
func (s *Service) Default() core.CurrencyPreference {
	return core.CurrencyPreference{Code: s.base, Symbol: Symbol(s.base), Rate: decimal.NewFromInt(1)}
}

// Current returns the stored preference or the base currency.
func (s *Service) Current(ctx context.Context) (core.CurrencyPreference, error) {
	code, err := s.store.GetPreference(ctx, storage.PrefCurrencyCode)
	if errors.Is(err, storage.ErrNotFound) {
		return s.Default(), nil
	}
	if err != nil {
		return core.CurrencyPreference{}, err
	}
	symbol, err := s.store.GetPreference(ctx, storage.PrefCurrencySymbol)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return core.CurrencyPreference{}, err
	}
	rawRate, err := s.store.GetPreference(ctx, storage.PrefCurrencyRate)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return core.CurrencyPreference{}, err
	}
	rate, err := decimal.NewFromString(rawRate)
	if err != nil || !rate.IsPositive() {
		s.logger.WarnContext(ctx, "Stored currency rate unusable, falling back to base",
			log.FieldCurrency, code, "rate", rawRate)
		return s.Default(), nil
	}
	if symbol == "" {
		symbol = Symbol(code)
	}
	return core.CurrencyPreference{Code: code, Symbol: symbol, Rate: rate}, nil
}

// SetCurrency switches the display currency. Any failure leaves the stored
// preference as it was.
func (s *Service) SetCurrency(ctx context.Context, code string) (core.CurrencyPreference, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return core.CurrencyPreference{}, fmt.Errorf("%w: empty code", ErrUnknownCurrency)
	}

	pref := s.Default()
	if code != s.base {
		rates, err := s.latest(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Exchange rate lookup failed", log.FieldCurrency, code, log.FieldError, err)
			return core.CurrencyPreference{}, fmt.Errorf("%w: %v", ErrRatesUnavailable, err)
		}
		rate, ok := rates.Rates[code]
		if !ok || !rate.IsPositive() {
			return core.CurrencyPreference{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
		}
		pref = core.CurrencyPreference{Code: code, Symbol: Symbol(code), Rate: rate}
	}

	if err := s.store.SetPreferences(ctx, map[string]string{
		storage.PrefCurrencyCode:   pref.Code,
		storage.PrefCurrencySymbol: pref.Symbol,
		storage.PrefCurrencyRate:   pref.Rate.String(),
	}); err != nil {
		return core.CurrencyPreference{}, fmt.Errorf("save currency: %w", err)
	}
	s.logger.InfoContext(ctx, "Display currency changed", log.FieldCurrency, pref.Code, "rate", pref.Rate.String())
	return pref, nil
}

func (s *Service) latest(ctx context.Context) (Rates, error) {
	return s.rates.GetOrLoad(ctx, s.base, func(ctx context.Context) (Rates, error) {
		return s.provider.Latest(ctx, s.base)
	})
}
