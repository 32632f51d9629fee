package main

import (
	"fmt"

	"github.com/spf13/viper"

	"pesa/internal/cli"
	"pesa/internal/config"
	"pesa/internal/currency"
	"pesa/internal/events"
	"pesa/internal/log"
	"pesa/internal/services"
	"pesa/internal/storage"
)

// overrides maps viper keys onto the env-loaded configuration.
var overrides = []struct {
	key   string
	apply func(cfg *config.Config, v string)
}{
	{"database.path", func(c *config.Config, v string) { c.SQLiteDBPath = v }},
	{"logging.level", func(c *config.Config, v string) { c.LogLevel = v }},
	{"logging.format", func(c *config.Config, v string) { c.LogFormat = v }},
	{"currency.base", func(c *config.Config, v string) { c.BaseCurrency = v }},
	{"currency.rates_url", func(c *config.Config, v string) { c.RatesBaseURL = v }},
	{"secure_store_key", func(c *config.Config, v string) { c.SecureStoreKey = v }},
}

// loadConfig reads the same environment as the server, then lets the
// config file, PESA_* variables and flags override it.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := config.Load()
	for _, o := range overrides {
		if s := v.GetString(o.key); s != "" {
			o.apply(cfg, s)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// env is what most commands need: config, a logger and the opened ledger.
type env struct {
	cfg    *config.Config
	logger *log.Logger
	repo   *storage.SQLiteRepository
	bus    *events.Bus
}

func openEnv() (*env, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	bus := events.NewBus()
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, bus)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", cfg.SQLiteDBPath, err)
	}
	return &env{cfg: cfg, logger: logger, repo: repo, bus: bus}, nil
}

func (e *env) Close() error {
	e.bus.Close()
	return e.repo.Close()
}

// ledger never publishes; the worker sweep mirrors CLI writes.
func (e *env) ledger() *services.LedgerService {
	return services.NewLedgerService(e.repo, nil, e.logger)
}

func (e *env) currency() *currency.Service {
	return currency.NewService(
		currency.NewRatesClient(e.cfg.RatesBaseURL, e.cfg.RatesTimeout),
		e.repo, e.cfg.BaseCurrency, e.logger)
}
