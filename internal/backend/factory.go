package backend

import (
	"context"
	"errors"
	"fmt"

	"pesa/internal/log"
	"pesa/internal/remote"
	gremote "pesa/internal/remote/google"
	"pesa/internal/remote/memory"
)

// ErrNoRemote is returned when mirroring is switched off.
var ErrNoRemote = errors.New("remote mirror disabled")

// Factory creates remote stores based on configuration
type Factory struct {
	logger *log.Logger

	// overridable in tests
	newSheets func(ctx context.Context, cfg gremote.Config) (*gremote.Client, error)
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) *Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Factory{
		logger:    logger.WithComponent(log.ComponentRemote),
		newSheets: gremote.New,
	}
}

// Create returns the configured document store, or ErrNoRemote for the
// none backend.
func (f *Factory) Create(ctx context.Context, config Config) (remote.DocumentStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case NoneBackend:
		f.logger.Info("Remote mirror disabled")
		return nil, ErrNoRemote
	case MemoryBackend:
		f.logger.Info("Initialized in-memory remote store")
		return memory.New(), nil
	case SheetsBackend:
		return f.createSheetsBackend(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *Factory) createSheetsBackend(ctx context.Context, config Config) (remote.DocumentStore, error) {
	cli, err := f.newSheets(ctx, gremote.Config{
		SpreadsheetID:      config.GoogleSpreadsheetID,
		ServiceAccountJSON: config.GoogleServiceAccountJSON,
		ServiceAccountFile: config.GoogleServiceAccountFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	if err := cli.EnsureCollections(ctx, remote.CollectionCategories, remote.CollectionTransactions, remote.CollectionBudgets); err != nil {
		return nil, fmt.Errorf("prepare spreadsheet tabs: %w", err)
	}

	f.logger.Info("Initialized Google Sheets remote store", "spreadsheet_id", config.GoogleSpreadsheetID)
	return cli, nil
}
