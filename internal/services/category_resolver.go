package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pesa/internal/core"
	"pesa/internal/log"
	"pesa/internal/storage"
)

// CategoryFinder looks a category up by its exact name.
type CategoryFinder interface {
	FindCategoryByName(ctx context.Context, name string) (core.Category, error)
}

// CategoryResolver turns a free-text category name into a category id.
// Matching is exact and case-sensitive; unknown names resolve to nil so the
// transaction is saved uncategorized. Categories are never created here.
type CategoryResolver struct {
	finder CategoryFinder
	logger *log.Logger
}

func NewCategoryResolver(finder CategoryFinder, logger *log.Logger) *CategoryResolver {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &CategoryResolver{finder: finder, logger: logger.WithComponent(log.ComponentLedger)}
}

func (r *CategoryResolver) Resolve(ctx context.Context, name string) (*int64, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	c, err := r.finder.FindCategoryByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.WarnContext(ctx, "Category name did not match, saving uncategorized",
			log.FieldCategoryName, name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve category %q: %w", name, err)
	}
	id := c.ID
	return &id, nil
}
