// Package budget derives per-category budget states for the current month
// and keeps them fresh as the underlying records change.
package budget

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"pesa/internal/core"
	"pesa/internal/events"
	"pesa/internal/log"
)

// Source is the read side the aggregator combines.
type Source interface {
	ListCategories(ctx context.Context) ([]core.Category, error)
	ListBudgets(ctx context.Context) ([]core.Budget, error)
	SpendByCategory(ctx context.Context, period core.Period) (map[int64]decimal.Decimal, error)
}

// Update carries either a full snapshot or the error that prevented one.
type Update struct {
	States []core.BudgetState
	Err    error
	At     time.Time
}

type Aggregator struct {
	source Source
	bus    *events.Bus
	now    func() time.Time
	logger *log.Logger
}

func NewAggregator(source Source, bus *events.Bus, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Aggregator{
		source: source,
		bus:    bus,
		now:    time.Now,
		logger: logger.WithComponent(log.ComponentBudget),
	}
}

// Compute returns one state per category for the calendar month containing
// now, sorted by category name. Categories without a budget report a zero
// limit. Any failed read fails the whole computation.
func (a *Aggregator) Compute(ctx context.Context, now time.Time) ([]core.BudgetState, error) {
	period := core.MonthPeriod(now)

	var (
		categories []core.Category
		budgets    []core.Budget
		spent      map[int64]decimal.Decimal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		categories, err = a.source.ListCategories(gctx)
		if err != nil {
			return fmt.Errorf("load categories: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		budgets, err = a.source.ListBudgets(gctx)
		if err != nil {
			return fmt.Errorf("load budgets: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		spent, err = a.source.SpendByCategory(gctx, period)
		if err != nil {
			return fmt.Errorf("load spending: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	limits := make(map[int64]decimal.Decimal, len(budgets))
	for _, b := range budgets {
		limits[b.CategoryID] = b.Limit
	}

	states := make([]core.BudgetState, 0, len(categories))
	for _, c := range categories {
		states = append(states, core.NewBudgetState(c, spent[c.ID], limits[c.ID]))
	}
	sort.SliceStable(states, func(i, j int) bool {
		a, b := states[i].Category, states[j].Category
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return states, nil
}

// Watch emits a snapshot right away and another one after every change to
// categories, transactions or budgets. The channel is closed when ctx ends.
// A slow reader only ever sees the latest snapshot.
func (a *Aggregator) Watch(ctx context.Context) <-chan Update {
	out := make(chan Update, 1)
	changes := a.bus.Subscribe(ctx, events.TopicCategories, events.TopicTransactions, events.TopicBudgets)

	go func() {
		defer close(out)

		emit := func() bool {
			now := a.now()
			states, err := a.Compute(ctx, now)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				a.logger.ErrorContext(ctx, "Budget aggregation failed", log.FieldError, err)
				states = nil
			}
			u := Update{States: states, Err: err, At: now}
			// replace an unread snapshot instead of blocking the feed
			select {
			case <-out:
			default:
			}
			select {
			case out <- u:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				if !emit() {
					return
				}
			}
		}
	}()
	return out
}
