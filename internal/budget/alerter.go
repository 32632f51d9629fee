package budget

import (
	"context"
	"fmt"
	"sync"

	"pesa/internal/core"
	"pesa/internal/log"
)

type Level string

const (
	LevelNearLimit Level = "near"
	LevelOver      Level = "over"
)

// Notifier stores user-facing notifications.
type Notifier interface {
	AppendNotification(ctx context.Context, n core.Notification) (core.Notification, error)
}

// Alerter turns budget snapshots into BUDGET notifications. Each category
// is reported at most once per month and level; the record of what was
// already sent lives in memory, so a restart may repeat an alert.
type Alerter struct {
	notifier Notifier
	logger   *log.Logger

	mu   sync.Mutex
	sent map[string]struct{}
}

func NewAlerter(notifier Notifier, logger *log.Logger) *Alerter {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Alerter{
		notifier: notifier,
		logger:   logger.WithComponent(log.ComponentBudget),
		sent:     make(map[string]struct{}),
	}
}

// Run consumes updates until the channel closes or ctx ends.
func (a *Alerter) Run(ctx context.Context, updates <-chan Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Err != nil {
				continue
			}
			if _, err := a.Check(ctx, u); err != nil {
				a.logger.ErrorContext(ctx, "Failed to record budget alert", log.FieldError, err)
			}
		}
	}
}

// Check records notifications for states that newly crossed a threshold
// and returns how many were written.
func (a *Alerter) Check(ctx context.Context, u Update) (int, error) {
	month := u.At.Format("2006-01")
	written := 0
	for _, s := range u.States {
		level, ok := levelOf(s)
		if !ok {
			continue
		}
		key := fmt.Sprintf("%d|%s|%s", s.Category.ID, month, level)

		a.mu.Lock()
		_, seen := a.sent[key]
		a.mu.Unlock()
		if seen {
			continue
		}

		n := notificationFor(s, level)
		n.Timestamp = u.At
		if _, err := a.notifier.AppendNotification(ctx, n); err != nil {
			return written, fmt.Errorf("append budget notification for %s: %w", s.Category.Name, err)
		}

		a.mu.Lock()
		a.sent[key] = struct{}{}
		a.mu.Unlock()
		written++

		a.logger.InfoContext(ctx, "Budget alert recorded",
			log.FieldCategoryID, s.Category.ID,
			log.FieldPercentUsed, s.PercentUsed,
			"level", string(level))
	}
	return written, nil
}

func levelOf(s core.BudgetState) (Level, bool) {
	switch {
	case s.IsOverBudget():
		return LevelOver, true
	case s.IsNearLimit():
		return LevelNearLimit, true
	}
	return "", false
}

func notificationFor(s core.BudgetState, level Level) core.Notification {
	if level == LevelOver {
		return core.Notification{
			Title: fmt.Sprintf("%s budget exceeded", s.Category.Name),
			Message: fmt.Sprintf("You have spent %s of your %s limit for %s.",
				core.FormatAmount(s.Spent), core.FormatAmount(s.Limit), s.Category.Name),
			Type: core.NotificationBudget,
		}
	}
	return core.Notification{
		Title: fmt.Sprintf("%s budget almost used", s.Category.Name),
		Message: fmt.Sprintf("You have used %.0f%% of your %s budget. %s left.",
			s.PercentUsed, s.Category.Name, core.FormatAmount(s.Remaining())),
		Type: core.NotificationBudget,
	}
}
