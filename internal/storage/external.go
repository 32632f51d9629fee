package storage

import (
	"context"
	"fmt"
	"time"

	"pesa/internal/events"
)

// storeTopics are published when another process changed the file.
var storeTopics = []events.Topic{
	events.TopicCategories,
	events.TopicTransactions,
	events.TopicBudgets,
	events.TopicNotifications,
	events.TopicPreferences,
}

// dataVersion reads SQLite's per-connection change counter. It only moves
// when another connection commits; with a single pooled connection that
// means another process, such as the sync worker or pesactl.
func (r *SQLiteRepository) dataVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := r.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read data_version: %w", err)
	}
	return v, nil
}

// WatchExternalChanges polls the file every interval and publishes a change
// on every store topic after another process committed. It blocks until ctx
// is done. Only the initial read can fail; later read errors skip the tick.
func (r *SQLiteRepository) WatchExternalChanges(ctx context.Context, interval time.Duration) error {
	last, err := r.dataVersion(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			v, err := r.dataVersion(ctx)
			if err != nil || v == last {
				continue
			}
			last = v
			for _, topic := range storeTopics {
				r.publish(topic, 0)
			}
		}
	}
}
