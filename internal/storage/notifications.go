package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"pesa/internal/core"
	"pesa/internal/events"
)

// AppendNotification stores n, assigning an id and timestamp when missing.
func (r *SQLiteRepository) AppendNotification(ctx context.Context, n core.Notification) (core.Notification, error) {
	if err := n.Validate(); err != nil {
		return core.Notification{}, err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = r.now().UTC()
	}
	n.Timestamp = core.TruncateMillis(n.Timestamp)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, title, message, timestamp_ms, is_read, type)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.Title, n.Message, toMillis(n.Timestamp), n.Read, string(n.Type))
	if err != nil {
		if isUniqueViolation(err) {
			return core.Notification{}, fmt.Errorf("notification %s: %w", n.ID, ErrDuplicate)
		}
		return core.Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	r.publish(events.TopicNotifications, 0)
	return n, nil
}

// ListNotifications returns notifications newest first. limit <= 0 means all.
func (r *SQLiteRepository) ListNotifications(ctx context.Context, limit int) ([]core.Notification, error) {
	query := `SELECT id, title, message, timestamp_ms, is_read, type FROM notifications ORDER BY timestamp_ms DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []core.Notification
	for rows.Next() {
		var (
			n   core.Notification
			ts  int64
			typ string
		)
		if err := rows.Scan(&n.ID, &n.Title, &n.Message, &ts, &n.Read, &typ); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Timestamp = fromMillis(ts)
		n.Type = core.NotificationType(typ)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// MarkAllNotificationsRead returns how many notifications changed state.
func (r *SQLiteRepository) MarkAllNotificationsRead(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE is_read = 0`)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		r.publish(events.TopicNotifications, 0)
	}
	return n, nil
}

func (r *SQLiteRepository) UnreadCount(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE is_read = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}
