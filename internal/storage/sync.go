package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pesa/internal/core"
	"pesa/internal/events"
)

// Entity names a mirrored record kind.
type Entity string

const (
	EntityCategory    Entity = "category"
	EntityTransaction Entity = "transaction"
	EntityBudget      Entity = "budget"
)

// Entities lists mirrored kinds in dependency order: categories come first
// so references from transactions and budgets can be resolved.
var Entities = []Entity{EntityCategory, EntityTransaction, EntityBudget}

func (e Entity) table() (string, error) {
	switch e {
	case EntityCategory:
		return "categories", nil
	case EntityTransaction:
		return "transactions", nil
	case EntityBudget:
		return "budgets", nil
	}
	return "", fmt.Errorf("unknown entity %q", string(e))
}

func (e Entity) topic() events.Topic {
	switch e {
	case EntityCategory:
		return events.TopicCategories
	case EntityTransaction:
		return events.TopicTransactions
	default:
		return events.TopicBudgets
	}
}

// Tombstone records a deleted row whose remote copy still has to go.
type Tombstone struct {
	RemoteID  string
	Entity    Entity
	DeletedAt time.Time
}

// PendingSync returns ids of rows not yet mirrored, oldest change first.
func (r *SQLiteRepository) PendingSync(ctx context.Context, e Entity, limit int) ([]int64, error) {
	table, err := e.table()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM `+table+` WHERE sync_status != ? ORDER BY updated_at, id LIMIT ?`, SyncSynced, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending %s: %w", table, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending %s: %w", table, err)
	}
	return ids, nil
}

// EnsureRemoteID returns the row's remote id, allocating one on first push.
func (r *SQLiteRepository) EnsureRemoteID(ctx context.Context, e Entity, id int64) (string, error) {
	table, err := e.table()
	if err != nil {
		return "", err
	}
	var remoteID string
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		var current sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT remote_id FROM `+table+` WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s %d: %w", e, id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get %s remote id: %w", e, err)
		}
		if current.Valid && current.String != "" {
			remoteID = current.String
			return nil
		}
		remoteID = uuid.NewString()
		if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET remote_id = ? WHERE id = ?`, remoteID, id); err != nil {
			return fmt.Errorf("assign %s remote id: %w", e, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return remoteID, nil
}

// MarkSynced flags a row mirrored. The row is only flagged if it was not
// modified after version, so an edit racing a push stays pending.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, e Entity, id int64, version time.Time) (bool, error) {
	table, err := e.table()
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE `+table+` SET sync_status = ? WHERE id = ? AND updated_at <= ?`,
		SyncSynced, id, toMillis(version))
	if err != nil {
		return false, fmt.Errorf("mark %s synced: %w", e, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *SQLiteRepository) MarkSyncError(ctx context.Context, e Entity, id int64) error {
	table, err := e.table()
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE `+table+` SET sync_status = ? WHERE id = ?`, SyncError, id); err != nil {
		return fmt.Errorf("mark %s sync error: %w", e, err)
	}
	return nil
}

// SyncCounts reports how many rows of each kind are in each sync state.
func (r *SQLiteRepository) SyncCounts(ctx context.Context) (map[Entity]map[string]int64, error) {
	out := make(map[Entity]map[string]int64, len(Entities))
	for _, e := range Entities {
		table, _ := e.table()
		rows, err := r.db.QueryContext(ctx, `SELECT sync_status, COUNT(*) FROM `+table+` GROUP BY sync_status`)
		if err != nil {
			return nil, fmt.Errorf("count %s sync status: %w", table, err)
		}
		counts := map[string]int64{SyncPending: 0, SyncSynced: 0, SyncError: 0}
		for rows.Next() {
			var (
				status string
				n      int64
			)
			if err := rows.Scan(&status, &n); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan sync count: %w", err)
			}
			counts[status] = n
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate sync counts: %w", err)
		}
		out[e] = counts
	}
	return out, nil
}

func addTombstone(ctx context.Context, db DBTX, remoteID string, e Entity, at time.Time) error {
	// never mirrored, nothing to remove remotely
	if remoteID == "" {
		return nil
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_tombstones (remote_id, entity, deleted_at) VALUES (?, ?, ?)
		ON CONFLICT(remote_id) DO UPDATE SET deleted_at = excluded.deleted_at`,
		remoteID, string(e), toMillis(at))
	if err != nil {
		return fmt.Errorf("add tombstone: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) AddTombstone(ctx context.Context, remoteID string, e Entity) error {
	return addTombstone(ctx, r.db, remoteID, e, r.now())
}

func (r *SQLiteRepository) ListTombstones(ctx context.Context, limit int) ([]Tombstone, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT remote_id, entity, deleted_at FROM sync_tombstones ORDER BY deleted_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query tombstones: %w", err)
	}
	defer rows.Close()

	var out []Tombstone
	for rows.Next() {
		var (
			t       Tombstone
			entity  string
			deleted int64
		)
		if err := rows.Scan(&t.RemoteID, &entity, &deleted); err != nil {
			return nil, fmt.Errorf("scan tombstone: %w", err)
		}
		t.Entity = Entity(entity)
		t.DeletedAt = fromMillis(deleted)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tombstones: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) ClearTombstone(ctx context.Context, remoteID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_tombstones WHERE remote_id = ?`, remoteID); err != nil {
		return fmt.Errorf("clear tombstone: %w", err)
	}
	return nil
}

func isTombstoned(ctx context.Context, db DBTX, remoteID string) (bool, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_tombstones WHERE remote_id = ?`, remoteID).Scan(&n); err != nil {
		return false, fmt.Errorf("check tombstone: %w", err)
	}
	return n > 0, nil
}

// ApplyRemoteCategory merges a category read from the remote mirror. The
// newer updated_at wins; equal timestamps keep the local row. Rows deleted
// locally but not yet removed remotely are ignored.
func (r *SQLiteRepository) ApplyRemoteCategory(ctx context.Context, c core.Category) (bool, error) {
	if c.RemoteID == "" {
		return false, errors.New("remote category without remote id")
	}
	if err := c.Validate(); err != nil {
		return false, err
	}
	var applied bool
	var id int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if dead, err := isTombstoned(ctx, tx, c.RemoteID); err != nil || dead {
			return err
		}
		var localUpdated int64
		err := tx.QueryRowContext(ctx, `SELECT id, updated_at FROM categories WHERE remote_id = ?`, c.RemoteID).Scan(&id, &localUpdated)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx, `
				INSERT INTO categories (remote_id, name, icon, color, type, owner_id, updated_at, sync_status)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				c.RemoteID, c.Name, c.Icon, c.Color, string(c.Type), nullString(c.Owner.UserID()),
				toMillis(c.UpdatedAt), SyncSynced)
			if err != nil {
				return fmt.Errorf("insert remote category: %w", err)
			}
			id, _ = res.LastInsertId()
			applied = true
		case err != nil:
			return fmt.Errorf("get local category: %w", err)
		case toMillis(c.UpdatedAt) > localUpdated:
			if _, err := tx.ExecContext(ctx, `
				UPDATE categories SET name = ?, icon = ?, color = ?, type = ?, owner_id = ?, updated_at = ?, sync_status = ?
				WHERE id = ?`,
				c.Name, c.Icon, c.Color, string(c.Type), nullString(c.Owner.UserID()),
				toMillis(c.UpdatedAt), SyncSynced, id); err != nil {
				return fmt.Errorf("update remote category: %w", err)
			}
			applied = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		slog.DebugContext(ctx, "Remote category applied", "category_id", id, "remote_id", c.RemoteID)
		r.publish(EntityCategory.topic(), id)
	}
	return applied, nil
}

// ApplyRemoteTransaction merges a remote transaction. CategoryID must
// already be translated to the local id (nil when unknown).
func (r *SQLiteRepository) ApplyRemoteTransaction(ctx context.Context, t core.Transaction) (bool, error) {
	if t.RemoteID == "" {
		return false, errors.New("remote transaction without remote id")
	}
	if err := t.Validate(); err != nil {
		return false, err
	}
	tags, err := encodeTags(t.Tags)
	if err != nil {
		return false, err
	}
	var applied bool
	var id int64
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		if dead, err := isTombstoned(ctx, tx, t.RemoteID); err != nil || dead {
			return err
		}
		var localUpdated int64
		err := tx.QueryRowContext(ctx, `SELECT id, updated_at FROM transactions WHERE remote_id = ?`, t.RemoteID).Scan(&id, &localUpdated)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx, `
				INSERT INTO transactions (remote_id, amount, date_ms, note, type, payment_method, tags, category_id, updated_at, sync_status)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.RemoteID, core.FormatAmount(t.Amount), toMillis(t.Date), t.Note, string(t.Type),
				t.PaymentMethod, tags, nullInt64(t.CategoryID), toMillis(t.UpdatedAt), SyncSynced)
			if err != nil {
				return fmt.Errorf("insert remote transaction: %w", err)
			}
			id, _ = res.LastInsertId()
			applied = true
		case err != nil:
			return fmt.Errorf("get local transaction: %w", err)
		case toMillis(t.UpdatedAt) > localUpdated:
			if _, err := tx.ExecContext(ctx, `
				UPDATE transactions
				SET amount = ?, date_ms = ?, note = ?, type = ?, payment_method = ?, tags = ?,
				    category_id = ?, updated_at = ?, sync_status = ?
				WHERE id = ?`,
				core.FormatAmount(t.Amount), toMillis(t.Date), t.Note, string(t.Type), t.PaymentMethod, tags,
				nullInt64(t.CategoryID), toMillis(t.UpdatedAt), SyncSynced, id); err != nil {
				return fmt.Errorf("update remote transaction: %w", err)
			}
			applied = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		r.publish(EntityTransaction.topic(), id)
	}
	return applied, nil
}

// ApplyRemoteBudget merges a remote budget. A local budget for the same
// category under another remote id is the same logical budget and is
// overwritten when older.
func (r *SQLiteRepository) ApplyRemoteBudget(ctx context.Context, b core.Budget) (bool, error) {
	if b.RemoteID == "" {
		return false, errors.New("remote budget without remote id")
	}
	if err := b.Validate(); err != nil {
		return false, err
	}
	var applied bool
	var id int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if dead, err := isTombstoned(ctx, tx, b.RemoteID); err != nil || dead {
			return err
		}
		var localUpdated int64
		err := tx.QueryRowContext(ctx,
			`SELECT id, updated_at FROM budgets WHERE remote_id = ? OR category_id = ? ORDER BY remote_id = ? DESC LIMIT 1`,
			b.RemoteID, b.CategoryID, b.RemoteID).Scan(&id, &localUpdated)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx, `
				INSERT INTO budgets (remote_id, category_id, limit_amount, period_start_ms, period_end_ms, updated_at, sync_status)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				b.RemoteID, b.CategoryID, b.Limit.String(), toMillis(b.PeriodStart), toMillis(b.PeriodEnd),
				toMillis(b.UpdatedAt), SyncSynced)
			if err != nil {
				return fmt.Errorf("insert remote budget: %w", err)
			}
			id, _ = res.LastInsertId()
			applied = true
		case err != nil:
			return fmt.Errorf("get local budget: %w", err)
		case toMillis(b.UpdatedAt) > localUpdated:
			if _, err := tx.ExecContext(ctx, `
				UPDATE budgets
				SET remote_id = ?, category_id = ?, limit_amount = ?, period_start_ms = ?, period_end_ms = ?,
				    updated_at = ?, sync_status = ?
				WHERE id = ?`,
				b.RemoteID, b.CategoryID, b.Limit.String(), toMillis(b.PeriodStart), toMillis(b.PeriodEnd),
				toMillis(b.UpdatedAt), SyncSynced, id); err != nil {
				return fmt.Errorf("update remote budget: %w", err)
			}
			applied = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		r.publish(EntityBudget.topic(), id)
	}
	return applied, nil
}

// DeleteByRemoteID removes a local row whose remote copy was deleted.
func (r *SQLiteRepository) DeleteByRemoteID(ctx context.Context, e Entity, remoteID string) error {
	table, err := e.table()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE remote_id = ?`, remoteID)
	if err != nil {
		return fmt.Errorf("delete %s by remote id: %w", e, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.publish(e.topic(), 0)
	}
	return nil
}

// SyncedRemoteIDs returns remote ids of rows whose last mirrored state is
// current. A synced row missing from the mirror was deleted remotely.
func (r *SQLiteRepository) SyncedRemoteIDs(ctx context.Context, e Entity) ([]string, error) {
	table, err := e.table()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT remote_id FROM `+table+` WHERE sync_status = ? AND remote_id IS NOT NULL ORDER BY id`, SyncSynced)
	if err != nil {
		return nil, fmt.Errorf("query synced %s: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan remote id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate synced %s: %w", table, err)
	}
	return out, nil
}
