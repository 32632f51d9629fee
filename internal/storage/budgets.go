package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"pesa/internal/core"
	"pesa/internal/events"
)

const budgetColumns = `id, remote_id, category_id, limit_amount, period_start_ms, period_end_ms, updated_at`

func scanBudget(s rowScanner) (core.Budget, error) {
	var (
		b        core.Budget
		remoteID sql.NullString
		limit    string
		start    int64
		end      int64
		updated  int64
	)
	if err := s.Scan(&b.ID, &remoteID, &b.CategoryID, &limit, &start, &end, &updated); err != nil {
		return core.Budget{}, err
	}
	l, err := decimal.NewFromString(limit)
	if err != nil {
		return core.Budget{}, fmt.Errorf("budget %d limit %q: %w", b.ID, limit, err)
	}
	b.Limit = l
	b.RemoteID = remoteID.String
	b.PeriodStart = fromMillis(start)
	b.PeriodEnd = fromMillis(end)
	b.UpdatedAt = fromMillis(updated)
	return b, nil
}

// UpsertBudget keeps at most one budget per category: saving a budget for a
// category that already has one replaces its limit and period.
func (r *SQLiteRepository) UpsertBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO budgets (remote_id, category_id, limit_amount, period_start_ms, period_end_ms, updated_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(category_id) DO UPDATE SET
			limit_amount    = excluded.limit_amount,
			period_start_ms = excluded.period_start_ms,
			period_end_ms   = excluded.period_end_ms,
			updated_at      = excluded.updated_at,
			sync_status     = excluded.sync_status`,
		nullString(b.RemoteID), b.CategoryID, b.Limit.String(), toMillis(b.PeriodStart),
		toMillis(b.PeriodEnd), toMillis(r.now()), SyncPending)
	if err != nil {
		if isForeignKeyViolation(err) {
			return core.Budget{}, fmt.Errorf("budget category %d: %w", b.CategoryID, ErrNotFound)
		}
		return core.Budget{}, fmt.Errorf("upsert budget: %w", err)
	}

	saved, err := r.GetBudgetByCategory(ctx, b.CategoryID)
	if err != nil {
		return core.Budget{}, err
	}
	r.publish(events.TopicBudgets, saved.ID)
	return saved, nil
}

func (r *SQLiteRepository) GetBudgetByCategory(ctx context.Context, categoryID int64) (core.Budget, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE category_id = ?`, categoryID)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, fmt.Errorf("budget for category %d: %w", categoryID, ErrNotFound)
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget: %w", err)
	}
	return b, nil
}

func (r *SQLiteRepository) GetBudget(ctx context.Context, id int64) (core.Budget, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, fmt.Errorf("budget %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget: %w", err)
	}
	return b, nil
}

func (r *SQLiteRepository) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+budgetColumns+` FROM budgets ORDER BY category_id`)
	if err != nil {
		return nil, fmt.Errorf("query budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate budgets: %w", err)
	}
	return out, nil
}

// DeleteBudget removes the budget of a category.
func (r *SQLiteRepository) DeleteBudget(ctx context.Context, categoryID int64) error {
	var id int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var remoteID sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT id, remote_id FROM budgets WHERE category_id = ?`, categoryID).Scan(&id, &remoteID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("budget for category %d: %w", categoryID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get budget: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete budget: %w", err)
		}
		return addTombstone(ctx, tx, remoteID.String, EntityBudget, r.now())
	})
	if err != nil {
		return err
	}
	r.publish(events.TopicBudgets, id)
	return nil
}
