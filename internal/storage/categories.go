package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"pesa/internal/core"
	"pesa/internal/events"
)

const categoryColumns = `id, remote_id, name, icon, color, type, owner_id, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCategory(s rowScanner) (core.Category, error) {
	var (
		c        core.Category
		remoteID sql.NullString
		ownerID  sql.NullString
		typ      string
		updated  int64
	)
	if err := s.Scan(&c.ID, &remoteID, &c.Name, &c.Icon, &c.Color, &typ, &ownerID, &updated); err != nil {
		return core.Category{}, err
	}
	c.RemoteID = remoteID.String
	c.Type = core.TxType(typ)
	if ownerID.Valid {
		c.Owner = core.OwnedBy(ownerID.String)
	} else {
		c.Owner = core.SystemDefault()
	}
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}

// CreateCategory stores a new category. Name uniqueness is checked here
// within the owner's scope; the schema itself does not enforce it.
func (r *SQLiteRepository) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}

	var taken int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM categories WHERE name = ? AND owner_id IS ?`,
		c.Name, nullString(c.Owner.UserID())).Scan(&taken); err != nil {
		return core.Category{}, fmt.Errorf("check category name: %w", err)
	}
	if taken > 0 {
		return core.Category{}, fmt.Errorf("category %q: %w", c.Name, ErrDuplicate)
	}

	c.UpdatedAt = core.TruncateMillis(r.now().UTC())
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO categories (remote_id, name, icon, color, type, owner_id, updated_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullString(c.RemoteID), c.Name, c.Icon, c.Color, string(c.Type),
		nullString(c.Owner.UserID()), toMillis(c.UpdatedAt), SyncPending)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Category{}, fmt.Errorf("category remote id %q: %w", c.RemoteID, ErrDuplicate)
		}
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return core.Category{}, fmt.Errorf("category id: %w", err)
	}

	slog.DebugContext(ctx, "Category saved", "category_id", c.ID, "name", c.Name, "owner", c.Owner.String())
	r.publish(events.TopicCategories, c.ID)
	return c, nil
}

func (r *SQLiteRepository) UpdateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	c.UpdatedAt = core.TruncateMillis(r.now().UTC())
	res, err := r.db.ExecContext(ctx, `
		UPDATE categories
		SET name = ?, icon = ?, color = ?, type = ?, updated_at = ?, sync_status = ?
		WHERE id = ?`,
		c.Name, c.Icon, c.Color, string(c.Type), toMillis(c.UpdatedAt), SyncPending, c.ID)
	if err != nil {
		return core.Category{}, fmt.Errorf("update category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Category{}, fmt.Errorf("category %d: %w", c.ID, ErrNotFound)
	}
	r.publish(events.TopicCategories, c.ID)
	return r.GetCategory(ctx, c.ID)
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, id int64) (core.Category, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

// FindCategoryByName is an exact, case-sensitive lookup. With several
// categories sharing a name the oldest one wins.
func (r *SQLiteRepository) FindCategoryByName(ctx context.Context, name string) (core.Category, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE name = ? ORDER BY id LIMIT 1`, name)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("category %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("find category by name: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) GetCategoryByRemoteID(ctx context.Context, remoteID string) (core.Category, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE remote_id = ?`, remoteID)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("category remote id %q: %w", remoteID, ErrNotFound)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category by remote id: %w", err)
	}
	return c, nil
}

// ListCategories returns every category ordered by name.
func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

// DeleteCategory removes the row. Transactions pointing at it become
// uncategorized and its budget is dropped by the foreign keys.
func (r *SQLiteRepository) DeleteCategory(ctx context.Context, id int64) error {
	var remoteID sql.NullString
	var budgetRemoteID sql.NullString
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT remote_id FROM categories WHERE id = ?`, id).Scan(&remoteID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("category %d: %w", id, ErrNotFound)
			}
			return fmt.Errorf("get category: %w", err)
		}
		err := tx.QueryRowContext(ctx, `SELECT remote_id FROM budgets WHERE category_id = ?`, id).Scan(&budgetRemoteID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("get category budget: %w", err)
		}
		// affected transactions must be re-mirrored without the reference
		if _, err := tx.ExecContext(ctx, `
			UPDATE transactions SET sync_status = ?, updated_at = ?
			WHERE category_id = ? AND remote_id IS NOT NULL`,
			SyncPending, toMillis(r.now()), id); err != nil {
			return fmt.Errorf("flag category transactions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete category: %w", err)
		}
		if err := addTombstone(ctx, tx, remoteID.String, EntityCategory, r.now()); err != nil {
			return err
		}
		return addTombstone(ctx, tx, budgetRemoteID.String, EntityBudget, r.now())
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Category deleted", "category_id", id)
	r.publish(events.TopicCategories, id)
	r.publish(events.TopicTransactions, 0)
	r.publish(events.TopicBudgets, 0)
	return nil
}

func (r *SQLiteRepository) CategoryCount(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count categories: %w", err)
	}
	return n, nil
}
