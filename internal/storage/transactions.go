package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"pesa/internal/core"
	"pesa/internal/events"
)

const transactionSelect = `
	SELECT t.id, t.remote_id, t.amount, t.date_ms, t.note, t.type, t.payment_method,
	       t.tags, t.category_id, COALESCE(c.name, ''), t.updated_at
	FROM transactions t
	LEFT JOIN categories c ON c.id = t.category_id`

func scanTransaction(s rowScanner) (core.Transaction, error) {
	var (
		t          core.Transaction
		remoteID   sql.NullString
		amount     string
		dateMs     int64
		typ        string
		tags       string
		categoryID sql.NullInt64
		updated    int64
	)
	if err := s.Scan(&t.ID, &remoteID, &amount, &dateMs, &t.Note, &typ, &t.PaymentMethod,
		&tags, &categoryID, &t.CategoryName, &updated); err != nil {
		return core.Transaction{}, err
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %d amount %q: %w", t.ID, amount, err)
	}
	t.Amount = amt
	t.RemoteID = remoteID.String
	t.Date = fromMillis(dateMs)
	t.Type = core.TxType(typ)
	if categoryID.Valid {
		id := categoryID.Int64
		t.CategoryID = &id
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
			return core.Transaction{}, fmt.Errorf("transaction %d tags: %w", t.ID, err)
		}
	}
	t.UpdatedAt = fromMillis(updated)
	return t, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	tags, err := encodeTags(t.Tags)
	if err != nil {
		return core.Transaction{}, err
	}

	t.Date = core.TruncateMillis(t.Date)
	t.UpdatedAt = core.TruncateMillis(r.now().UTC())
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (remote_id, amount, date_ms, note, type, payment_method, tags, category_id, updated_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullString(t.RemoteID), core.FormatAmount(t.Amount), toMillis(t.Date), t.Note, string(t.Type),
		t.PaymentMethod, tags, nullInt64(t.CategoryID), toMillis(t.UpdatedAt), SyncPending)
	if err != nil {
		if isForeignKeyViolation(err) {
			return core.Transaction{}, fmt.Errorf("transaction category: %w", ErrNotFound)
		}
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction id: %w", err)
	}

	slog.DebugContext(ctx, "Transaction saved", "transaction_id", id, "amount", core.FormatAmount(t.Amount))
	r.publish(events.TopicTransactions, id)
	return r.GetTransaction(ctx, id)
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	tags, err := encodeTags(t.Tags)
	if err != nil {
		return core.Transaction{}, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET amount = ?, date_ms = ?, note = ?, type = ?, payment_method = ?, tags = ?,
		    category_id = ?, updated_at = ?, sync_status = ?
		WHERE id = ?`,
		core.FormatAmount(t.Amount), toMillis(t.Date), t.Note, string(t.Type), t.PaymentMethod, tags,
		nullInt64(t.CategoryID), toMillis(r.now()), SyncPending, t.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return core.Transaction{}, fmt.Errorf("transaction category: %w", ErrNotFound)
		}
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", t.ID, ErrNotFound)
	}
	r.publish(events.TopicTransactions, t.ID)
	return r.GetTransaction(ctx, t.ID)
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, transactionSelect+` WHERE t.id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) GetTransactionByRemoteID(ctx context.Context, remoteID string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, transactionSelect+` WHERE t.remote_id = ?`, remoteID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction remote id %q: %w", remoteID, ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction by remote id: %w", err)
	}
	return t, nil
}

// ListTransactions returns transactions newest first. A nil period lists
// everything; otherwise both bounds are inclusive.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, period *core.Period) ([]core.Transaction, error) {
	query := transactionSelect
	var args []any
	if period != nil {
		query += ` WHERE t.date_ms BETWEEN ? AND ?`
		args = append(args, toMillis(period.Start), toMillis(period.End))
	}
	query += ` ORDER BY t.date_ms DESC, t.id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id int64) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var remoteID sql.NullString
		if err := tx.QueryRowContext(ctx, `SELECT remote_id FROM transactions WHERE id = ?`, id).Scan(&remoteID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("transaction %d: %w", id, ErrNotFound)
			}
			return fmt.Errorf("get transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		return addTombstone(ctx, tx, remoteID.String, EntityTransaction, r.now())
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Transaction deleted", "transaction_id", id)
	r.publish(events.TopicTransactions, id)
	return nil
}
