package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pesa/internal/events"
)

// Preference keys.
const (
	PrefTheme          = "theme"
	PrefCurrencyCode   = "currency_code"
	PrefCurrencySymbol = "currency_symbol"
	PrefCurrencyRate   = "currency_rate"
)

// GetPreference returns ErrNotFound when key was never set.
func (r *SQLiteRepository) GetPreference(ctx context.Context, key string) (string, error) {
	return getKV(ctx, r.db, "preferences", key)
}

func (r *SQLiteRepository) SetPreference(ctx context.Context, key, value string) error {
	if err := setKV(ctx, r.db, "preferences", key, value); err != nil {
		return err
	}
	r.publish(events.TopicPreferences, 0)
	return nil
}

// SetPreferences writes several keys atomically: either all of them are
// stored or none is.
func (r *SQLiteRepository) SetPreferences(ctx context.Context, values map[string]string) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		for k, v := range values {
			if err := setKV(ctx, tx, "preferences", k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.publish(events.TopicPreferences, 0)
	return nil
}

// GetSecret reads an opaque value from the secure store table. Callers are
// expected to encrypt before writing.
func (r *SQLiteRepository) GetSecret(ctx context.Context, key string) (string, error) {
	return getKV(ctx, r.db, "secure_store", key)
}

func (r *SQLiteRepository) SetSecret(ctx context.Context, key, value string) error {
	return setKV(ctx, r.db, "secure_store", key, value)
}

func (r *SQLiteRepository) DeleteSecret(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM secure_store WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}

// table is a fixed name from this file, never user input.
func getKV(ctx context.Context, db DBTX, table, key string) (string, error) {
	var v string
	err := db.QueryRowContext(ctx, `SELECT value FROM `+table+` WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s %q: %w", table, key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get %s %q: %w", table, key, err)
	}
	return v, nil
}

func setKV(ctx context.Context, db DBTX, table, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO `+table+` (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set %s %q: %w", table, key, err)
	}
	return nil
}
