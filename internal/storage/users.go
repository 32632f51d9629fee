package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pesa/internal/core"
)

// User is an account able to sign in to the API.
type User struct {
	ID            string
	Email         string
	PasswordHash  string // empty for Google-only accounts
	GoogleSubject string
	DisplayName   string
	CreatedAt     time.Time
}

const userColumns = `id, email, password_hash, google_subject, display_name, created_at`

func scanUser(s rowScanner) (User, error) {
	var (
		u       User
		hash    sql.NullString
		subject sql.NullString
		created int64
	)
	if err := s.Scan(&u.ID, &u.Email, &hash, &subject, &u.DisplayName, &created); err != nil {
		return User{}, err
	}
	u.PasswordHash = hash.String
	u.GoogleSubject = subject.String
	u.CreatedAt = fromMillis(created)
	return u, nil
}

// CreateUser stores u with a fresh id. Emails are compared lower-cased.
func (r *SQLiteRepository) CreateUser(ctx context.Context, u User) (User, error) {
	u.ID = uuid.NewString()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.CreatedAt = core.TruncateMillis(r.now().UTC())
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, google_subject, display_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, nullString(u.PasswordHash), nullString(u.GoogleSubject), u.DisplayName, toMillis(u.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("user %s: %w", u.Email, ErrDuplicate)
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.getUser(ctx, `email = ?`, email)
}

func (r *SQLiteRepository) GetUserByGoogleSubject(ctx context.Context, subject string) (User, error) {
	return r.getUser(ctx, `google_subject = ?`, subject)
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (User, error) {
	return r.getUser(ctx, `id = ?`, id)
}

// LinkGoogleSubject attaches a Google account to an existing user.
func (r *SQLiteRepository) LinkGoogleSubject(ctx context.Context, userID, subject string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET google_subject = ? WHERE id = ?`, subject, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("google subject: %w", ErrDuplicate)
		}
		return fmt.Errorf("link google subject: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) getUser(ctx context.Context, where string, arg any) (User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user: %w", ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}
