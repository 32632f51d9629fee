package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  TxType = "INCOME"
	Expense TxType = "EXPENSE"
)

const (
	NotificationBudget NotificationType = "BUDGET"
	NotificationSystem NotificationType = "SYSTEM"
	NotificationInfo   NotificationType = "INFO"
)

const (
	ThemeLight  Theme = "LIGHT"
	ThemeDark   Theme = "DARK"
	ThemeSystem Theme = "SYSTEM"
)

type (
	// TxType classifies both categories and transactions.
	TxType string

	NotificationType string

	Theme string

	// Owner says who a category belongs to. The zero value is the shared
	// system default scope.
	Owner struct {
		userID string
	}

	Category struct {
		ID        int64
		RemoteID  string
		Name      string
		Icon      string
		Color     string // hex, e.g. #FF7043
		Type      TxType
		Owner     Owner
		UpdatedAt time.Time
	}

	Transaction struct {
		ID            int64
		RemoteID      string
		Amount        decimal.Decimal
		Date          time.Time
		Note          string
		Type          TxType
		PaymentMethod string
		Tags          []string
		CategoryID    *int64 // nil means uncategorized
		CategoryName  string // read side only
		UpdatedAt     time.Time
	}

	Budget struct {
		ID          int64
		RemoteID    string
		CategoryID  int64
		Limit       decimal.Decimal
		PeriodStart time.Time
		PeriodEnd   time.Time
		UpdatedAt   time.Time
	}

	Notification struct {
		ID        string
		Title     string
		Message   string
		Timestamp time.Time
		Read      bool
		Type      NotificationType
	}

	CurrencyPreference struct {
		Code   string
		Symbol string
		Rate   decimal.Decimal
	}
)

var (
	ErrInvalidAmount    = errors.New("amount must be greater than zero")
	ErrEmptyAmount      = errors.New("amount is required")
	ErrInvalidLimit     = errors.New("budget limit cannot be negative")
	ErrInvalidType      = errors.New("type must be INCOME or EXPENSE")
	ErrEmptyCategory    = errors.New("category is required")
	ErrEmptyName        = errors.New("name is required")
	ErrInvalidColor     = errors.New("color must be a hex value like #RRGGBB")
	ErrZeroDate         = errors.New("date is required")
	ErrInvalidTheme     = errors.New("theme must be LIGHT, DARK or SYSTEM")
	ErrInvalidNotifType = errors.New("notification type must be BUDGET, SYSTEM or INFO")
	ErrNameTooLong      = errors.New("category name too long (max 60 characters)")
	ErrNoteTooLong      = errors.New("note too long (max 500 characters)")
	ErrInvalidPeriod    = errors.New("budget period end must not be before its start")
)

var validationErrors = []error{
	ErrInvalidAmount, ErrEmptyAmount, ErrInvalidLimit, ErrInvalidType, ErrEmptyCategory,
	ErrEmptyName, ErrInvalidColor, ErrZeroDate, ErrInvalidTheme, ErrInvalidNotifType,
	ErrNameTooLong, ErrNoteTooLong, ErrInvalidPeriod,
}

// IsValidation reports whether err is a rejected user input rather than a
// failure of the system.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// SystemDefault is the owner of seeded categories shared by every user.
func SystemDefault() Owner { return Owner{} }

// OwnedBy scopes a category to a single user.
func OwnedBy(userID string) Owner { return Owner{userID: userID} }

func (o Owner) IsSystem() bool { return o.userID == "" }

// UserID returns the owning user, or "" for system defaults.
func (o Owner) UserID() string { return o.userID }

func (o Owner) String() string {
	if o.IsSystem() {
		return "system"
	}
	return "user:" + o.userID
}

func ParseTxType(s string) (TxType, error) {
	switch TxType(strings.ToUpper(strings.TrimSpace(s))) {
	case Income:
		return Income, nil
	case Expense:
		return Expense, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

func (t TxType) Valid() bool { return t == Income || t == Expense }

func ParseTheme(s string) (Theme, error) {
	switch Theme(strings.ToUpper(strings.TrimSpace(s))) {
	case ThemeLight:
		return ThemeLight, nil
	case ThemeDark:
		return ThemeDark, nil
	case ThemeSystem:
		return ThemeSystem, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTheme, s)
}

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationBudget, NotificationSystem, NotificationInfo:
		return true
	}
	return false
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if len(c.Name) > 60 {
		return ErrNameTooLong
	}
	if c.Color != "" && !hexColor.MatchString(c.Color) {
		return ErrInvalidColor
	}
	if !c.Type.Valid() {
		return ErrInvalidType
	}
	return nil
}

func (t Transaction) Validate() error {
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if t.Date.IsZero() {
		return ErrZeroDate
	}
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if len(t.Note) > 500 {
		return ErrNoteTooLong
	}
	return nil
}

func (b Budget) Validate() error {
	if b.CategoryID <= 0 {
		return ErrEmptyCategory
	}
	if b.Limit.IsNegative() {
		return ErrInvalidLimit
	}
	if !b.PeriodEnd.IsZero() && b.PeriodEnd.Before(b.PeriodStart) {
		return ErrInvalidPeriod
	}
	return nil
}

func (n Notification) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return errors.New("notification title is required")
	}
	if !n.Type.Valid() {
		return ErrInvalidNotifType
	}
	return nil
}

// TruncateMillis drops sub-millisecond precision so stored and in-memory
// instants compare equal after a round trip.
func TruncateMillis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).In(t.Location())
}
