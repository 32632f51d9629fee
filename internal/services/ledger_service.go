package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pesa/internal/amqp"
	"pesa/internal/core"
	"pesa/internal/log"
	"pesa/internal/storage"
)

var (
	ErrSystemCategory  = errors.New("system default categories cannot be deleted")
	ErrForeignCategory = errors.New("category belongs to another user")
	ErrInvalidMonth    = errors.New("month must be between 1 and 12")
)

// SyncPublisher hands sync requests to the worker.
type SyncPublisher interface {
	PublishSync(ctx context.Context, msg *amqp.SyncMessage) error
}

// TransactionInput is a transaction as entered by a user. Amount and Type
// are raw text; CategoryName is resolved when CategoryID is nil.
type TransactionInput struct {
	Amount        string
	Date          time.Time
	Note          string
	Type          string
	PaymentMethod string
	Tags          []string
	CategoryID    *int64
	CategoryName  string
}

// DefaultCategory is seeded into every fresh store.
type DefaultCategory struct {
	Name  string
	Icon  string
	Color string
	Type  core.TxType
}

var DefaultCategories = []DefaultCategory{
	{Name: "Food", Icon: "restaurant", Color: "#FF7043", Type: core.Expense},
	{Name: "Transport", Icon: "directions_bus", Color: "#42A5F5", Type: core.Expense},
	{Name: "Rent", Icon: "home", Color: "#8D6E63", Type: core.Expense},
	{Name: "Utilities", Icon: "bolt", Color: "#FFCA28", Type: core.Expense},
	{Name: "Entertainment", Icon: "movie", Color: "#AB47BC", Type: core.Expense},
	{Name: "Health", Icon: "local_hospital", Color: "#EF5350", Type: core.Expense},
	{Name: "Shopping", Icon: "shopping_cart", Color: "#26A69A", Type: core.Expense},
	{Name: "Salary", Icon: "payments", Color: "#66BB6A", Type: core.Income},
	{Name: "Business", Icon: "storefront", Color: "#29B6F6", Type: core.Income},
	{Name: "Gifts", Icon: "card_giftcard", Color: "#EC407A", Type: core.Income},
}

// LedgerService orchestrates ledger writes across SQLite and AMQP. Every
// write lands in SQLite first; the sync message is best effort because the
// worker's outbox sweep picks up anything still pending.
type LedgerService struct {
	store     *storage.SQLiteRepository
	publisher SyncPublisher
	resolver  *CategoryResolver
	logger    *log.Logger
	now       func() time.Time
}

// NewLedgerService wires the service. publisher may be nil when no broker
// is configured.
func NewLedgerService(store *storage.SQLiteRepository, publisher SyncPublisher, logger *log.Logger) *LedgerService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &LedgerService{
		store:     store,
		publisher: publisher,
		resolver:  NewCategoryResolver(store, logger),
		logger:    logger.WithComponent(log.ComponentLedger),
		now:       time.Now,
	}
}

func (s *LedgerService) AddTransaction(ctx context.Context, in TransactionInput) (core.Transaction, error) {
	t, err := s.buildTransaction(ctx, in)
	if err != nil {
		return core.Transaction{}, err
	}
	saved, err := s.store.CreateTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}
	s.logSaved(ctx, log.OpCreate, saved)
	s.publishUpsert(ctx, storage.EntityTransaction, saved.ID)
	return saved, nil
}

func (s *LedgerService) UpdateTransaction(ctx context.Context, id int64, in TransactionInput) (core.Transaction, error) {
	t, err := s.buildTransaction(ctx, in)
	if err != nil {
		return core.Transaction{}, err
	}
	t.ID = id
	saved, err := s.store.UpdateTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	s.logSaved(ctx, log.OpUpdate, saved)
	s.publishUpsert(ctx, storage.EntityTransaction, saved.ID)
	return saved, nil
}

func (s *LedgerService) DeleteTransaction(ctx context.Context, id int64) error {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTransaction(ctx, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	s.publishDelete(ctx, storage.EntityTransaction, t.RemoteID)
	return nil
}

func (s *LedgerService) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// ListTransactions returns transactions newest first; a nil period lists all.
func (s *LedgerService) ListTransactions(ctx context.Context, period *core.Period) ([]core.Transaction, error) {
	return s.store.ListTransactions(ctx, period)
}

func (s *LedgerService) buildTransaction(ctx context.Context, in TransactionInput) (core.Transaction, error) {
	amount, err := core.ParseAmount(in.Amount)
	if err != nil {
		return core.Transaction{}, err
	}
	typ, err := core.ParseTxType(in.Type)
	if err != nil {
		return core.Transaction{}, err
	}
	date := in.Date
	if date.IsZero() {
		date = s.now()
	}

	categoryID := in.CategoryID
	if categoryID == nil {
		categoryID, err = s.resolver.Resolve(ctx, in.CategoryName)
		if err != nil {
			return core.Transaction{}, err
		}
	}

	t := core.Transaction{
		Amount:        amount,
		Date:          core.TruncateMillis(date),
		Note:          strings.TrimSpace(in.Note),
		Type:          typ,
		PaymentMethod: strings.TrimSpace(in.PaymentMethod),
		Tags:          cleanTags(in.Tags),
		CategoryID:    categoryID,
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func (s *LedgerService) ListCategories(ctx context.Context) ([]core.Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *LedgerService) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	c.Name = strings.TrimSpace(c.Name)
	saved, err := s.store.CreateCategory(ctx, c)
	if err != nil {
		return core.Category{}, fmt.Errorf("save category: %w", err)
	}
	s.logger.InfoContext(ctx, "Category created",
		log.FieldCategoryID, saved.ID, log.FieldCategoryName, saved.Name)
	s.publishUpsert(ctx, storage.EntityCategory, saved.ID)
	return saved, nil
}

// UpdateCategory edits a category on behalf of c.Owner. System defaults are
// shared; another user's category is refused.
func (s *LedgerService) UpdateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	current, err := s.store.GetCategory(ctx, c.ID)
	if err != nil {
		return core.Category{}, err
	}
	if !current.Owner.IsSystem() && current.Owner.UserID() != c.Owner.UserID() {
		return core.Category{}, ErrForeignCategory
	}
	c.Name = strings.TrimSpace(c.Name)
	saved, err := s.store.UpdateCategory(ctx, c)
	if err != nil {
		return core.Category{}, fmt.Errorf("update category: %w", err)
	}
	s.publishUpsert(ctx, storage.EntityCategory, saved.ID)
	return saved, nil
}

// DeleteCategory removes one of userID's categories. Its transactions
// become uncategorized and its budget is dropped with it.
func (s *LedgerService) DeleteCategory(ctx context.Context, id int64, userID string) error {
	c, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return err
	}
	if c.Owner.IsSystem() {
		return ErrSystemCategory
	}
	if c.Owner.UserID() != userID {
		return ErrForeignCategory
	}
	var budgetRemoteID string
	if b, err := s.store.GetBudgetByCategory(ctx, id); err == nil {
		budgetRemoteID = b.RemoteID
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	s.logger.InfoContext(ctx, "Category deleted",
		log.FieldCategoryID, id, log.FieldCategoryName, c.Name)
	s.publishDelete(ctx, storage.EntityCategory, c.RemoteID)
	s.publishDelete(ctx, storage.EntityBudget, budgetRemoteID)
	return nil
}

// SeedDefaultCategories creates the system default categories that are
// missing. It returns how many were created and is safe to repeat.
func (s *LedgerService) SeedDefaultCategories(ctx context.Context) (int, error) {
	created := 0
	for _, d := range DefaultCategories {
		_, err := s.store.FindCategoryByName(ctx, d.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return created, err
		}
		c, err := s.store.CreateCategory(ctx, core.Category{
			Name:  d.Name,
			Icon:  d.Icon,
			Color: d.Color,
			Type:  d.Type,
			Owner: core.SystemDefault(),
		})
		if err != nil {
			return created, fmt.Errorf("seed %s: %w", d.Name, err)
		}
		created++
		s.publishUpsert(ctx, storage.EntityCategory, c.ID)
	}
	if created > 0 {
		s.logger.InfoContext(ctx, "Seeded default categories", "count", created)
	}
	return created, nil
}

// SetBudget sets the monthly limit of a category for the current month.
func (s *LedgerService) SetBudget(ctx context.Context, categoryID int64, limit string) (core.Budget, error) {
	if categoryID <= 0 {
		return core.Budget{}, core.ErrEmptyCategory
	}
	amount, err := parseLimit(limit)
	if err != nil {
		return core.Budget{}, err
	}
	if _, err := s.store.GetCategory(ctx, categoryID); err != nil {
		return core.Budget{}, err
	}

	period := core.MonthPeriod(s.now())
	saved, err := s.store.UpsertBudget(ctx, core.Budget{
		CategoryID:  categoryID,
		Limit:       amount,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
	})
	if err != nil {
		return core.Budget{}, fmt.Errorf("save budget: %w", err)
	}
	s.logger.InfoContext(ctx, "Budget set",
		log.FieldCategoryID, categoryID, log.FieldBudgetID, saved.ID, log.FieldAmount, saved.Limit.String())
	s.publishUpsert(ctx, storage.EntityBudget, saved.ID)
	return saved, nil
}

func (s *LedgerService) DeleteBudget(ctx context.Context, categoryID int64) error {
	b, err := s.store.GetBudgetByCategory(ctx, categoryID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteBudget(ctx, categoryID); err != nil {
		return fmt.Errorf("delete budget: %w", err)
	}
	s.publishDelete(ctx, storage.EntityBudget, b.RemoteID)
	return nil
}

// parseLimit accepts zero, unlike transaction amounts.
func parseLimit(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return decimal.Zero, core.ErrEmptyAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, core.ErrInvalidAmount
	}
	if d.IsNegative() {
		return decimal.Zero, core.ErrInvalidLimit
	}
	return d.Round(2), nil
}

// Overview summarizes one calendar month.
func (s *LedgerService) Overview(ctx context.Context, year, month int) (core.MonthOverview, error) {
	if month < 1 || month > 12 {
		return core.MonthOverview{}, ErrInvalidMonth
	}
	loc := s.now().Location()
	period := core.MonthPeriod(time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc))
	return s.store.MonthOverview(ctx, period)
}

func (s *LedgerService) Notifications(ctx context.Context, limit int) ([]core.Notification, error) {
	return s.store.ListNotifications(ctx, limit)
}

func (s *LedgerService) MarkNotificationsRead(ctx context.Context) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx)
}

func (s *LedgerService) UnreadNotifications(ctx context.Context) (int64, error) {
	return s.store.UnreadCount(ctx)
}

func (s *LedgerService) logSaved(ctx context.Context, op string, t core.Transaction) {
	s.logger.InfoContext(ctx, "Transaction saved",
		log.NewFields().
			WithOperation(op).
			WithTransaction(t.ID, core.FormatAmount(t.Amount), string(t.Type), t.CategoryID).
			ToSlice()...)
}

func (s *LedgerService) publishUpsert(ctx context.Context, entity storage.Entity, id int64) {
	s.publish(ctx, amqp.NewUpsertMessage(string(entity), id))
}

// publishDelete is a no-op for rows that were never mirrored.
func (s *LedgerService) publishDelete(ctx context.Context, entity storage.Entity, remoteID string) {
	if remoteID == "" {
		return
	}
	s.publish(ctx, amqp.NewDeleteMessage(string(entity), remoteID))
}

func (s *LedgerService) publish(ctx context.Context, msg *amqp.SyncMessage) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP publisher not available, skipping sync message",
			log.FieldEntity, msg.Entity)
		return
	}
	if err := s.publisher.PublishSync(ctx, msg); err != nil {
		// the row stays pending and is picked up by the outbox sweep
		s.logger.ErrorContext(ctx, "Failed to publish sync message",
			log.FieldEntity, msg.Entity, "op", msg.Op, log.FieldError, err)
	}
}

// Close closes both storage and the publisher when it owns a connection.
func (s *LedgerService) Close() error {
	var errs []error

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if c, ok := s.publisher.(io.Closer); ok && c != nil {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	return errors.Join(errs...)
}
