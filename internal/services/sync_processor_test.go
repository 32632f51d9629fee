package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pesa/internal/core"
	"pesa/internal/remote"
	"pesa/internal/remote/memory"
	"pesa/internal/storage"
)

func TestNewSyncProcessor(t *testing.T) {
	config := DefaultSyncProcessorConfig()
	processor := NewSyncProcessor(nil, nil, config, nil)

	if processor == nil {
		t.Fatal("NewSyncProcessor should return non-nil processor")
	}
	if processor.storage != nil {
		t.Error("storage should be nil when passed nil")
	}
	if processor.docs != nil {
		t.Error("docs should be nil when passed nil")
	}
}

func TestDefaultSyncProcessorConfig(t *testing.T) {
	config := DefaultSyncProcessorConfig()

	if config.PollInterval != 10*time.Second {
		t.Errorf("expected PollInterval 10s, got %v", config.PollInterval)
	}
	if config.PullInterval != 5*time.Minute {
		t.Errorf("expected PullInterval 5m, got %v", config.PullInterval)
	}
	if config.BatchSize != 10 {
		t.Errorf("expected BatchSize 10, got %d", config.BatchSize)
	}
}

func TestSyncProcessor_IsRunning(t *testing.T) {
	processor := NewSyncProcessor(nil, nil, DefaultSyncProcessorConfig(), nil)

	if processor.IsRunning() {
		t.Error("processor should not be running initially")
	}
}

func TestSyncProcessor_StartTwice(t *testing.T) {
	processor := NewSyncProcessor(nil, nil, DefaultSyncProcessorConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processor.mu.Lock()
	processor.running = true
	processor.mu.Unlock()

	if err := processor.Start(ctx); err == nil {
		t.Error("expected error when starting already running processor")
	}
}

func TestSyncProcessor_StopNotRunning(t *testing.T) {
	processor := NewSyncProcessor(nil, nil, DefaultSyncProcessorConfig(), nil)

	if err := processor.Stop(context.Background()); err != nil {
		t.Errorf("Stop should not error when not running: %v", err)
	}
}

func TestSyncProcessor_StartStop(t *testing.T) {
	repo := newTestStore(t)
	config := DefaultSyncProcessorConfig()
	config.PollInterval = 20 * time.Millisecond
	processor := NewSyncProcessor(repo, memory.New(), config, nil)

	ctx := context.Background()
	if err := processor.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !processor.IsRunning() {
		t.Error("processor should be running")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := processor.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if processor.IsRunning() {
		t.Error("processor should be stopped")
	}
}

// failingStore rejects every write.
type failingStore struct{ *memory.Store }

func (failingStore) Upsert(context.Context, remote.Document) error {
	return errors.New("quota exceeded")
}

func newSyncFixture(t *testing.T) (*SyncProcessor, *storage.SQLiteRepository, *memory.Store) {
	t.Helper()
	repo := newTestStore(t)
	docs := memory.New()
	return NewSyncProcessor(repo, docs, DefaultSyncProcessorConfig(), nil), repo, docs
}

func TestPushPending_MirrorsRowsWithReferences(t *testing.T) {
	p, repo, docs := newSyncFixture(t)
	ctx := context.Background()

	c, err := repo.CreateCategory(ctx, core.Category{Name: "Food", Type: core.Expense})
	if err != nil {
		t.Fatal(err)
	}
	tx, err := repo.CreateTransaction(ctx, core.Transaction{
		Amount: mustDecimal("250"), Date: time.Now(), Type: core.Expense, CategoryID: &c.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	period := core.MonthPeriod(time.Now())
	if _, err := repo.UpsertBudget(ctx, core.Budget{CategoryID: c.ID, Limit: mustDecimal("1000"), PeriodStart: period.Start, PeriodEnd: period.End}); err != nil {
		t.Fatal(err)
	}

	n, err := p.PushPending(ctx)
	if err != nil {
		t.Fatalf("PushPending: %v", err)
	}
	if n != 3 {
		t.Errorf("pushed %d, want 3", n)
	}

	c, _ = repo.GetCategory(ctx, c.ID)
	tx, _ = repo.GetTransaction(ctx, tx.ID)
	doc, err := docs.Get(ctx, remote.CollectionTransactions, tx.RemoteID)
	if err != nil {
		t.Fatalf("transaction document missing: %v", err)
	}
	if doc.Fields[remote.FieldCategoryID] != c.RemoteID {
		t.Errorf("category reference = %v, want %s", doc.Fields[remote.FieldCategoryID], c.RemoteID)
	}

	for _, e := range storage.Entities {
		if ids, _ := repo.PendingSync(ctx, e, 10); len(ids) != 0 {
			t.Errorf("%s still pending: %v", e, ids)
		}
	}
}

func TestPushEntity_FailureMarksError(t *testing.T) {
	repo := newTestStore(t)
	p := NewSyncProcessor(repo, failingStore{memory.New()}, DefaultSyncProcessorConfig(), nil)
	ctx := context.Background()

	c, err := repo.CreateCategory(ctx, core.Category{Name: "Food", Type: core.Expense})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.PushEntity(ctx, storage.EntityCategory, c.ID); err == nil {
		t.Fatal("expected push error")
	}
	counts, _ := repo.SyncCounts(ctx)
	if counts[storage.EntityCategory][storage.SyncError] != 1 {
		t.Errorf("counts = %v", counts)
	}
	// error rows are retried by the sweep
	if ids, _ := repo.PendingSync(ctx, storage.EntityCategory, 10); len(ids) != 1 {
		t.Errorf("PendingSync = %v", ids)
	}
}

func TestPushEntity_DeletedRowIsNotAnError(t *testing.T) {
	p, _, _ := newSyncFixture(t)
	if err := p.PushEntity(context.Background(), storage.EntityTransaction, 42); err != nil {
		t.Errorf("PushEntity on a missing row: %v", err)
	}
}

func TestPushPending_PropagatesDeletes(t *testing.T) {
	p, repo, docs := newSyncFixture(t)
	ctx := context.Background()

	c, _ := repo.CreateCategory(ctx, core.Category{Name: "Rent", Type: core.Expense})
	if _, err := p.PushPending(ctx); err != nil {
		t.Fatal(err)
	}
	c, _ = repo.GetCategory(ctx, c.ID)

	if err := repo.DeleteCategory(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := p.PushPending(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := docs.Get(ctx, remote.CollectionCategories, c.RemoteID); !errors.Is(err, remote.ErrDocumentNotFound) {
		t.Errorf("remote copy should be gone, err = %v", err)
	}
	if stones, _ := repo.ListTombstones(ctx, 10); len(stones) != 0 {
		t.Errorf("tombstones left: %v", stones)
	}
}

func TestPull_AppliesRemoteDocuments(t *testing.T) {
	p, repo, docs := newSyncFixture(t)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Millisecond)

	cat := core.Category{RemoteID: "c-remote", Name: "Fuel", Type: core.Expense, UpdatedAt: at}
	tx := core.Transaction{RemoteID: "t-remote", Amount: mustDecimal("3000"), Date: at, Type: core.Expense, UpdatedAt: at}
	period := core.MonthPeriod(at)
	budget := core.Budget{RemoteID: "b-remote", Limit: mustDecimal("9000"), PeriodStart: period.Start, PeriodEnd: period.End, UpdatedAt: at}

	for _, d := range []remote.Document{
		remote.CategoryDocument(cat),
		remote.TransactionDocument(tx, "c-remote"),
		remote.BudgetDocument(budget, "c-remote"),
		remote.BudgetDocument(core.Budget{RemoteID: "b-orphan", Limit: mustDecimal("1"), UpdatedAt: at}, "c-unknown"),
		{ID: "t-broken", Collection: remote.CollectionTransactions, Fields: map[string]any{remote.FieldNote: "no amount"}, UpdatedAt: at},
	} {
		if err := docs.Upsert(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	res, err := p.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if res.Applied != 3 || res.Skipped != 2 {
		t.Errorf("result = %+v", res)
	}

	local, err := repo.GetTransactionByRemoteID(ctx, "t-remote")
	if err != nil {
		t.Fatal(err)
	}
	if local.CategoryName != "Fuel" {
		t.Errorf("category reference not resolved: %+v", local)
	}
	localCat, _ := repo.GetCategoryByRemoteID(ctx, "c-remote")
	if _, err := repo.GetBudgetByCategory(ctx, localCat.ID); err != nil {
		t.Errorf("budget not applied: %v", err)
	}

	// a second pull changes nothing
	res, err = p.Pull(ctx)
	if err != nil || res.Applied != 0 {
		t.Errorf("second pull = %+v, %v", res, err)
	}
}

func TestPull_RemovesRowsDeletedRemotely(t *testing.T) {
	p, repo, docs := newSyncFixture(t)
	ctx := context.Background()

	c, _ := repo.CreateCategory(ctx, core.Category{Name: "Gym", Type: core.Expense})
	if _, err := p.PushPending(ctx); err != nil {
		t.Fatal(err)
	}
	c, _ = repo.GetCategory(ctx, c.ID)
	if err := docs.Delete(ctx, remote.CollectionCategories, c.RemoteID); err != nil {
		t.Fatal(err)
	}

	res, err := p.Pull(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", res.Deleted)
	}
	if _, err := repo.GetCategory(ctx, c.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("local row should be gone, err = %v", err)
	}
}

// listHookStore runs onList once, when the named collection is first listed.
type listHookStore struct {
	*memory.Store
	collection string
	once       sync.Once
	onList     func()
}

func (s *listHookStore) List(ctx context.Context, collection string) ([]remote.Document, error) {
	if collection == s.collection {
		s.once.Do(s.onList)
	}
	return s.Store.List(ctx, collection)
}

func TestPull_KeepsRowPushedDuringListing(t *testing.T) {
	repo := newTestStore(t)
	docs := &listHookStore{Store: memory.New(), collection: remote.CollectionTransactions}
	p := NewSyncProcessor(repo, docs, DefaultSyncProcessorConfig(), nil)
	ctx := context.Background()

	var (
		txID    int64
		pushErr error
	)
	pushed := make(chan struct{})
	docs.onList = func() {
		tx, err := repo.CreateTransaction(ctx, core.Transaction{Amount: mustDecimal("120"), Date: time.Now(), Type: core.Expense})
		if err != nil {
			t.Errorf("CreateTransaction: %v", err)
			close(pushed)
			return
		}
		txID = tx.ID
		go func() {
			defer close(pushed)
			pushErr = p.PushEntity(ctx, storage.EntityTransaction, tx.ID)
		}()
		// give a racing push time to land before the listing returns
		select {
		case <-pushed:
		case <-time.After(50 * time.Millisecond):
		}
	}

	res, err := p.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	<-pushed
	if pushErr != nil {
		t.Fatalf("PushEntity: %v", pushErr)
	}
	if res.Deleted != 0 {
		t.Errorf("pull deleted %d rows", res.Deleted)
	}

	tx, err := repo.GetTransaction(ctx, txID)
	if err != nil {
		t.Fatalf("transaction lost: %v", err)
	}
	if _, err := docs.Get(ctx, remote.CollectionTransactions, tx.RemoteID); err != nil {
		t.Errorf("transaction not mirrored after pull: %v", err)
	}

	// the next pull sees it remotely and keeps it
	res, err = p.Pull(ctx)
	if err != nil || res.Deleted != 0 {
		t.Errorf("second pull = %+v, %v", res, err)
	}
}

func TestPull_KeepsRowsWithUnreadableRemoteCopy(t *testing.T) {
	p, repo, docs := newSyncFixture(t)
	ctx := context.Background()

	c, _ := repo.CreateCategory(ctx, core.Category{Name: "School", Type: core.Expense})
	if _, err := p.PushPending(ctx); err != nil {
		t.Fatal(err)
	}
	c, _ = repo.GetCategory(ctx, c.ID)

	// the row is still there but its fields no longer parse
	if err := docs.Upsert(ctx, remote.Document{ID: c.RemoteID, Collection: remote.CollectionCategories, UpdatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	res, err := p.Pull(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Deleted != 0 || res.Skipped != 1 {
		t.Errorf("result = %+v", res)
	}
	if got, err := repo.GetCategory(ctx, c.ID); err != nil || got.Name != "School" {
		t.Errorf("local category changed: %+v, %v", got, err)
	}
}

func TestSyncProcessor_Stats(t *testing.T) {
	p, repo, _ := newSyncFixture(t)
	ctx := context.Background()
	if _, err := repo.CreateCategory(ctx, core.Category{Name: "Food", Type: core.Expense}); err != nil {
		t.Fatal(err)
	}
	stats, err := p.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats[storage.EntityCategory][storage.SyncPending] != 1 {
		t.Errorf("stats = %v", stats)
	}
}

func mustDecimal(s string) decimal.Decimal { return decimal.RequireFromString(s) }
