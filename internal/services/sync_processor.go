package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pesa/internal/core"
	"pesa/internal/log"
	"pesa/internal/remote"
	"pesa/internal/storage"
)

// SyncProcessorConfig holds configuration for the sync processor
type SyncProcessorConfig struct {
	// PollInterval is how often pending rows and tombstones are swept (default: 10s)
	PollInterval time.Duration

	// PullInterval is how often the remote mirror is read back (default: 5m)
	PullInterval time.Duration

	// BatchSize is the max number of rows per entity per sweep (default: 10)
	BatchSize int
}

// DefaultSyncProcessorConfig returns sensible defaults
func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval: 10 * time.Second,
		PullInterval: 5 * time.Minute,
		BatchSize:    10,
	}
}

// PullResult counts what one pull changed locally.
type PullResult struct {
	Applied int
	Skipped int
	Deleted int
}

// SyncProcessor mirrors the SQLite store to a remote document store and
// reads remote changes back, last write wins.
type SyncProcessor struct {
	storage *storage.SQLiteRepository
	docs    remote.DocumentStore
	config  SyncProcessorConfig
	logger  *log.Logger

	// syncMu keeps pushes out of a pull, so a row synced after the remote
	// listing is never mistaken for a remote delete.
	syncMu sync.Mutex

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSyncProcessor creates a new sync processor
func NewSyncProcessor(
	storage *storage.SQLiteRepository,
	docs remote.DocumentStore,
	config SyncProcessorConfig,
	logger *log.Logger,
) *SyncProcessor {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &SyncProcessor{
		storage: storage,
		docs:    docs,
		config:  config,
		logger:  logger.WithComponent(log.ComponentSync),
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"pull_interval", p.config.PullInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	// Signal stop
	close(p.stopCh)

	// Wait for completion or context cancellation
	select {
	case <-p.doneCh:
		p.logger.InfoContext(ctx, "Sync processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// runLoop is the main processing loop
func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	pullTicker := time.NewTicker(p.config.PullInterval)
	defer pullTicker.Stop()

	// Process immediately on startup
	p.sweep(ctx)
	p.pull(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.sweep(ctx)
		case <-pullTicker.C:
			p.pull(ctx)
		}
	}
}

func (p *SyncProcessor) sweep(ctx context.Context) {
	if n, err := p.PushPending(ctx); err != nil {
		p.logger.ErrorContext(ctx, "Sync sweep finished with errors", "pushed", n, log.FieldError, err)
	} else if n > 0 {
		p.logger.DebugContext(ctx, "Sync sweep finished", "pushed", n)
	}
}

func (p *SyncProcessor) pull(ctx context.Context) {
	res, err := p.Pull(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Remote pull failed", log.FieldError, err)
		return
	}
	if res.Applied+res.Deleted > 0 {
		p.logger.InfoContext(ctx, "Remote changes applied",
			"applied", res.Applied, "skipped", res.Skipped, "deleted", res.Deleted)
	}
}

func collectionFor(e storage.Entity) (string, error) {
	switch e {
	case storage.EntityCategory:
		return remote.CollectionCategories, nil
	case storage.EntityTransaction:
		return remote.CollectionTransactions, nil
	case storage.EntityBudget:
		return remote.CollectionBudgets, nil
	}
	return "", fmt.Errorf("unknown entity %q", string(e))
}

// PushEntity mirrors one local row. A row deleted in the meantime is not an
// error; its tombstone takes care of the remote copy.
func (p *SyncProcessor) PushEntity(ctx context.Context, entity storage.Entity, id int64) error {
	p.syncMu.Lock()
	defer p.syncMu.Unlock()

	doc, err := p.document(ctx, entity, id)
	if errors.Is(err, storage.ErrNotFound) {
		p.logger.DebugContext(ctx, "Row gone before push", log.FieldEntity, entity, "id", id)
		return nil
	}
	if err != nil {
		return err
	}

	if err := p.docs.Upsert(ctx, doc); err != nil {
		if markErr := p.storage.MarkSyncError(ctx, entity, id); markErr != nil {
			p.logger.ErrorContext(ctx, "Failed to mark sync error",
				log.FieldEntity, entity, "id", id, log.FieldError, markErr)
		}
		return fmt.Errorf("push %s %d: %w", entity, id, err)
	}

	marked, err := p.storage.MarkSynced(ctx, entity, id, doc.UpdatedAt)
	if err != nil {
		// the push itself succeeded; the next sweep repeats it harmlessly
		p.logger.WarnContext(ctx, "Failed to mark row synced",
			log.FieldEntity, entity, "id", id, log.FieldError, err)
		return nil
	}
	p.logger.InfoContext(ctx, "Pushed to remote",
		log.NewFields().WithSync(string(entity), id, doc.ID).ToSlice()...)
	if !marked {
		p.logger.DebugContext(ctx, "Row changed during push, left pending", log.FieldEntity, entity, "id", id)
	}
	return nil
}

// document reads a row and renders it, allocating remote ids as needed.
func (p *SyncProcessor) document(ctx context.Context, entity storage.Entity, id int64) (remote.Document, error) {
	switch entity {
	case storage.EntityCategory:
		c, err := p.storage.GetCategory(ctx, id)
		if err != nil {
			return remote.Document{}, err
		}
		if c.RemoteID, err = p.storage.EnsureRemoteID(ctx, entity, id); err != nil {
			return remote.Document{}, err
		}
		return remote.CategoryDocument(c), nil

	case storage.EntityTransaction:
		t, err := p.storage.GetTransaction(ctx, id)
		if err != nil {
			return remote.Document{}, err
		}
		if t.RemoteID, err = p.storage.EnsureRemoteID(ctx, entity, id); err != nil {
			return remote.Document{}, err
		}
		var categoryRemoteID string
		if t.CategoryID != nil {
			categoryRemoteID, err = p.storage.EnsureRemoteID(ctx, storage.EntityCategory, *t.CategoryID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return remote.Document{}, err
			}
		}
		return remote.TransactionDocument(t, categoryRemoteID), nil

	case storage.EntityBudget:
		b, err := p.storage.GetBudget(ctx, id)
		if err != nil {
			return remote.Document{}, err
		}
		if b.RemoteID, err = p.storage.EnsureRemoteID(ctx, entity, id); err != nil {
			return remote.Document{}, err
		}
		categoryRemoteID, err := p.storage.EnsureRemoteID(ctx, storage.EntityCategory, b.CategoryID)
		if err != nil {
			return remote.Document{}, err
		}
		return remote.BudgetDocument(b, categoryRemoteID), nil
	}
	return remote.Document{}, fmt.Errorf("unknown entity %q", string(entity))
}

// PushDelete removes a remote copy and clears its tombstone.
func (p *SyncProcessor) PushDelete(ctx context.Context, entity storage.Entity, remoteID string) error {
	collection, err := collectionFor(entity)
	if err != nil {
		return err
	}

	p.syncMu.Lock()
	defer p.syncMu.Unlock()

	if err := p.docs.Delete(ctx, collection, remoteID); err != nil {
		return fmt.Errorf("delete remote %s %s: %w", entity, remoteID, err)
	}
	if err := p.storage.ClearTombstone(ctx, remoteID); err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "Deleted from remote", log.FieldEntity, entity, log.FieldRemoteID, remoteID)
	return nil
}

// PushPending sweeps rows not yet mirrored, parents first, then pending
// deletes. Failures are collected and the sweep carries on.
func (p *SyncProcessor) PushPending(ctx context.Context) (int, error) {
	var (
		pushed int
		errs   []error
	)
	for _, entity := range storage.Entities {
		ids, err := p.storage.PendingSync(ctx, entity, p.config.BatchSize)
		if err != nil {
			return pushed, err
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				return pushed, ctx.Err()
			}
			if err := p.PushEntity(ctx, entity, id); err != nil {
				errs = append(errs, err)
				continue
			}
			pushed++
		}
	}

	stones, err := p.storage.ListTombstones(ctx, p.config.BatchSize)
	if err != nil {
		return pushed, err
	}
	for _, t := range stones {
		if err := p.PushDelete(ctx, t.Entity, t.RemoteID); err != nil {
			errs = append(errs, err)
			continue
		}
		pushed++
	}
	return pushed, errors.Join(errs...)
}

// Pull reads every remote collection and merges it into the local store.
// Categories go first so references from transactions and budgets resolve.
// Malformed documents are skipped; synced local rows missing remotely are
// deleted. Pushes wait until the pull is done.
func (p *SyncProcessor) Pull(ctx context.Context) (PullResult, error) {
	var res PullResult

	p.syncMu.Lock()
	defer p.syncMu.Unlock()

	// Collections are listed concurrently but applied in dependency order.
	listed := make([][]remote.Document, len(storage.Entities))
	g, gctx := errgroup.WithContext(ctx)
	for i, entity := range storage.Entities {
		collection, _ := collectionFor(entity)
		g.Go(func() error {
			docs, err := p.docs.List(gctx, collection)
			if err != nil {
				return fmt.Errorf("list %s: %w", collection, err)
			}
			listed[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	for i, entity := range storage.Entities {
		present := make(map[string]struct{}, len(listed[i]))
		for _, doc := range listed[i] {
			present[doc.ID] = struct{}{}
			applied, err := p.applyDocument(ctx, entity, doc)
			if err != nil {
				return res, err
			}
			if applied {
				res.Applied++
			} else {
				res.Skipped++
			}
		}

		deleted, err := p.dropMissing(ctx, entity, present)
		res.Deleted += deleted
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (p *SyncProcessor) applyDocument(ctx context.Context, entity storage.Entity, doc remote.Document) (bool, error) {
	switch entity {
	case storage.EntityCategory:
		c, ok := remote.CategoryFromDocument(doc)
		if !ok {
			p.skip(ctx, doc)
			return false, nil
		}
		return p.apply(ctx, doc, func() (bool, error) { return p.storage.ApplyRemoteCategory(ctx, c) })

	case storage.EntityTransaction:
		rt, ok := remote.TransactionFromDocument(doc)
		if !ok {
			p.skip(ctx, doc)
			return false, nil
		}
		t := rt.Transaction
		id, err := p.localCategory(ctx, rt.CategoryRemoteID)
		if err != nil {
			return false, err
		}
		t.CategoryID = id
		return p.apply(ctx, doc, func() (bool, error) { return p.storage.ApplyRemoteTransaction(ctx, t) })

	case storage.EntityBudget:
		rb, ok := remote.BudgetFromDocument(doc)
		if !ok {
			p.skip(ctx, doc)
			return false, nil
		}
		id, err := p.localCategory(ctx, rb.CategoryRemoteID)
		if err != nil {
			return false, err
		}
		if id == nil {
			p.logger.WarnContext(ctx, "Remote budget references unknown category",
				log.FieldRemoteID, doc.ID, "category_remote_id", rb.CategoryRemoteID)
			return false, nil
		}
		b := rb.Budget
		b.CategoryID = *id
		if b.PeriodStart.IsZero() {
			period := core.MonthPeriod(time.Now())
			b.PeriodStart, b.PeriodEnd = period.Start, period.End
		}
		return p.apply(ctx, doc, func() (bool, error) { return p.storage.ApplyRemoteBudget(ctx, b) })
	}
	return false, fmt.Errorf("unknown entity %q", string(entity))
}

// apply treats validation failures as a skipped record; anything else
// aborts the pull.
func (p *SyncProcessor) apply(ctx context.Context, doc remote.Document, fn func() (bool, error)) (bool, error) {
	applied, err := fn()
	if err == nil {
		return applied, nil
	}
	if core.IsValidation(err) {
		p.logger.WarnContext(ctx, "Remote document rejected",
			"collection", doc.Collection, log.FieldRemoteID, doc.ID, log.FieldError, err)
		return false, nil
	}
	return false, fmt.Errorf("apply %s %s: %w", doc.Collection, doc.ID, err)
}

func (p *SyncProcessor) skip(ctx context.Context, doc remote.Document) {
	p.logger.WarnContext(ctx, "Skipping incomplete remote document",
		"collection", doc.Collection, log.FieldRemoteID, doc.ID)
}

// localCategory maps a category remote id to the local id, nil when empty
// or unknown.
func (p *SyncProcessor) localCategory(ctx context.Context, remoteID string) (*int64, error) {
	if remoteID == "" {
		return nil, nil
	}
	c, err := p.storage.GetCategoryByRemoteID(ctx, remoteID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id := c.ID
	return &id, nil
}

func (p *SyncProcessor) dropMissing(ctx context.Context, entity storage.Entity, present map[string]struct{}) (int, error) {
	synced, err := p.storage.SyncedRemoteIDs(ctx, entity)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, remoteID := range synced {
		if _, ok := present[remoteID]; ok {
			continue
		}
		if err := p.storage.DeleteByRemoteID(ctx, entity, remoteID); err != nil {
			return deleted, err
		}
		deleted++
		p.logger.InfoContext(ctx, "Removed locally after remote delete",
			log.FieldEntity, entity, log.FieldRemoteID, remoteID)
	}
	return deleted, nil
}

// Stats returns sync status counts per entity
func (p *SyncProcessor) Stats(ctx context.Context) (map[storage.Entity]map[string]int64, error) {
	return p.storage.SyncCounts(ctx)
}
