package google_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"pesa/internal/core"
	"pesa/internal/remote"
	"pesa/internal/remote/google"
	"pesa/internal/services"
	"pesa/internal/storage"
)

func newSheetsSync(t *testing.T) (*services.SyncProcessor, *storage.SQLiteRepository, *google.Client, func(row, col int, v any)) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "pesa.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	client, fake := google.NewFakeClient(t)
	setCategoryCell := func(row, col int, v any) { fake.SetCell(remote.CollectionCategories, row, col, v) }
	return services.NewSyncProcessor(repo, client, services.DefaultSyncProcessorConfig(), nil), repo, client, setCategoryCell
}

func pushedCategory(t *testing.T, p *services.SyncProcessor, repo *storage.SQLiteRepository, name string) core.Category {
	t.Helper()
	ctx := context.Background()
	c, err := repo.CreateCategory(ctx, core.Category{Name: name, Type: core.Expense})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.PushEntity(ctx, storage.EntityCategory, c.ID); err != nil {
		t.Fatalf("PushEntity: %v", err)
	}
	c, err = repo.GetCategory(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSheetsPull_MalformedRowKeepsLocalCategory(t *testing.T) {
	p, repo, _, setCell := newSheetsSync(t)
	ctx := context.Background()
	c := pushedCategory(t, p, repo, "Transport")

	// header is row 1; updated_at is the second column
	setCell(2, 1, "not-a-number")

	res, err := p.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if res.Deleted != 0 || res.Skipped != 1 {
		t.Errorf("result = %+v", res)
	}
	if _, err := repo.GetCategory(ctx, c.ID); err != nil {
		t.Errorf("local category removed: %v", err)
	}
}

func TestSheetsPull_RemovesCategoryDeletedRemotely(t *testing.T) {
	p, repo, client, _ := newSheetsSync(t)
	ctx := context.Background()
	gone := pushedCategory(t, p, repo, "Gym")
	kept := pushedCategory(t, p, repo, "Rent")

	if err := client.Delete(ctx, remote.CollectionCategories, gone.RemoteID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	res, err := p.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if res.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", res.Deleted)
	}
	if _, err := repo.GetCategory(ctx, gone.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deleted category still local, err = %v", err)
	}
	if _, err := repo.GetCategory(ctx, kept.ID); err != nil {
		t.Errorf("kept category lost: %v", err)
	}
}
