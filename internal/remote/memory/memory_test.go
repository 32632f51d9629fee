package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"pesa/internal/remote"
)

func TestStore_UpsertListDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	doc := remote.Document{
		ID:         "b",
		Collection: remote.CollectionCategories,
		Fields:     map[string]any{remote.FieldName: "Food"},
		UpdatedAt:  time.Now(),
	}
	if err := s.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	doc.ID = "a"
	if err := s.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	docs, err := s.List(ctx, remote.CollectionCategories)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "a" {
		t.Fatalf("List = %+v", docs)
	}

	// callers must not be able to mutate stored documents
	docs[0].Fields[remote.FieldName] = "Changed"
	got, _ := s.Get(ctx, remote.CollectionCategories, "a")
	if got.Fields[remote.FieldName] != "Food" {
		t.Errorf("stored document mutated: %v", got.Fields)
	}

	if err := s.Delete(ctx, remote.CollectionCategories, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, remote.CollectionCategories, "a"); err != nil {
		t.Errorf("second Delete should be a no-op: %v", err)
	}
	if _, err := s.Get(ctx, remote.CollectionCategories, "a"); !errors.Is(err, remote.ErrDocumentNotFound) {
		t.Errorf("Get deleted = %v", err)
	}
}

func TestStore_RejectsIncompleteDocuments(t *testing.T) {
	s := New()
	if err := s.Upsert(context.Background(), remote.Document{Collection: "x"}); err == nil {
		t.Error("expected error for missing id")
	}
	if err := s.Upsert(context.Background(), remote.Document{ID: "x"}); err == nil {
		t.Error("expected error for missing collection")
	}
}

func TestStore_EmptyCollection(t *testing.T) {
	docs, err := New().List(context.Background(), remote.CollectionBudgets)
	if err != nil || len(docs) != 0 {
		t.Errorf("List = %v, %v", docs, err)
	}
}
