// Package remote mirrors local records to a document store shared between
// devices. The local SQLite store stays the source of truth; the mirror is
// reconciled last-write-wins.
package remote

import (
	"context"
	"errors"
	"time"
)

// Collection names, one per mirrored entity.
const (
	CollectionCategories   = "categories"
	CollectionTransactions = "transactions"
	CollectionBudgets      = "budgets"
)

var ErrDocumentNotFound = errors.New("document not found")

// Document is one mirrored record. Fields hold plain JSON-compatible values.
// Listers return unreadable records with their ID and nil Fields; mapping
// rejects them, and the ID still counts as present remotely.
type Document struct {
	ID         string
	Collection string
	Fields     map[string]any
	UpdatedAt  time.Time
}

// Ports for outbound adapters.
type (
	DocumentWriter interface {
		Upsert(ctx context.Context, doc Document) error
		Delete(ctx context.Context, collection, id string) error
	}

	DocumentLister interface {
		List(ctx context.Context, collection string) ([]Document, error)
	}

	DocumentStore interface {
		DocumentWriter
		DocumentLister
	}
)
