package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"pesa/internal/remote"
)

// Store is an in-process document store used for local development and
// tests. Documents are copied on the way in and out.
type Store struct {
	mu   sync.Mutex
	docs map[string]map[string]remote.Document
}

var _ remote.DocumentStore = (*Store)(nil)

func New() *Store {
	return &Store{docs: make(map[string]map[string]remote.Document)}
}

// Upsert stores doc, replacing any document with the same id.
func (s *Store) Upsert(_ context.Context, doc remote.Document) error {
	if doc.ID == "" || doc.Collection == "" {
		return fmt.Errorf("document needs an id and a collection")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.docs[doc.Collection]
	if !ok {
		coll = make(map[string]remote.Document)
		s.docs[doc.Collection] = coll
	}
	coll[doc.ID] = clone(doc)
	return nil
}

// Delete is idempotent: removing a missing document is not an error.
func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs[collection], id)
	return nil
}

// List returns the collection ordered by id.
func (s *Store) List(_ context.Context, collection string) ([]remote.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]remote.Document, 0, len(s.docs[collection]))
	for _, d := range s.docs[collection] {
		out = append(out, clone(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns a single document.
func (s *Store) Get(_ context.Context, collection, id string) (remote.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[collection][id]
	if !ok {
		return remote.Document{}, fmt.Errorf("%s/%s: %w", collection, id, remote.ErrDocumentNotFound)
	}
	return clone(d), nil
}

func clone(d remote.Document) remote.Document {
	fields := make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	d.Fields = fields
	return d
}
