// memstore.go - in-memory document and blob stores for testing
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tabimport/internal/storage"
)

// MemStore implements storage.DocumentStore in memory. FailUpsert and
// FailDelete allow tests to inject per-document failures.
type MemStore struct {
	mu   sync.Mutex
	docs map[string]storage.Document

	FailUpsert func(doc storage.Document) error
	FailDelete func(id string) error

	UpsertCalls int
	LastQuery   storage.Filter
}

// NewMemStore creates an empty in-memory document store.
func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string]storage.Document)}
}

func (m *MemStore) Upsert(ctx context.Context, doc storage.Document) (storage.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpsertCalls++
	if m.FailUpsert != nil {
		if err := m.FailUpsert(doc); err != nil {
			return storage.Document{}, err
		}
	}

	now := time.Now()
	if existing, ok := m.docs[doc.ID]; ok {
		doc.CreatedAt = existing.CreatedAt
	} else {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	m.docs[doc.ID] = doc
	return doc, nil
}

func (m *MemStore) Get(ctx context.Context, id, partitionKey string) (storage.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok || doc.PartitionKey != partitionKey {
		return storage.Document{}, storage.ErrNotFound
	}
	return doc, nil
}

func (m *MemStore) Query(ctx context.Context, filter storage.Filter) ([]storage.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastQuery = filter
	matched := []storage.Document{}
	for _, doc := range m.docs {
		if filter.DocType != nil && doc.DocType != *filter.DocType {
			continue
		}
		if filter.PartitionKey != "" && doc.PartitionKey != filter.PartitionKey {
			continue
		}
		matched = append(matched, doc)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []storage.Document{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (m *MemStore) Count(ctx context.Context, filter storage.Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, doc := range m.docs {
		if filter.DocType != nil && doc.DocType != *filter.DocType {
			continue
		}
		if filter.PartitionKey != "" && doc.PartitionKey != filter.PartitionKey {
			continue
		}
		count++
	}
	return count, nil
}

func (m *MemStore) Delete(ctx context.Context, id, partitionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailDelete != nil {
		if err := m.FailDelete(id); err != nil {
			return err
		}
	}

	doc, ok := m.docs[id]
	if !ok || doc.PartitionKey != partitionKey {
		return storage.ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

// Len returns the number of stored documents.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// MemBlob implements storage.BlobStore in memory.
type MemBlob struct {
	mu      sync.Mutex
	Err     error
	Uploads []string
}

// NewMemBlob creates an in-memory blob store.
func NewMemBlob() *MemBlob {
	return &MemBlob{}
}

func (b *MemBlob) Upload(ctx context.Context, data []byte, fileName, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Err != nil {
		return "", b.Err
	}
	b.Uploads = append(b.Uploads, fileName)
	return fmt.Sprintf("memblob://%s", fileName), nil
}

var _ storage.DocumentStore = (*MemStore)(nil)
var _ storage.BlobStore = (*MemBlob)(nil)
