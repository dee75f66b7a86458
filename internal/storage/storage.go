// Package storage defines the ports the ingestion pipeline consumes: a
// document store for metadata and row documents, and a blob store for the
// original uploads.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is one stored record. Metadata and rows belonging to the same
// import share a partition key so cascading operations can scan one partition.
type Document struct {
	ID           string          `json:"id"`
	PartitionKey string          `json:"partitionKey"`
	DocType      string          `json:"docType"`
	Body         json.RawMessage `json:"body"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Filter selects documents. A nil DocType matches any type; a non-nil empty
// DocType matches only legacy untyped documents.
type Filter struct {
	DocType      *string
	PartitionKey string
	Limit        int
	Offset       int
}

// DocTypeFilter is a convenience for building a Filter on one document type.
func DocTypeFilter(docType string) *string {
	return &docType
}

// DocumentStore is the row/metadata store port. Upsert is idempotent by id:
// writing the same id twice converges on one record. Count ignores the
// filter's Limit and Offset.
type DocumentStore interface {
	Upsert(ctx context.Context, doc Document) (Document, error)
	Get(ctx context.Context, id, partitionKey string) (Document, error)
	Query(ctx context.Context, filter Filter) ([]Document, error)
	Count(ctx context.Context, filter Filter) (int, error)
	Delete(ctx context.Context, id, partitionKey string) error
}

// BlobStore stores the original uploaded bytes and returns a stable URL.
type BlobStore interface {
	Upload(ctx context.Context, data []byte, fileName, contentType string) (string, error)
}
