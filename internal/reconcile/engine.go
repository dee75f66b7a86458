// Package reconcile removes every artifact of an import and detects the two
// drift shapes the data model allows: hanging imports and orphaned data.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"tabimport/internal/domain"
	"tabimport/internal/storage"
)

// ErrNotFound is returned when the import to delete has no metadata.
var ErrNotFound = errors.New("import not found")

// DeleteResult reports how many row documents were actually removed. The
// count may be lower than the metadata's row count when individual deletes
// fail; that is informational, not an error.
type DeleteResult struct {
	DeletedRows int `json:"deletedRows"`
}

// OrphanedDoc is a row or content document whose import metadata is missing.
type OrphanedDoc struct {
	ID           string `json:"id"`
	PartitionKey string `json:"partitionKey"`
	DocType      string `json:"docType"`
}

// Report is the combined read-only reconciliation scan.
type Report struct {
	HangingImports []domain.ImportMetadata `json:"hangingImports"`
	OrphanedDocs   []OrphanedDoc           `json:"orphanedDocs"`
}

// Engine runs deletions and reconciliation scans against the store.
type Engine struct {
	store storage.DocumentStore
}

// NewEngine wires the engine.
func NewEngine(store storage.DocumentStore) *Engine {
	return &Engine{store: store}
}

// DeleteImport cascades over everything keyed to one import: the metadata
// document, legacy untyped content documents in its partition, and every row
// document. Row and content delete failures are logged and skipped.
func (e *Engine) DeleteImport(ctx context.Context, id string) (DeleteResult, error) {
	if domain.HasDoublePrefix(id) {
		log.Printf("[RECONCILE] delete received double-prefixed import id %q; normalizing", id)
	}
	key := domain.ImportKey(id)

	if _, err := e.store.Get(ctx, key, key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return DeleteResult{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return DeleteResult{}, fmt.Errorf("failed to look up import: %w", err)
	}

	if err := e.store.Delete(ctx, key, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return DeleteResult{}, fmt.Errorf("failed to delete import metadata: %w", err)
	}

	// Legacy content documents share the partition but carry no type
	// discriminator. Best-effort cleanup.
	content, err := e.store.Query(ctx, storage.Filter{
		DocType:      storage.DocTypeFilter(""),
		PartitionKey: key,
	})
	if err != nil {
		log.Printf("[RECONCILE] %s: content scan failed, skipping: %v", key, err)
	} else {
		for _, doc := range content {
			if err := e.store.Delete(ctx, doc.ID, doc.PartitionKey); err != nil {
				log.Printf("[RECONCILE] %s: failed to delete content doc %s: %v", key, doc.ID, err)
			}
		}
	}

	rows, err := e.store.Query(ctx, storage.Filter{
		DocType:      storage.DocTypeFilter(domain.DocTypeRow),
		PartitionKey: key,
	})
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to query rows for import: %w", err)
	}

	deleted := 0
	for _, doc := range rows {
		if err := e.store.Delete(ctx, doc.ID, doc.PartitionKey); err != nil {
			log.Printf("[RECONCILE] %s: failed to delete row doc %s: %v", key, doc.ID, err)
			continue
		}
		deleted++
	}

	log.Printf("[RECONCILE] deleted import %s: %d row documents removed", key, deleted)
	return DeleteResult{DeletedRows: deleted}, nil
}

// FindHangingImports returns metadata documents with no row documents
// referencing them. One scan over each collection, then a set difference.
func (e *Engine) FindHangingImports(ctx context.Context) ([]domain.ImportMetadata, error) {
	metas, rows, err := e.scan(ctx)
	if err != nil {
		return nil, err
	}

	referenced := make(map[string]struct{}, len(rows))
	for _, doc := range rows {
		referenced[doc.PartitionKey] = struct{}{}
	}

	hanging := []domain.ImportMetadata{}
	for _, doc := range metas {
		if _, ok := referenced[doc.PartitionKey]; ok {
			continue
		}
		var meta domain.ImportMetadata
		if err := json.Unmarshal(doc.Body, &meta); err != nil {
			log.Printf("[RECONCILE] skipping undecodable metadata %s: %v", doc.ID, err)
			continue
		}
		hanging = append(hanging, meta)
	}
	return hanging, nil
}

// FindOrphanedData returns row and untyped content documents whose partition
// has no metadata document.
func (e *Engine) FindOrphanedData(ctx context.Context) ([]OrphanedDoc, error) {
	metas, rows, err := e.scan(ctx)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(metas))
	for _, doc := range metas {
		known[doc.PartitionKey] = struct{}{}
	}

	orphans := []OrphanedDoc{}
	for _, doc := range rows {
		if _, ok := known[doc.PartitionKey]; ok {
			continue
		}
		orphans = append(orphans, OrphanedDoc{
			ID:           doc.ID,
			PartitionKey: doc.PartitionKey,
			DocType:      doc.DocType,
		})
	}
	return orphans, nil
}

// Run produces the full reconciliation report.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	hanging, err := e.FindHangingImports(ctx)
	if err != nil {
		return Report{}, err
	}
	orphans, err := e.FindOrphanedData(ctx)
	if err != nil {
		return Report{}, err
	}
	return Report{HangingImports: hanging, OrphanedDocs: orphans}, nil
}

// scan fetches the metadata collection and the data collection once each.
// Untyped content documents inside import partitions count as data.
func (e *Engine) scan(ctx context.Context) (metas, data []storage.Document, err error) {
	all, err := e.store.Query(ctx, storage.Filter{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan documents: %w", err)
	}

	for _, doc := range all {
		switch doc.DocType {
		case domain.DocTypeImport:
			metas = append(metas, doc)
		case domain.DocTypeRow:
			data = append(data, doc)
		default:
			if doc.PartitionKey == domain.ImportKey(doc.PartitionKey) {
				data = append(data, doc)
			}
		}
	}
	return metas, data, nil
}
