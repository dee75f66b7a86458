// Package importer owns the import lifecycle: metadata creation, blob
// upload, parsing, inference, batch persistence, and final status.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"tabimport/internal/domain"
	"tabimport/internal/persist"
	"tabimport/internal/storage"
	"tabimport/internal/tabular"
)

// ErrNotFound is returned when an import does not exist.
var ErrNotFound = errors.New("import not found")

// maxStoredErrors bounds the error list carried on a metadata document.
const maxStoredErrors = 100

// StartRequest describes one file to import. FilePath points at a temporary
// copy of the upload owned by the service for the duration of the import.
type StartRequest struct {
	FilePath  string
	FileName  string
	FileType  string
	FileSize  int64
	UserID    string
	UserName  string
	UserEmail string
}

// ListOptions pages and filters the import listing.
type ListOptions struct {
	Limit  int
	Offset int
	Status domain.ImportStatus
}

// Service orchestrates imports against the storage ports.
type Service struct {
	store  storage.DocumentStore
	blobs  storage.BlobStore
	engine *persist.Engine

	wg sync.WaitGroup
}

// NewService wires the orchestrator.
func NewService(store storage.DocumentStore, blobs storage.BlobStore, engine *persist.Engine) *Service {
	return &Service{store: store, blobs: blobs, engine: engine}
}

// StartImport creates the metadata record in the processing state and runs
// the rest of the pipeline detached. Callers poll GetImport for completion.
func (s *Service) StartImport(ctx context.Context, req StartRequest) (domain.ImportMetadata, error) {
	meta, err := s.begin(ctx, req)
	if err != nil {
		s.removeSource(req.FilePath)
		return domain.ImportMetadata{}, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Detached from the request context: an import runs to a terminal
		// state once started.
		s.finish(context.Background(), meta, req)
	}()

	return meta, nil
}

// RunImport executes the full pipeline synchronously and returns the
// terminal metadata. The processing queue uses this entry point.
func (s *Service) RunImport(ctx context.Context, req StartRequest) (domain.ImportMetadata, error) {
	meta, err := s.begin(ctx, req)
	if err != nil {
		s.removeSource(req.FilePath)
		return domain.ImportMetadata{}, err
	}
	return s.finish(ctx, meta, req), nil
}

// RunQueued adapts one queue item onto the synchronous pipeline.
func (s *Service) RunQueued(ctx context.Context, item domain.QueueItem) (domain.ImportMetadata, error) {
	return s.RunImport(ctx, StartRequest{
		FilePath:  item.FilePath,
		FileName:  item.FileName,
		FileType:  item.FileType,
		UserID:    item.UserID,
		UserName:  item.UserName,
		UserEmail: item.UserEmail,
	})
}

// Wait blocks until all detached imports reach a terminal state.
func (s *Service) Wait() {
	s.wg.Wait()
}

// begin validates the request and persists the processing metadata record so
// the import is discoverable even if everything after fails.
func (s *Service) begin(ctx context.Context, req StartRequest) (domain.ImportMetadata, error) {
	if req.FilePath == "" {
		return domain.ImportMetadata{}, errors.New("file path is required")
	}
	if req.UserID == "" {
		return domain.ImportMetadata{}, errors.New("user id is required")
	}
	if err := tabular.Supported(req.FileName, req.FileType); err != nil {
		return domain.ImportMetadata{}, err
	}

	if req.FileSize == 0 {
		if info, err := os.Stat(req.FilePath); err == nil {
			req.FileSize = info.Size()
		}
	}

	meta := domain.NewImportMetadata(req.FileName, req.FileType, req.FileSize, req.UserID, req.UserName, req.UserEmail)
	if err := s.persistMetadata(ctx, meta); err != nil {
		return domain.ImportMetadata{}, fmt.Errorf("failed to create import metadata: %w", err)
	}
	return meta, nil
}

// finish runs every stage after metadata creation and always lands the
// import on a terminal status. The temporary source file is removed on every
// exit path.
func (s *Service) finish(ctx context.Context, meta domain.ImportMetadata, req StartRequest) domain.ImportMetadata {
	defer s.removeSource(req.FilePath)

	runErr := s.run(ctx, &meta, req)
	meta.UpdatedAt = time.Now().UTC()

	if runErr != nil {
		meta.Status = domain.ImportStatusFailed
		meta.Errors = appendBounded(meta.Errors, domain.ImportError{Message: runErr.Error()})
		log.Printf("[IMPORT] %s failed: %v", meta.ID, runErr)
	} else {
		meta.Status = domain.ImportStatusCompleted
		log.Printf("[IMPORT] %s completed: %d/%d rows persisted", meta.ID, meta.ValidRows, meta.TotalRows)
	}

	if err := s.persistMetadata(ctx, meta); err != nil {
		// The terminal status is lost only if the store is down entirely;
		// the import then shows up in the hanging-import scan.
		log.Printf("[IMPORT] %s: failed to persist final status: %v", meta.ID, err)
	}
	return meta
}

func (s *Service) run(ctx context.Context, meta *domain.ImportMetadata, req StartRequest) error {
	payload, err := os.ReadFile(req.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}

	blobURL, err := s.blobs.Upload(ctx, payload, req.FileName, req.FileType)
	if err != nil {
		return fmt.Errorf("failed to upload original file: %w", err)
	}
	meta.BlobURL = blobURL

	importedAt := time.Now().UTC().Format(time.RFC3339)
	opts := tabular.Options{
		TransformRow: func(values map[string]any, rowNumber int) (map[string]any, bool, error) {
			values[domain.RowFieldImportID] = meta.ID
			values[domain.RowFieldRowNumber] = rowNumber
			values[domain.RowFieldImportedAt] = importedAt
			values[domain.RowFieldImportedBy] = req.UserID
			return values, false, nil
		},
	}

	parsed, err := tabular.Parse(bytes.NewReader(payload), req.FileName, req.FileType, opts)
	if err != nil {
		return fmt.Errorf("failed to parse file: %w", err)
	}

	meta.Headers = parsed.Headers
	meta.TotalRows = parsed.TotalRows
	meta.ValidRows = parsed.ValidRows
	meta.ErrorRows = len(parsed.Errors)
	for _, rowErr := range parsed.Errors {
		meta.Errors = appendBounded(meta.Errors, domain.ImportError{
			Row:     rowErr.Row,
			Message: rowErr.Message,
			Data:    rowErr.Data,
		})
	}
	meta.FieldTypes = tabular.InferFieldTypes(parsed.Rows, parsed.Headers)

	writes, err := buildRowWrites(meta.ID, parsed.Rows)
	if err != nil {
		return err
	}

	result, err := s.engine.PersistRows(ctx, writes)
	if err != nil {
		return fmt.Errorf("row persistence aborted: %w", err)
	}

	// Rows that exhausted retries move from valid to error accounting so the
	// stored counts keep describing what is actually in the store.
	for _, failed := range result.Failed {
		meta.ValidRows--
		meta.ErrorRows++
		meta.Errors = appendBounded(meta.Errors, domain.ImportError{
			Row:     failed.RowNumber,
			Message: fmt.Sprintf("failed to persist row: %s", failed.Message),
		})
	}

	return nil
}

// GetImport loads one import's metadata by id, with or without key prefix.
func (s *Service) GetImport(ctx context.Context, id string) (domain.ImportMetadata, error) {
	key := domain.ImportKey(id)
	doc, err := s.store.Get(ctx, key, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.ImportMetadata{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return domain.ImportMetadata{}, fmt.Errorf("failed to get import: %w", err)
	}
	return unmarshalMetadata(doc)
}

// ListImports returns a page of imports plus the total matching count. With
// no status filter the page is served straight from the store; filtering on
// status requires decoding each document, so that path scans.
func (s *Service) ListImports(ctx context.Context, opts ListOptions) ([]domain.ImportMetadata, int, error) {
	filter := storage.Filter{DocType: storage.DocTypeFilter(domain.DocTypeImport)}

	if opts.Status == "" {
		total, err := s.store.Count(ctx, filter)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to count imports: %w", err)
		}

		filter.Limit = opts.Limit
		filter.Offset = opts.Offset
		docs, err := s.store.Query(ctx, filter)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list imports: %w", err)
		}
		return decodeImports(docs), total, nil
	}

	docs, err := s.store.Query(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list imports: %w", err)
	}

	imports := make([]domain.ImportMetadata, 0, len(docs))
	for _, meta := range decodeImports(docs) {
		if meta.Status == opts.Status {
			imports = append(imports, meta)
		}
	}

	total := len(imports)
	if opts.Offset > 0 {
		if opts.Offset >= len(imports) {
			return []domain.ImportMetadata{}, total, nil
		}
		imports = imports[opts.Offset:]
	}
	if opts.Limit > 0 && len(imports) > opts.Limit {
		imports = imports[:opts.Limit]
	}

	return imports, total, nil
}

func decodeImports(docs []storage.Document) []domain.ImportMetadata {
	imports := make([]domain.ImportMetadata, 0, len(docs))
	for _, doc := range docs {
		meta, err := unmarshalMetadata(doc)
		if err != nil {
			log.Printf("[IMPORT] skipping undecodable metadata document %s: %v", doc.ID, err)
			continue
		}
		imports = append(imports, meta)
	}
	return imports
}

// removeSource deletes the temporary upload. The service owns the file from
// the moment a request is handed to it, including rejected requests.
func (s *Service) removeSource(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("[IMPORT] failed to remove temp file %s: %v", path, err)
	}
}

func (s *Service) persistMetadata(ctx context.Context, meta domain.ImportMetadata) error {
	doc, err := metadataDocument(meta)
	if err != nil {
		return err
	}
	return s.engine.PersistMetadata(ctx, doc)
}

func metadataDocument(meta domain.ImportMetadata) (storage.Document, error) {
	body, err := json.Marshal(meta)
	if err != nil {
		return storage.Document{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	key := meta.Key()
	return storage.Document{
		ID:           key,
		PartitionKey: key,
		DocType:      domain.DocTypeImport,
		Body:         body,
	}, nil
}

func unmarshalMetadata(doc storage.Document) (domain.ImportMetadata, error) {
	var meta domain.ImportMetadata
	if err := json.Unmarshal(doc.Body, &meta); err != nil {
		return domain.ImportMetadata{}, fmt.Errorf("failed to decode metadata %s: %w", doc.ID, err)
	}
	return meta, nil
}

func buildRowWrites(importID string, rows []tabular.Row) ([]persist.RowWrite, error) {
	partition := domain.ImportKey(importID)
	writes := make([]persist.RowWrite, 0, len(rows))
	for _, row := range rows {
		body, err := json.Marshal(row.Values)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal row %d: %w", row.Number, err)
		}
		writes = append(writes, persist.RowWrite{
			RowNumber: row.Number,
			Doc: storage.Document{
				ID:           domain.RowKey(importID, row.Number),
				PartitionKey: partition,
				DocType:      domain.DocTypeRow,
				Body:         body,
			},
		})
	}
	return writes, nil
}

func appendBounded(errs []domain.ImportError, err domain.ImportError) []domain.ImportError {
	if len(errs) >= maxStoredErrors {
		return errs
	}
	return append(errs, err)
}
