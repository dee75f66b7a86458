// Package postgres implements the document store port on a single JSONB
// documents table.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"tabimport/internal/storage"
)

type documentStore struct {
	pool *pgxpool.Pool
}

// NewDocumentStore wires a store backed by pgxpool.
func NewDocumentStore(pool *pgxpool.Pool) storage.DocumentStore {
	return &documentStore{pool: pool}
}

func (s *documentStore) Upsert(ctx context.Context, doc storage.Document) (storage.Document, error) {
	if doc.ID == "" {
		return storage.Document{}, fmt.Errorf("document id is required")
	}

	row := s.pool.QueryRow(
		ctx,
		`INSERT INTO documents (id, partition_key, doc_type, body)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET partition_key = EXCLUDED.partition_key,
		     doc_type = EXCLUDED.doc_type,
		     body = EXCLUDED.body,
		     updated_at = now()
		 RETURNING id, partition_key, doc_type, body, created_at, updated_at`,
		doc.ID,
		doc.PartitionKey,
		doc.DocType,
		doc.Body,
	)

	stored, err := scanDocument(row)
	if err != nil {
		return storage.Document{}, fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
	}
	return stored, nil
}

func (s *documentStore) Get(ctx context.Context, id, partitionKey string) (storage.Document, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT id, partition_key, doc_type, body, created_at, updated_at
		 FROM documents
		 WHERE id = $1 AND partition_key = $2`,
		id,
		partitionKey,
	)
	if err != nil {
		return storage.Document{}, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if rowsErr := rows.Err(); rowsErr != nil {
			return storage.Document{}, fmt.Errorf("failed to get document %s: %w", id, rowsErr)
		}
		return storage.Document{}, storage.ErrNotFound
	}

	doc, err := scanDocument(rows)
	if err != nil {
		return storage.Document{}, fmt.Errorf("failed to scan document %s: %w", id, err)
	}
	return doc, nil
}

func (s *documentStore) Query(ctx context.Context, filter storage.Filter) ([]storage.Document, error) {
	var (
		conditions []string
		args       []any
	)

	if filter.DocType != nil {
		args = append(args, *filter.DocType)
		conditions = append(conditions, fmt.Sprintf("doc_type = $%d", len(args)))
	}
	if filter.PartitionKey != "" {
		args = append(args, filter.PartitionKey)
		conditions = append(conditions, fmt.Sprintf("partition_key = $%d", len(args)))
	}

	query := `SELECT id, partition_key, doc_type, body, created_at, updated_at FROM documents`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	documents := []storage.Document{}
	for rows.Next() {
		doc, scanErr := scanDocument(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan document: %w", scanErr)
		}
		documents = append(documents, doc)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", rowsErr)
	}

	return documents, nil
}

func (s *documentStore) Count(ctx context.Context, filter storage.Filter) (int, error) {
	var (
		conditions []string
		args       []any
	)

	if filter.DocType != nil {
		args = append(args, *filter.DocType)
		conditions = append(conditions, fmt.Sprintf("doc_type = $%d", len(args)))
	}
	if filter.PartitionKey != "" {
		args = append(args, filter.PartitionKey)
		conditions = append(conditions, fmt.Sprintf("partition_key = $%d", len(args)))
	}

	query := `SELECT count(*) FROM documents`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

func (s *documentStore) Delete(ctx context.Context, id, partitionKey string) error {
	tag, err := s.pool.Exec(
		ctx,
		`DELETE FROM documents WHERE id = $1 AND partition_key = $2`,
		id,
		partitionKey,
	)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDocument(row scannable) (storage.Document, error) {
	var (
		doc       storage.Document
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&doc.ID, &doc.PartitionKey, &doc.DocType, &doc.Body, &createdAt, &updatedAt); err != nil {
		return storage.Document{}, err
	}
	if createdAt.Valid {
		doc.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		doc.UpdatedAt = updatedAt.Time
	}
	return doc, nil
}
