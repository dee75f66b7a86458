package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabimport/internal/domain"
	"tabimport/internal/storage"
	"tabimport/internal/testutil"
)

func seedImport(t *testing.T, store *testutil.MemStore, id string, rowCount int) {
	t.Helper()

	meta := domain.NewImportMetadata("file.csv", "text/csv", 10, "user-1", "", "")
	meta.ID = id
	body, err := json.Marshal(meta)
	require.NoError(t, err)

	key := domain.ImportKey(id)
	_, err = store.Upsert(context.Background(), storage.Document{
		ID:           key,
		PartitionKey: key,
		DocType:      domain.DocTypeImport,
		Body:         body,
	})
	require.NoError(t, err)

	seedRows(t, store, id, rowCount)
}

func seedRows(t *testing.T, store *testutil.MemStore, id string, rowCount int) {
	t.Helper()

	key := domain.ImportKey(id)
	for i := 1; i <= rowCount; i++ {
		_, err := store.Upsert(context.Background(), storage.Document{
			ID:           domain.RowKey(id, i),
			PartitionKey: key,
			DocType:      domain.DocTypeRow,
			Body:         json.RawMessage(fmt.Sprintf(`{"rowNumber":%d}`, i)),
		})
		require.NoError(t, err)
	}
}

func TestDeleteImportCascades(t *testing.T) {
	store := testutil.NewMemStore()
	engine := NewEngine(store)

	seedImport(t, store, "x", 5)
	seedImport(t, store, "other", 2)

	// Legacy untyped content document in the same partition.
	_, err := store.Upsert(context.Background(), storage.Document{
		ID:           "import_x_content_1",
		PartitionKey: domain.ImportKey("x"),
		Body:         json.RawMessage(`{"legacy":true}`),
	})
	require.NoError(t, err)

	result, err := engine.DeleteImport(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 5, result.DeletedRows)

	// Metadata, rows, and content for x are gone; the other import survives.
	_, err = store.Get(context.Background(), domain.ImportKey("x"), domain.ImportKey("x"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	remaining, err := store.Query(context.Background(), storage.Filter{
		PartitionKey: domain.ImportKey("x"),
	})
	require.NoError(t, err)
	assert.Empty(t, remaining)

	otherRows, err := store.Query(context.Background(), storage.Filter{
		DocType:      storage.DocTypeFilter(domain.DocTypeRow),
		PartitionKey: domain.ImportKey("other"),
	})
	require.NoError(t, err)
	assert.Len(t, otherRows, 2)
}

func TestDeleteImportNormalizesDoublePrefix(t *testing.T) {
	store := testutil.NewMemStore()
	engine := NewEngine(store)

	seedImport(t, store, "abc", 1)

	result, err := engine.DeleteImport(context.Background(), "import_import_abc")
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeletedRows)
}

func TestDeleteImportNotFound(t *testing.T) {
	store := testutil.NewMemStore()
	engine := NewEngine(store)

	_, err := engine.DeleteImport(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteImportCountsOnlySuccessfulRowDeletes(t *testing.T) {
	store := testutil.NewMemStore()
	engine := NewEngine(store)

	seedImport(t, store, "partial", 4)

	store.FailDelete = func(id string) error {
		if id == domain.RowKey("partial", 3) {
			return errors.New("delete refused")
		}
		return nil
	}

	result, err := engine.DeleteImport(context.Background(), "partial")
	require.NoError(t, err)
	assert.Equal(t, 3, result.DeletedRows)
}

func TestFindHangingImports(t *testing.T) {
	store := testutil.NewMemStore()
	engine := NewEngine(store)

	seedImport(t, store, "a", 3)
	seedImport(t, store, "b", 0)

	hanging, err := engine.FindHangingImports(context.Background())
	require.NoError(t, err)
	require.Len(t, hanging, 1)
	assert.Equal(t, "b", hanging[0].ID)
}

func TestFindOrphanedData(t *testing.T) {
	store := testutil.NewMemStore()
	engine := NewEngine(store)

	seedImport(t, store, "a", 2)
	seedRows(t, store, "c", 3)

	orphans, err := engine.FindOrphanedData(context.Background())
	require.NoError(t, err)
	require.Len(t, orphans, 3)
	for _, orphan := range orphans {
		assert.Equal(t, domain.ImportKey("c"), orphan.PartitionKey)
	}
}

func TestReconcileReportSetDifference(t *testing.T) {
	store := testutil.NewMemStore()
	engine := NewEngine(store)

	// Metadata {A, B}, row references {A, C}.
	seedImport(t, store, "A", 1)
	seedImport(t, store, "B", 0)
	seedRows(t, store, "C", 2)

	report, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.HangingImports, 1)
	assert.Equal(t, "B", report.HangingImports[0].ID)

	require.Len(t, report.OrphanedDocs, 2)
	for _, orphan := range report.OrphanedDocs {
		assert.Equal(t, domain.ImportKey("C"), orphan.PartitionKey)
	}
}
