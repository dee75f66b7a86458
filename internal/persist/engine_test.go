package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"tabimport/internal/storage"
	"tabimport/internal/testutil"
)

func testPolicy() Policy {
	return Policy{
		BatchSize:        10,
		MaxAttempts:      3,
		BaseBackoff:      time.Millisecond,
		MaxBackoff:       5 * time.Millisecond,
		JitterMax:        time.Millisecond,
		AbortFailureRate: 0.5,
	}
}

func rowWrites(n int) []RowWrite {
	writes := make([]RowWrite, n)
	for i := range writes {
		writes[i] = RowWrite{
			RowNumber: i + 1,
			Doc: storage.Document{
				ID:           fmt.Sprintf("import_x_row_%d", i+1),
				PartitionKey: "import_x",
				DocType:      "import_row",
				Body:         json.RawMessage(`{}`),
			},
		}
	}
	return writes
}

func TestPersistRowsAllSucceed(t *testing.T) {
	store := testutil.NewMemStore()
	engine := NewEngine(store, testPolicy())

	result, err := engine.PersistRows(context.Background(), rowWrites(25))
	if err != nil {
		t.Fatalf("persist returned error: %v", err)
	}
	if result.Persisted != 25 || len(result.Failed) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if store.Len() != 25 {
		t.Fatalf("expected 25 documents, got %d", store.Len())
	}
}

func TestPersistRowsIdempotentUpsert(t *testing.T) {
	store := testutil.NewMemStore()
	engine := NewEngine(store, testPolicy())

	writes := rowWrites(5)
	if _, err := engine.PersistRows(context.Background(), writes); err != nil {
		t.Fatalf("first persist returned error: %v", err)
	}
	if _, err := engine.PersistRows(context.Background(), writes); err != nil {
		t.Fatalf("second persist returned error: %v", err)
	}

	if store.Len() != 5 {
		t.Fatalf("expected 5 documents after re-persist, got %d", store.Len())
	}
}

func TestPersistRowsRetriesTransientFailures(t *testing.T) {
	store := testutil.NewMemStore()

	var mu sync.Mutex
	attempts := map[string]int{}
	store.FailUpsert = func(doc storage.Document) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[doc.ID]++
		if attempts[doc.ID] < 2 {
			return errors.New("throttled")
		}
		return nil
	}

	engine := NewEngine(store, testPolicy())
	result, err := engine.PersistRows(context.Background(), rowWrites(4))
	if err != nil {
		t.Fatalf("persist returned error: %v", err)
	}
	if result.Persisted != 4 || len(result.Failed) != 0 {
		t.Fatalf("expected all rows to succeed on retry: %+v", result)
	}
}

func TestPersistRowsPartialFailureIsNotFatal(t *testing.T) {
	store := testutil.NewMemStore()
	store.FailUpsert = func(doc storage.Document) error {
		if strings.HasSuffix(doc.ID, "_row_2") {
			return errors.New("permanent store error")
		}
		return nil
	}

	engine := NewEngine(store, testPolicy())
	result, err := engine.PersistRows(context.Background(), rowWrites(10))
	if err != nil {
		t.Fatalf("partial failure must not abort: %v", err)
	}
	if result.Persisted != 9 || len(result.Failed) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Failed[0].RowNumber != 2 {
		t.Fatalf("expected row 2 to fail, got %+v", result.Failed[0])
	}
}

func TestPersistRowsAbortsOnCatastrophicFailureRate(t *testing.T) {
	store := testutil.NewMemStore()
	store.FailUpsert = func(doc storage.Document) error {
		return errors.New("store down")
	}

	engine := NewEngine(store, testPolicy())
	result, err := engine.PersistRows(context.Background(), rowWrites(6))
	if !errors.Is(err, ErrTooManyFailures) {
		t.Fatalf("expected ErrTooManyFailures, got %v", err)
	}
	if len(result.Failed) != 6 {
		t.Fatalf("expected all rows recorded as failed, got %d", len(result.Failed))
	}
}

func TestPersistMetadataRetries(t *testing.T) {
	store := testutil.NewMemStore()

	calls := 0
	store.FailUpsert = func(doc storage.Document) error {
		calls++
		if calls == 1 {
			return errors.New("blip")
		}
		return nil
	}

	engine := NewEngine(store, testPolicy())
	doc := storage.Document{ID: "import_a", PartitionKey: "import_a", DocType: "import_metadata", Body: json.RawMessage(`{}`)}
	if err := engine.PersistMetadata(context.Background(), doc); err != nil {
		t.Fatalf("metadata persist returned error: %v", err)
	}
}

func TestPersistRowsRespectsCancelledContext(t *testing.T) {
	store := testutil.NewMemStore()
	store.FailUpsert = func(doc storage.Document) error {
		return errors.New("always failing")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewEngine(store, testPolicy())
	_, err := engine.PersistRows(ctx, rowWrites(3))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
