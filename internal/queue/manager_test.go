package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabimport/internal/domain"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func completedImport(item domain.QueueItem) domain.ImportMetadata {
	meta := domain.NewImportMetadata(item.FileName, item.FileType, 0, item.UserID, "", "")
	meta.Status = domain.ImportStatusCompleted
	return meta
}

func TestQueueProcessesItems(t *testing.T) {
	var processed atomic.Int32
	run := func(ctx context.Context, item domain.QueueItem) (domain.ImportMetadata, error) {
		processed.Add(1)
		return completedImport(item), nil
	}

	m := NewManager(2, 10*time.Millisecond, run)
	m.Start()
	defer m.Stop()

	item := m.Enqueue("/tmp/a.csv", "a.csv", "text/csv", "user-1", "", "")
	require.Equal(t, domain.QueueStatusPending, item.Status)

	waitFor(t, 2*time.Second, func() bool {
		got, ok := m.Get(item.ID)
		return ok && got.Status == domain.QueueStatusCompleted
	})

	got, ok := m.Get(item.ID)
	require.True(t, ok)
	assert.NotEmpty(t, got.ImportID)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, int32(1), processed.Load())
}

func TestQueueHandsItemToRunFunc(t *testing.T) {
	var seen domain.QueueItem
	done := make(chan struct{})
	run := func(ctx context.Context, item domain.QueueItem) (domain.ImportMetadata, error) {
		seen = item
		close(done)
		return completedImport(item), nil
	}

	m := NewManager(1, 5*time.Millisecond, run)
	m.Start()
	defer m.Stop()

	item := m.Enqueue("/tmp/b.csv", "b.csv", "text/csv", "user-2", "User Two", "u2@example.com")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run func was not invoked")
	}

	assert.Equal(t, item.ID, seen.ID)
	assert.Equal(t, "/tmp/b.csv", seen.FilePath)
	assert.Equal(t, "b.csv", seen.FileName)
	assert.Equal(t, "user-2", seen.UserID)
	assert.Equal(t, "u2@example.com", seen.UserEmail)
}

func TestQueueEnforcesConcurrencyCeiling(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		peak    int
		release = make(chan struct{})
	)

	run := func(ctx context.Context, item domain.QueueItem) (domain.ImportMetadata, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		<-release

		mu.Lock()
		active--
		mu.Unlock()

		return completedImport(item), nil
	}

	m := NewManager(2, 5*time.Millisecond, run)
	m.Start()

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		item := m.Enqueue("/tmp/f.csv", "f.csv", "text/csv", "user-1", "", "")
		ids = append(ids, item.ID)
	}

	// Let the dispatcher saturate, then release everything.
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return active == 2
	})
	close(release)

	waitFor(t, 2*time.Second, func() bool {
		for _, id := range ids {
			got, _ := m.Get(id)
			if got.Status != domain.QueueStatusCompleted {
				return false
			}
		}
		return true
	})
	m.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2, "concurrency ceiling exceeded")
}

func TestQueueMarksFailedItems(t *testing.T) {
	run := func(ctx context.Context, item domain.QueueItem) (domain.ImportMetadata, error) {
		return domain.ImportMetadata{}, errors.New("unsupported file format")
	}

	m := NewManager(1, 5*time.Millisecond, run)
	m.Start()
	defer m.Stop()

	item := m.Enqueue("/tmp/bad.pdf", "bad.pdf", "application/pdf", "user-1", "", "")

	waitFor(t, 2*time.Second, func() bool {
		got, ok := m.Get(item.ID)
		return ok && got.Status == domain.QueueStatusFailed
	})

	got, _ := m.Get(item.ID)
	assert.Contains(t, got.Error, "unsupported")
}

func TestQueueReflectsFailedImportStatus(t *testing.T) {
	run := func(ctx context.Context, item domain.QueueItem) (domain.ImportMetadata, error) {
		meta := domain.NewImportMetadata(item.FileName, item.FileType, 0, item.UserID, "", "")
		meta.Status = domain.ImportStatusFailed
		meta.Errors = append(meta.Errors, domain.ImportError{Message: "blob upload failed"})
		return meta, nil
	}

	m := NewManager(1, 5*time.Millisecond, run)
	m.Start()
	defer m.Stop()

	item := m.Enqueue("/tmp/x.csv", "x.csv", "text/csv", "user-1", "", "")

	waitFor(t, 2*time.Second, func() bool {
		got, ok := m.Get(item.ID)
		return ok && got.Status == domain.QueueStatusFailed
	})

	got, _ := m.Get(item.ID)
	assert.Equal(t, "blob upload failed", got.Error)
	assert.NotEmpty(t, got.ImportID)
}

func TestQueueGetUnknownItem(t *testing.T) {
	m := NewManager(1, 5*time.Millisecond, nil)
	_, ok := m.Get("nope")
	assert.False(t, ok)
}
