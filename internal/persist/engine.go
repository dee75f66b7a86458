// Package persist writes row and metadata documents to the store in bounded
// batches with per-row retry and backoff.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"tabimport/internal/storage"
)

// ErrTooManyFailures aborts an import whose persisted-row failure rate
// exceeds the policy threshold.
var ErrTooManyFailures = errors.New("too many row failures")

// Policy tunes the retry and batching behavior. The defaults match a store
// with a moderate per-request operation ceiling and occasional throttling.
type Policy struct {
	BatchSize        int
	MaxAttempts      int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	JitterMax        time.Duration
	AbortFailureRate float64
}

// DefaultPolicy returns the standard knobs.
func DefaultPolicy() Policy {
	return Policy{
		BatchSize:        50,
		MaxAttempts:      3,
		BaseBackoff:      200 * time.Millisecond,
		MaxBackoff:       5 * time.Second,
		JitterMax:        150 * time.Millisecond,
		AbortFailureRate: 0.5,
	}
}

func (p Policy) normalized() Policy {
	if p.BatchSize <= 0 {
		p.BatchSize = DefaultPolicy().BatchSize
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = DefaultPolicy().BaseBackoff
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = DefaultPolicy().MaxBackoff
	}
	if p.AbortFailureRate <= 0 || p.AbortFailureRate > 1 {
		p.AbortFailureRate = DefaultPolicy().AbortFailureRate
	}
	return p
}

// RowWrite pairs a document with the data row it came from so failures can
// be reported against the original row number.
type RowWrite struct {
	Doc       storage.Document
	RowNumber int
}

// FailedRow records one row whose retries were exhausted.
type FailedRow struct {
	RowNumber int
	ID        string
	Message   string
}

// Result aggregates one PersistRows run.
type Result struct {
	Persisted int
	Failed    []FailedRow
}

// Engine is the batch persistence engine over the document store port.
type Engine struct {
	store  storage.DocumentStore
	policy Policy
}

// NewEngine creates an engine with the given policy.
func NewEngine(store storage.DocumentStore, policy Policy) *Engine {
	return &Engine{store: store, policy: policy.normalized()}
}

// PersistRows writes all row documents. Batches run sequentially; rows
// within a batch run concurrently, each with an independent retry loop.
// Individual row failures never stop later batches. The returned error is
// non-nil only for a catastrophic failure rate or a cancelled context.
func (e *Engine) PersistRows(ctx context.Context, writes []RowWrite) (Result, error) {
	result := Result{}
	if len(writes) == 0 {
		return result, nil
	}

	for start := 0; start < len(writes); start += e.policy.BatchSize {
		end := start + e.policy.BatchSize
		if end > len(writes) {
			end = len(writes)
		}
		batch := writes[start:end]

		var (
			wg sync.WaitGroup
			mu sync.Mutex
		)
		for _, write := range batch {
			wg.Add(1)
			go func(write RowWrite) {
				defer wg.Done()
				if err := e.upsertWithRetry(ctx, write.Doc); err != nil {
					mu.Lock()
					result.Failed = append(result.Failed, FailedRow{
						RowNumber: write.RowNumber,
						ID:        write.Doc.ID,
						Message:   err.Error(),
					})
					mu.Unlock()
					return
				}
				mu.Lock()
				result.Persisted++
				mu.Unlock()
			}(write)
		}
		wg.Wait()

		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}

	failureRate := float64(len(result.Failed)) / float64(len(writes))
	if failureRate > e.policy.AbortFailureRate {
		return result, fmt.Errorf("%w: %d of %d rows failed",
			ErrTooManyFailures, len(result.Failed), len(writes))
	}
	if len(result.Failed) > 0 {
		log.Printf("[PERSIST] %d of %d rows failed after retries, continuing",
			len(result.Failed), len(writes))
	}

	return result, nil
}

// PersistMetadata upserts one metadata document under the same retry policy.
func (e *Engine) PersistMetadata(ctx context.Context, doc storage.Document) error {
	if err := e.upsertWithRetry(ctx, doc); err != nil {
		return fmt.Errorf("failed to persist metadata %s: %w", doc.ID, err)
	}
	return nil
}

func (e *Engine) upsertWithRetry(ctx context.Context, doc storage.Document) error {
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if _, err := e.store.Upsert(ctx, doc); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == e.policy.MaxAttempts {
			break
		}
		if !sleepContext(ctx, e.backoff(attempt)) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("exhausted %d attempts: %w", e.policy.MaxAttempts, lastErr)
}

// backoff computes base * 2^(attempt-1) plus jitter, capped at MaxBackoff.
func (e *Engine) backoff(attempt int) time.Duration {
	delay := e.policy.BaseBackoff << (attempt - 1)
	if delay > e.policy.MaxBackoff {
		delay = e.policy.MaxBackoff
	}
	if e.policy.JitterMax > 0 {
		delay += time.Duration(rand.Int63n(int64(e.policy.JitterMax)))
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
