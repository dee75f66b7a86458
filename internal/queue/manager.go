// Package queue feeds uploaded files to the importer with a bounded number
// of simultaneous imports, decoupling HTTP response latency from ingestion.
package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"tabimport/internal/domain"
)

// ImportFunc runs one import to a terminal state. The queue does not keep a
// reference to the orchestrator beyond this function.
type ImportFunc func(ctx context.Context, item domain.QueueItem) (domain.ImportMetadata, error)

const defaultPollInterval = 250 * time.Millisecond

// Manager is the in-memory processing queue. Items survive only as long as
// the process; that is a declared non-goal of durability.
type Manager struct {
	mu      sync.RWMutex
	items   map[string]*domain.QueueItem
	pending []string
	active  int

	run         ImportFunc
	concurrency int
	interval    time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a queue with a global concurrency ceiling.
func NewManager(concurrency int, interval time.Duration, run ImportFunc) *Manager {
	if concurrency <= 0 {
		concurrency = 3
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Manager{
		items:       make(map[string]*domain.QueueItem),
		run:         run,
		concurrency: concurrency,
		interval:    interval,
		stop:        make(chan struct{}),
	}
}

// Start launches the dispatch loop, which polls for pending work on a short
// interval rather than blocking.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.dispatch()
			}
		}
	}()
	log.Printf("[QUEUE] started with concurrency %d", m.concurrency)
}

// Stop halts dispatching and waits for in-flight imports to finish. Pending
// items stay pending and are lost with the process.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// Enqueue registers an uploaded file for processing and returns immediately.
func (m *Manager) Enqueue(filePath, fileName, fileType, userID, userName, userEmail string) domain.QueueItem {
	item := domain.NewQueueItem(filePath, fileName, fileType, userID, userName, userEmail)

	m.mu.Lock()
	m.items[item.ID] = &item
	m.pending = append(m.pending, item.ID)
	m.mu.Unlock()

	log.Printf("[QUEUE] enqueued %s (%s)", item.ID, fileName)
	return item
}

// Get returns a copy of one queue item for status polling.
func (m *Manager) Get(id string) (domain.QueueItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return domain.QueueItem{}, false
	}
	return *item, true
}

func (m *Manager) dispatch() {
	for {
		item := m.claimNext()
		if item == nil {
			return
		}
		m.wg.Add(1)
		go m.work(item)
	}
}

// claimNext pops the oldest pending item while capacity remains.
func (m *Manager) claimNext() *domain.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active >= m.concurrency || len(m.pending) == 0 {
		return nil
	}

	id := m.pending[0]
	m.pending = m.pending[1:]
	item := m.items[id]

	now := time.Now().UTC()
	item.Status = domain.QueueStatusProcessing
	item.StartedAt = &now
	m.active++
	return item
}

func (m *Manager) work(item *domain.QueueItem) {
	defer m.wg.Done()

	meta, err := m.run(context.Background(), *item)

	m.mu.Lock()
	now := time.Now().UTC()
	item.CompletedAt = &now
	switch {
	case err != nil:
		item.Status = domain.QueueStatusFailed
		item.Error = err.Error()
	case meta.Status == domain.ImportStatusFailed:
		item.Status = domain.QueueStatusFailed
		item.ImportID = meta.ID
		if n := len(meta.Errors); n > 0 {
			item.Error = meta.Errors[n-1].Message
		}
	default:
		item.Status = domain.QueueStatusCompleted
		item.ImportID = meta.ID
	}
	failed := item.Status == domain.QueueStatusFailed
	errMsg := item.Error
	m.active--
	m.mu.Unlock()

	if failed {
		log.Printf("[QUEUE] item %s failed: %s", item.ID, errMsg)
	} else {
		log.Printf("[QUEUE] item %s completed as import %s", item.ID, meta.ID)
	}
}
