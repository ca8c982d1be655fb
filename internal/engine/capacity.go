package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/scrypster/memoryrag/internal/storage"
)

// evictionTimeout bounds a single background eviction sweep.
const evictionTimeout = 30 * time.Second

// CapacityManager keeps the store under a configured maximum record count.
// After each store the engine triggers a check; when the count exceeds the
// maximum, the lowest-importance records (oldest accessed_at first on ties)
// are deleted. Each sweep removes a margin beyond the exact excess so the
// very next insert does not trigger another sweep.
//
// Sweeps are fire-and-forget: the triggering store call succeeds regardless
// of the sweep outcome, and sweep failures are logged, not propagated. The
// next trigger retries.
type CapacityManager struct {
	store       storage.MemoryStore
	maxMemories int
	margin      int
	logger      *log.Logger

	// onEvict, when set, receives the IDs removed by each sweep so the
	// owner can drop them from any in-process caches. Set before the first
	// Trigger.
	onEvict func(ids []string)

	mu       sync.Mutex
	sweeping bool
	wg       sync.WaitGroup
}

// NewCapacityManager creates a capacity manager. maxMemories must be
// positive; margin below zero is treated as zero.
func NewCapacityManager(store storage.MemoryStore, maxMemories, margin int, logger *log.Logger) *CapacityManager {
	if margin < 0 {
		margin = 0
	}
	return &CapacityManager{
		store:       store,
		maxMemories: maxMemories,
		margin:      margin,
		logger:      logger,
	}
}

// Trigger starts a background eviction sweep if one is not already running.
// It returns immediately.
func (cm *CapacityManager) Trigger() {
	cm.mu.Lock()
	if cm.sweeping {
		cm.mu.Unlock()
		return
	}
	cm.sweeping = true
	cm.wg.Add(1)
	cm.mu.Unlock()

	go func() {
		defer cm.wg.Done()
		defer func() {
			cm.mu.Lock()
			cm.sweeping = false
			cm.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), evictionTimeout)
		defer cancel()

		if evicted, err := cm.Sweep(ctx); err != nil {
			cm.logger.Printf("eviction sweep failed: %v", err)
		} else if evicted > 0 {
			cm.logger.Printf("evicted %d memories (capacity %d)", evicted, cm.maxMemories)
		}
	}()
}

// Sweep runs one eviction pass synchronously and returns how many records
// were removed. It is exposed so shutdown paths and tests can evict
// deterministically.
func (cm *CapacityManager) Sweep(ctx context.Context) (int, error) {
	count, err := cm.store.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count <= cm.maxMemories {
		return 0, nil
	}

	excess := count - cm.maxMemories
	evicted, err := cm.store.EvictLowestImportance(ctx, excess+cm.margin)
	if err != nil {
		return 0, err
	}
	if cm.onEvict != nil && len(evicted) > 0 {
		cm.onEvict(evicted)
	}
	return len(evicted), nil
}

// Wait blocks until any in-flight background sweep finishes.
func (cm *CapacityManager) Wait() {
	cm.wg.Wait()
}
