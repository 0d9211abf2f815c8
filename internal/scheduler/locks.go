package scheduler

import (
	"sort"
	"sync"
)

// ResourceLockManager provides mutual exclusion over named resources for
// concurrently executing tasks. Tasks declaring the same resource key never run
// at the same time; tasks with disjoint keys are unaffected.
// Acquisition is non-blocking so the admit loop never waits on a lock: a task
// whose resources are held stays READY and is retried on the next cycle.
type ResourceLockManager struct {
	mu      sync.Mutex
	holders map[string]string // resource key -> holding task ID
}

// NewResourceLockManager creates a new ResourceLockManager.
func NewResourceLockManager() *ResourceLockManager {
	return &ResourceLockManager{
		holders: make(map[string]string),
	}
}

// TryLockAll acquires every key for taskID, or none of them.
// Keys are checked in sorted order; duplicates are ignored.
func (r *ResourceLockManager) TryLockAll(taskID string, keys []string) bool {
	if len(keys) == 0 {
		return true
	}

	sorted := sortedKeys(keys)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range sorted {
		if holder, held := r.holders[key]; held && holder != taskID {
			return false
		}
	}
	for _, key := range sorted {
		r.holders[key] = taskID
	}
	return true
}

// UnlockAll releases the keys held by taskID, in reverse sorted order.
// Keys held by other tasks are left untouched.
func (r *ResourceLockManager) UnlockAll(taskID string, keys []string) {
	if len(keys) == 0 {
		return
	}

	sorted := sortedKeys(keys)

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(sorted) - 1; i >= 0; i-- {
		if r.holders[sorted[i]] == taskID {
			delete(r.holders, sorted[i])
		}
	}
}

// Holder returns the task currently holding key.
func (r *ResourceLockManager) Holder(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	holder, held := r.holders[key]
	return holder, held
}

func sortedKeys(keys []string) []string {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	out := sorted[:0]
	for i, key := range sorted {
		if i == 0 || key != sorted[i-1] {
			out = append(out, key)
		}
	}
	return out
}
