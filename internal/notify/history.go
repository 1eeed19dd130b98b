package notify

import (
	"sync"

	"github.com/xperimental/upstream-watch/internal/watcher"
)

// History keeps the most recent cycle results.
type History struct {
	lock    sync.RWMutex
	size    int
	results []watcher.CycleResult
}

// NewHistory creates a History holding at most size results.
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}

	return &History{
		size:    size,
		results: make([]watcher.CycleResult, 0, size),
	}
}

// Add stores result, evicting the oldest entry when full.
func (h *History) Add(result watcher.CycleResult) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if len(h.results) == h.size {
		copy(h.results, h.results[1:])
		h.results = h.results[:h.size-1]
	}
	h.results = append(h.results, result)
}

// List returns the stored results, newest first.
func (h *History) List() []watcher.CycleResult {
	h.lock.RLock()
	defer h.lock.RUnlock()

	list := make([]watcher.CycleResult, len(h.results))
	for i, r := range h.results {
		list[len(h.results)-1-i] = r
	}
	return list
}

// Last returns the newest result.
func (h *History) Last() (watcher.CycleResult, bool) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	if len(h.results) == 0 {
		return watcher.CycleResult{}, false
	}
	return h.results[len(h.results)-1], true
}
