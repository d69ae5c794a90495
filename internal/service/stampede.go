package service

import (
	"sync"
)

// stampedeTracker counts in-progress cache misses per key. A count above one means
// several callers are fetching the same forecast at once.
type stampedeTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{active: make(map[string]int)}
}

// begin records a miss for key and returns the concurrent miss count including this one.
// The returned func must be called once the miss is resolved.
func (st *stampedeTracker) begin(key string) (int, func()) {
	st.mu.Lock()
	st.active[key]++
	n := st.active[key]
	st.mu.Unlock()

	var once sync.Once
	return n, func() {
		once.Do(func() { st.end(key) })
	}
}

func (st *stampedeTracker) end(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.active[key] <= 1 {
		delete(st.active, key)
		return
	}
	st.active[key]--
}

// inFlight returns the current miss count for key.
func (st *stampedeTracker) inFlight(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active[key]
}
