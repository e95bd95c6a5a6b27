package service

import "sync"

// missOverlap counts lookups in progress per city. Nothing waits on it: two chats that
// miss the same city at once both call OpenWeather and both write the cache, last write
// wins. The count only feeds the stampede metric.
type missOverlap struct {
	mu      sync.Mutex
	pending map[string]int
}

func newMissOverlap() *missOverlap {
	return &missOverlap{pending: make(map[string]int)}
}

// begin registers a lookup for city and returns how many are now pending for it,
// this one included, plus the func that unregisters it.
func (m *missOverlap) begin(city string) (int, func()) {
	m.mu.Lock()
	m.pending[city]++
	n := m.pending[city]
	m.mu.Unlock()

	var once sync.Once
	return n, func() { once.Do(func() { m.end(city) }) }
}

func (m *missOverlap) end(city string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch n := m.pending[city]; {
	case n > 1:
		m.pending[city] = n - 1
	case n == 1:
		delete(m.pending, city)
	}
}

// count returns the pending lookups for city.
func (m *missOverlap) count(city string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[city]
}
