package pipeline

import "sync"

// IDGenerator hands out monotonic ids. It replaces process-global counters
// and is restored from the highest persisted id at startup.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
}

// NewIDGenerator starts counting after start.
func NewIDGenerator(start int64) *IDGenerator {
	return &IDGenerator{last: start}
}

// Next returns the next id.
func (g *IDGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last++
	return g.last
}

// Current returns the last id handed out.
func (g *IDGenerator) Current() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Restore advances the generator to at least max. It reports whether the
// generator was behind.
func (g *IDGenerator) Restore(max int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last < max {
		g.last = max
		return true
	}
	return false
}
