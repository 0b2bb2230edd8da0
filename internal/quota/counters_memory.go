package quota

import (
	"context"
	"sync"
)

// MemoryCounters is an in-memory Counters used in tests and local development.
type MemoryCounters struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{counts: make(map[string]int)}
}

func (m *MemoryCounters) Usage(ctx context.Context, accountID, dayKey, monthKey string) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Usage{
		Day:   m.counts[accountID+"|"+dayKey],
		Month: m.counts[accountID+"|"+monthKey],
	}, nil
}

func (m *MemoryCounters) Add(ctx context.Context, accountID, dayKey, monthKey string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[accountID+"|"+dayKey] += n
	m.counts[accountID+"|"+monthKey] += n
	return nil
}
