package webhook

import (
	"context"
	"sync"
)

// MemoryEventLog is a fixed-size ring buffer.
type MemoryEventLog struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

func NewMemoryEventLog(maxEvents int) *MemoryEventLog {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &MemoryEventLog{events: make([]Event, maxEvents)}
}

func (l *MemoryEventLog) Append(_ context.Context, e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[l.next] = e
	l.next = (l.next + 1) % len(l.events)
	if l.next == 0 {
		l.full = true
	}
	return nil
}

func (l *MemoryEventLog) size() int {
	if l.full {
		return len(l.events)
	}
	return l.next
}

func (l *MemoryEventLog) List(_ context.Context, limit int) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := l.size()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.events)) % len(l.events)
		out = append(out, l.events[idx])
	}
	return out, nil
}

func (l *MemoryEventLog) Latest(ctx context.Context) (*Event, error) {
	events, err := l.List(ctx, 1)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return &events[0], nil
}

var _ EventLog = (*MemoryEventLog)(nil)
