package trigger

import (
	"context"
	"sync"
)

// Ledger remembers which (event, trigger) pairs completed so a redelivered
// event does not apply its counter updates twice.
type Ledger interface {
	Processed(ctx context.Context, eventID, trigger string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, trigger string) error
}

// MemoryLedger is a process-local Ledger.
type MemoryLedger struct {
	mu   sync.Mutex
	done map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{done: map[string]struct{}{}}
}

func (l *MemoryLedger) Processed(_ context.Context, eventID, trigger string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.done[trigger+"\x00"+eventID]
	return ok, nil
}

func (l *MemoryLedger) MarkProcessed(_ context.Context, eventID, trigger string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.done[trigger+"\x00"+eventID] = struct{}{}
	return nil
}
