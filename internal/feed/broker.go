package feed

import (
	"sync"

	"coldroute/internal/model"
)

// Broker delivers re-dispatch trigger events to coordinator loops, one
// channel space per fleet partition.
type Broker interface {
	Subscribe(partition string) chan model.DispatchEvent
	Unsubscribe(partition string, ch chan model.DispatchEvent)
	Publish(partition string, evt model.DispatchEvent)
}

// Memory is the in-process broker used when no REDIS_URL is set.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[chan model.DispatchEvent]struct{} // partition -> set of channels
}

func NewMemory() *Memory {
	return &Memory{subs: map[string]map[chan model.DispatchEvent]struct{}{}}
}

func (b *Memory) Subscribe(partition string) chan model.DispatchEvent {
	ch := make(chan model.DispatchEvent, 16)
	b.mu.Lock()
	if b.subs[partition] == nil {
		b.subs[partition] = map[chan model.DispatchEvent]struct{}{}
	}
	b.subs[partition][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Memory) Unsubscribe(partition string, ch chan model.DispatchEvent) {
	b.mu.Lock()
	if m := b.subs[partition]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, partition)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Memory) Publish(partition string, evt model.DispatchEvent) {
	b.mu.Lock()
	for ch := range b.subs[partition] {
		select {
		case ch <- evt:
		default: // slow subscriber drops, never blocks dispatch
		}
	}
	b.mu.Unlock()
}
