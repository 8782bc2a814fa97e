package feed

import (
	"context"
	"sync"
	"time"
)

const subscriberBuffer = 64

// MemoryFeed is an in-process Feed for single-node development and tests.
type MemoryFeed struct {
	mu     sync.RWMutex
	subs   map[int64]map[chan ChangeEvent]struct{}
	closed bool
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[int64]map[chan ChangeEvent]struct{})}
}

func (f *MemoryFeed) Subscribe(ctx context.Context, bookingID int64) (<-chan ChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	ch := make(chan ChangeEvent, subscriberBuffer)
	if f.subs[bookingID] == nil {
		f.subs[bookingID] = make(map[chan ChangeEvent]struct{})
	}
	f.subs[bookingID][ch] = struct{}{}

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[bookingID][ch]; ok {
			delete(f.subs[bookingID], ch)
			if len(f.subs[bookingID]) == 0 {
				delete(f.subs, bookingID)
			}
			close(ch)
		}
	}()
	return ch, nil
}

// Publish never blocks. A subscriber whose buffer is full misses the event.
func (f *MemoryFeed) Publish(_ context.Context, ev ChangeEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}
	for ch := range f.subs[ev.BookingID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (f *MemoryFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, set := range f.subs {
		for ch := range set {
			close(ch)
		}
		delete(f.subs, id)
	}
}
