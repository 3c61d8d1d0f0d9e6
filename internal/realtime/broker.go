// Package realtime fans journal change signals out to connected clients.
package realtime

import (
	"context"
	"sync"

	"carelink/internal/core"
)

// Broker delivers changes to per-patient subscribers. Each subscriber has a
// one-slot buffer: a signal that finds the slot full is dropped, since the
// pending one already tells the client to refetch.
type Broker struct {
	mu     sync.Mutex
	subs   map[int64]map[chan core.EntryChange]struct{}
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int64]map[chan core.EntryChange]struct{})}
}

// Subscribe returns a channel of changes for patientID and a function that
// unsubscribes and closes it.
func (b *Broker) Subscribe(patientID int64) (<-chan core.EntryChange, func()) {
	ch := make(chan core.EntryChange, 1)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if b.subs[patientID] == nil {
		b.subs[patientID] = make(map[chan core.EntryChange]struct{})
	}
	b.subs[patientID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[patientID]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(b.subs, patientID)
				}
			}
		})
	}
}

// Publish delivers change to every subscriber of its patient without blocking.
func (b *Broker) Publish(change core.EntryChange) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	delivered := 0
	for ch := range b.subs[change.PatientID] {
		select {
		case ch <- change:
			delivered++
		default:
		}
	}
	return delivered
}

// NotifyEntriesChanged lets the broker stand in for a message bus in
// single-process deployments.
func (b *Broker) NotifyEntriesChanged(_ context.Context, change core.EntryChange) error {
	b.Publish(change)
	return nil
}

func (b *Broker) Subscribers(patientID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[patientID])
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, id)
	}
}
