// Package bus merges events from every producer into one ordered stream
// for the display layer.
package bus

import (
	"context"
	"sync"
	"time"

	"dictate/phase"
	"dictate/telemetry"
)

// Event is one of the types below.
type Event interface {
	event()
}

type Status struct{ Text string }

type PhaseChanged struct{ Phase phase.Phase }

// Draft replaces the previous draft line.
type Draft struct{ Text string }

// Final is appended to the history and clears the draft.
type Final struct{ Text string }

type Telemetry struct{ Stats telemetry.Stats }

// Clear resets draft and history.
type Clear struct{}

type ModeChanged struct{ Clipboard bool }

type SessionOpened struct{ ID int }

func (Status) event()        {}
func (PhaseChanged) event()  {}
func (Draft) event()         {}
func (Final) event()         {}
func (Telemetry) event()     {}
func (Clear) event()         {}
func (ModeChanged) event()   {}
func (SessionOpened) event() {}

const DefaultBatch = 50

// Bus is an unbounded FIFO. Emit never blocks; order is preserved for
// events emitted by the same goroutine.
type Bus struct {
	mu     sync.Mutex
	queue  []Event
	closed bool
}

func New() *Bus {
	return &Bus{}
}

// Emit enqueues ev. It reports false once the bus is closed.
func (b *Bus) Emit(ev Event) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()
	return true
}

// Drain removes and returns up to max queued events without blocking.
func (b *Bus) Drain(max int) []Event {
	if max <= 0 {
		max = DefaultBatch
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := min(max, len(b.queue))
	if n == 0 {
		return nil
	}
	out := make([]Event, n)
	copy(out, b.queue)
	clear(b.queue[:n])
	b.queue = b.queue[n:]
	if len(b.queue) == 0 {
		b.queue = nil
	}
	return out
}

func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close rejects further emits. Queued events stay drainable.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Consume drains the bus in batches of batch events every interval and
// hands each event to fn, until ctx is done. A last best-effort drain runs
// before it returns.
func (b *Bus) Consume(ctx context.Context, interval time.Duration, batch int, fn func(Event)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for _, ev := range b.Drain(batch) {
			fn(ev)
		}
		select {
		case <-ctx.Done():
			for evs := b.Drain(batch); len(evs) > 0; evs = b.Drain(batch) {
				for _, ev := range evs {
					fn(ev)
				}
			}
			return
		case <-ticker.C:
		}
	}
}
