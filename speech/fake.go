package speech

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Fake is an in-process engine driven by Sim* calls.
type Fake struct {
	mu        sync.Mutex
	sink      func(Notification)
	warmErr   error
	warmDelay time.Duration
	hold      chan struct{}

	finals  chan result
	pending atomic.Int32
	done    chan struct{}
	once    sync.Once
}

func NewFake() *Fake {
	return &Fake{
		finals: make(chan result),
		done:   make(chan struct{}),
	}
}

// FailWarmup makes Warmup return err.
func (f *Fake) FailWarmup(err error) {
	f.mu.Lock()
	f.warmErr = err
	f.mu.Unlock()
}

// SetWarmupDelay makes Warmup take d before reporting ready.
func (f *Fake) SetWarmupDelay(d time.Duration) {
	f.mu.Lock()
	f.warmDelay = d
	f.mu.Unlock()
}

// Hold blocks Warmup until the returned function is called.
func (f *Fake) Hold() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.hold = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *Fake) Warmup(ctx context.Context, sink func(Notification)) error {
	f.mu.Lock()
	f.sink = sink
	hold, delay, err := f.hold, f.warmDelay, f.warmErr
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return ErrShutdown
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return ErrShutdown
		}
	}
	return err
}

func (f *Fake) Text(ctx context.Context) (string, error) {
	f.pending.Add(1)
	defer f.pending.Add(-1)
	select {
	case res := <-f.finals:
		return res.text, res.err
	case <-f.done:
		return "", ErrShutdown
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *Fake) Shutdown() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

// Pending reports how many Text calls are blocked.
func (f *Fake) Pending() int {
	return int(f.pending.Load())
}

// WaitPending waits until a Text call is blocked.
func (f *Fake) WaitPending(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for f.Pending() == 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
	return true
}

// SimFinal hands text to a Text call, waiting up to a second for one.
func (f *Fake) SimFinal(text string) bool {
	return f.send(result{text: text})
}

// SimError makes the next Text call fail with err.
func (f *Fake) SimError(err error) bool {
	return f.send(result{err: err})
}

func (f *Fake) send(res result) bool {
	select {
	case f.finals <- res:
		return true
	case <-f.done:
		return false
	case <-time.After(time.Second):
		return false
	}
}

func (f *Fake) SimDraft(text string) { f.notify(RealtimeUpdate{Text: text}) }
func (f *Fake) SimVADStart()         { f.notify(VADStart{}) }
func (f *Fake) SimVADStop()          { f.notify(RecordingStop{}) }
func (f *Fake) SimNotify(n Notification) { f.notify(n) }

func (f *Fake) notify(n Notification) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink != nil {
		sink(n)
	}
}
