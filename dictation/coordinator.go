// Package dictation runs the engine: it owns the dictation switch, the
// typing mode, the current recording and the phase, and serializes every
// input that can change them through one goroutine.
package dictation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dictate/bus"
	"dictate/cue"
	"dictate/hotkey"
	"dictate/log"
	"dictate/phase"
	"dictate/session"
	"dictate/speech"
	"dictate/telemetry"
	"dictate/typing"
)

const (
	idlePoll        = 50 * time.Millisecond
	finalizeBackoff = 100 * time.Millisecond
	inboxSize       = 64
)

// Typist delivers finalized text to the focused application.
type Typist interface {
	Dispatch(text string, mode typing.Mode) error
}

// TelemetrySource publishes accelerator readings until ctx is done.
type TelemetrySource interface {
	Run(ctx context.Context, emit func(telemetry.Stats))
}

type Options struct {
	Engine   speech.Engine
	Speech   speech.Config // shown in warm-up status lines
	Recorder *session.Recorder
	Typist   Typist
	Bus      *bus.Bus

	// Telemetry is optional.
	Telemetry TelemetrySource

	// Clipboard starts the engine in clipboard typing mode.
	Clipboard bool

	// Ready is closed once warm-up succeeds. Created when nil.
	Ready chan struct{}

	Now func() time.Time
}

type Coordinator struct {
	engine    speech.Engine
	speechCfg speech.Config
	recorder  *session.Recorder
	typist    Typist
	bus       *bus.Bus
	telemetry TelemetrySource
	now       func() time.Time

	inbox   chan message
	ready   chan struct{}
	stopped chan struct{} // closed when the loop exits
	done    chan struct{}

	// active mirrors the current recording id for the finalize loop; 0
	// while dictation is off.
	active atomic.Int64

	// Owned by the Run goroutine.
	machine  *phase.Machine
	on       bool
	mode     typing.Mode
	rec      *session.Recording
	lastRec  int
	flushed  int
	warmErr  error
	quitting bool
}

func New(opts Options) *Coordinator {
	c := &Coordinator{
		engine:    opts.Engine,
		speechCfg: opts.Speech,
		recorder:  opts.Recorder,
		typist:    opts.Typist,
		bus:       opts.Bus,
		telemetry: opts.Telemetry,
		now:       opts.Now,
		inbox:     make(chan message, inboxSize),
		ready:     opts.Ready,
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
		machine:   phase.NewMachine(),
	}
	if c.bus == nil {
		c.bus = bus.New()
	}
	if c.ready == nil {
		c.ready = make(chan struct{})
	}
	if c.now == nil {
		c.now = time.Now
	}
	if opts.Clipboard {
		c.mode = typing.Clipboard
	}
	return c
}

func (c *Coordinator) Bus() *bus.Bus { return c.bus }

// Ready is closed when the speech model has loaded.
func (c *Coordinator) Ready() <-chan struct{} { return c.ready }

// Done is closed when Run has returned.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Do queues a hotkey action. It never blocks once the engine has stopped.
func (c *Coordinator) Do(a hotkey.Action) {
	c.post(actionMsg{action: a})
}

func (c *Coordinator) post(m message) bool {
	select {
	case c.inbox <- m:
		return true
	case <-c.stopped:
		return false
	}
}

// Run opens a new session, starts the background workers and processes
// inputs until quit or ctx is cancelled. The pending recording is flushed
// before returning. A non-nil error means the session record could not be
// written.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)

	sess, err := c.recorder.Open(c.now())
	if err != nil {
		close(c.stopped)
		c.status("ERR session log: %v", err)
		c.bus.Close()
		log.Errorf("session open: %v", err)
		return fmt.Errorf("open session: %w", err)
	}
	c.bus.Emit(bus.SessionOpened{ID: sess.ID})
	c.status("Session %03d started", sess.ID)
	c.bus.Emit(bus.ModeChanged{Clipboard: c.mode == typing.Clipboard})
	c.bus.Emit(bus.PhaseChanged{Phase: c.machine.Current()})
	log.SessionStart(sess.ID, sess.Path, c.mode.String())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.warmup(ctx)
	}()
	go func() {
		defer wg.Done()
		c.finalizeLoop(ctx)
	}()
	if c.telemetry != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.telemetry.Run(ctx, c.publishTelemetry)
		}()
	}

	err = c.loop(ctx)
	close(c.stopped)

	cancel()
	if serr := c.engine.Shutdown(); serr != nil {
		log.Warnf("speech shutdown: %v", serr)
	}
	wg.Wait()
	c.bus.Close()
	log.SessionEnd(c.flushed)
	return err
}

func (c *Coordinator) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return c.quit()
		case m := <-c.inbox:
			if err := c.handle(m); err != nil {
				return err
			}
			if c.quitting {
				return nil
			}
		}
	}
}

func (c *Coordinator) handle(m message) error {
	switch m := m.(type) {
	case actionMsg:
		switch m.action {
		case hotkey.ActionToggleDictation:
			return c.toggleDictation()
		case hotkey.ActionToggleClipboard:
			c.toggleClipboard()
		case hotkey.ActionQuit:
			return c.quit()
		}
	case notifyMsg:
		c.onNotification(m.n)
	case warmupMsg:
		c.onWarmup(m)
	case finalMsg:
		c.onFinal(m)
	case finalErrMsg:
		c.status("ERR finalize: %v", m.err)
		log.Warnf("finalize: %v", m.err)
	}
	return nil
}

func (c *Coordinator) toggleDictation() error {
	if c.on {
		c.on = false
		c.active.Store(0)
		err := c.flush()
		c.fire(phase.ToggleOff)
		c.bus.Emit(bus.Clear{})
		if err != nil {
			return err
		}
		c.status("DICTATION OFF")
		cue.PlayEnd()
		return nil
	}

	switch c.machine.Current() {
	case phase.Loading:
		c.status("Model still loading, dictation not started")
		return nil
	case phase.Error:
		c.status("ERR speech engine unavailable: %v", c.warmErr)
		cue.PlayError()
		return nil
	}

	c.lastRec++
	c.rec = &session.Recording{ID: c.lastRec}
	c.on = true
	c.active.Store(int64(c.rec.ID))
	c.fire(phase.ToggleOn)
	c.status("DICTATION ON (Recording %d)", c.rec.ID)
	cue.PlayStart()
	return nil
}

func (c *Coordinator) toggleClipboard() {
	if c.mode == typing.Clipboard {
		c.mode = typing.Direct
	} else {
		c.mode = typing.Clipboard
	}
	c.bus.Emit(bus.ModeChanged{Clipboard: c.mode == typing.Clipboard})
	c.status("Typing mode: %s", c.mode)
}

// quit flushes the pending recording and stops the loop. Safe to reach
// both from the quit hotkey and from context cancellation.
func (c *Coordinator) quit() error {
	if c.quitting {
		return nil
	}
	c.quitting = true
	var err error
	if c.on {
		c.on = false
		c.active.Store(0)
		err = c.flush()
	}
	c.status("QUIT")
	c.fire(phase.Quit)
	return err
}

// flush writes the current recording to the session file. Failure to
// persist is fatal: text already typed would otherwise be lost silently.
func (c *Coordinator) flush() error {
	rec := c.rec
	c.rec = nil
	if rec == nil || rec.Empty() {
		return nil
	}
	if err := c.recorder.AppendRecording(rec, c.now()); err != nil {
		c.status("ERR session log: %v", err)
		log.Errorf("session append: %v", err)
		return fmt.Errorf("save recording %d: %w", rec.ID, err)
	}
	c.flushed++
	log.Recording(rec.ID, len(rec.Lines))
	return nil
}

func (c *Coordinator) onNotification(n speech.Notification) {
	if !c.on {
		return
	}
	switch n := n.(type) {
	case speech.VADDetectStart:
		c.fire(phase.VADDetectStart)
	case speech.VADStart:
		c.fire(phase.VADStart)
	case speech.RecordingStop:
		c.fire(phase.RecordingStop)
	case speech.TranscriptionStart:
		c.fire(phase.TranscriptionStart)
	case speech.RealtimeUpdate:
		c.bus.Emit(bus.Draft{Text: n.Text})
	}
}

func (c *Coordinator) onWarmup(m warmupMsg) {
	if m.err != nil {
		c.warmErr = m.err
		c.fire(phase.WarmupFailed)
		c.status("ERR warm-up: %v", m.err)
		log.Errorf("warm-up: %v", m.err)
		cue.PlayError()
		cue.Notify("dictate", "Speech model failed to load: "+m.err.Error())
		return
	}
	c.status("[4/4] Model loaded in %.1fs - Ready!", m.elapsed.Seconds())
	log.Warmup(m.elapsed.Seconds())
	c.fire(phase.WarmupDone)
	close(c.ready)
}

func (c *Coordinator) onFinal(m finalMsg) {
	if !c.on || c.rec == nil {
		return
	}
	text := strings.TrimSpace(m.text)
	if text == "" {
		return
	}
	if c.rec.ID != m.recording {
		log.Debugf("text started in recording %d, delivered to %d", m.recording, c.rec.ID)
	}
	c.bus.Emit(bus.Final{Text: text})
	c.rec.Add(text)
	if err := c.typist.Dispatch(text, c.mode); err != nil {
		c.status("ERR typing: %v", err)
		log.Warnf("dispatch: %v", err)
	}
	c.fire(phase.Delivered)
}

func (c *Coordinator) fire(t phase.Trigger) {
	if p, changed := c.machine.Fire(t); changed {
		c.bus.Emit(bus.PhaseChanged{Phase: p})
	}
}

func (c *Coordinator) status(format string, args ...any) {
	c.bus.Emit(bus.Status{Text: fmt.Sprintf(format, args...)})
}

func (c *Coordinator) publishTelemetry(st telemetry.Stats) {
	c.bus.Emit(bus.Telemetry{Stats: st})
	if st.Available {
		log.Telemetry(st.Device, st.AppGB, st.SystemGB, st.FreeGB, string(st.Level))
	}
}

func (c *Coordinator) warmup(ctx context.Context) {
	cfg := c.speechCfg
	c.status("[1/4] Initializing speech model: %s", cfg.Model)
	c.status("[2/4] Device: %s | Language: %s", cfg.Device, cfg.Language)
	c.status("[3/4] Loading %s model + VAD (this may take 10-30s)...", cfg.Model)

	start := time.Now()
	err := c.engine.Warmup(ctx, func(n speech.Notification) {
		c.post(notifyMsg{n: n})
	})
	if ctx.Err() != nil {
		return
	}
	c.post(warmupMsg{err: err, elapsed: time.Since(start)})
}

// finalizeLoop pulls finalized utterances from the engine while dictation
// is on. A call started during an earlier recording may complete after
// dictation was toggled off and on again; its text belongs to whichever
// recording is open when it arrives, and is dropped only if none is.
func (c *Coordinator) finalizeLoop(ctx context.Context) {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return
	}
	for {
		id := c.active.Load()
		if id == 0 {
			if !sleep(ctx, idlePoll) {
				return
			}
			continue
		}
		text, err := c.engine.Text(ctx)
		if ctx.Err() != nil || errors.Is(err, speech.ErrShutdown) {
			return
		}
		if err != nil {
			c.post(finalErrMsg{err: err})
			if !sleep(ctx, finalizeBackoff) {
				return
			}
			continue
		}
		c.post(finalMsg{recording: int(id), text: text})
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
