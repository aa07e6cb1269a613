package dictation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dictate/bus"
	"dictate/cue"
	"dictate/hotkey"
	"dictate/phase"
	"dictate/session"
	"dictate/speech"
	"dictate/telemetry"
	"dictate/typing"
)

func TestMain(m *testing.M) {
	cue.Disable()
	os.Exit(m.Run())
}

type typed struct {
	text string
	mode typing.Mode
}

type fakeTypist struct {
	mu    sync.Mutex
	calls []typed
	err   error
}

func (f *fakeTypist) Dispatch(text string, mode typing.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, typed{text, mode})
	return f.err
}

func (f *fakeTypist) Calls() []typed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]typed(nil), f.calls...)
}

type harness struct {
	t      *testing.T
	coord  *Coordinator
	engine *speech.Fake
	typist *fakeTypist
	dir    string
	cancel context.CancelFunc
	errc   chan error

	seen    []bus.Event // consumed by waitFor
	pending []bus.Event // drained but not yet inspected
}

func newHarness(t *testing.T, setup func(*speech.Fake, *Options)) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		engine: speech.NewFake(),
		typist: &fakeTypist{},
		dir:    t.TempDir(),
		errc:   make(chan error, 1),
	}
	opts := Options{
		Engine:   h.engine,
		Speech:   speech.DefaultConfig(),
		Recorder: session.NewRecorder(h.dir),
		Typist:   h.typist,
		Bus:      bus.New(),
	}
	if setup != nil {
		setup(h.engine, &opts)
	}
	h.coord = New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.errc <- h.coord.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.coord.Done():
		case <-time.After(2 * time.Second):
			t.Error("coordinator did not stop")
		}
	})
	return h
}

// waitFor drains the bus until an event matches or the timeout expires.
func (h *harness) waitFor(desc string, match func(bus.Event) bool) bus.Event {
	h.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for len(h.pending) > 0 {
			ev := h.pending[0]
			h.pending = h.pending[1:]
			h.seen = append(h.seen, ev)
			if match(ev) {
				return ev
			}
		}
		if h.pending = h.coord.Bus().Drain(bus.DefaultBatch); len(h.pending) > 0 {
			continue
		}
		select {
		case <-deadline:
			h.t.Fatalf("timed out waiting for %s; saw %#v", desc, h.seen)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (h *harness) waitStatus(prefix string) {
	h.t.Helper()
	h.waitFor("status "+prefix, func(ev bus.Event) bool {
		s, ok := ev.(bus.Status)
		return ok && strings.HasPrefix(s.Text, prefix)
	})
}

func (h *harness) waitPhase(p phase.Phase) {
	h.t.Helper()
	h.waitFor("phase "+p.String(), func(ev bus.Event) bool {
		pc, ok := ev.(bus.PhaseChanged)
		return ok && pc.Phase == p
	})
}

func (h *harness) waitReady() {
	h.t.Helper()
	select {
	case <-h.coord.Ready():
	case <-time.After(2 * time.Second):
		h.t.Fatal("warm-up never finished")
	}
	h.waitPhase(phase.Off)
}

// settle gives the loop time to process preceding inputs, then moves
// everything queued into seen.
func (h *harness) settle() {
	h.t.Helper()
	h.coord.Do(hotkey.ActionNone)
	time.Sleep(20 * time.Millisecond)
	h.rest()
}

// rest moves every remaining event into seen and returns them.
func (h *harness) rest() []bus.Event {
	evs := append(h.pending, drainAll(h.coord.Bus())...)
	h.pending = nil
	h.seen = append(h.seen, evs...)
	return evs
}

func drainAll(b *bus.Bus) []bus.Event {
	var out []bus.Event
	for evs := b.Drain(bus.DefaultBatch); len(evs) > 0; evs = b.Drain(bus.DefaultBatch) {
		out = append(out, evs...)
	}
	return out
}

func (h *harness) final(text string) {
	h.t.Helper()
	if !h.engine.SimFinal(text) {
		h.t.Fatalf("final %q not picked up", text)
	}
}

func (h *harness) quit() error {
	h.t.Helper()
	h.coord.Do(hotkey.ActionQuit)
	select {
	case err := <-h.errc:
		return err
	case <-time.After(2 * time.Second):
		h.t.Fatal("Run did not return after quit")
		return nil
	}
}

func (h *harness) sessionFile() string {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(h.dir, "session_001.txt"))
	if err != nil {
		h.t.Fatal(err)
	}
	return string(data)
}

func TestStartupEvents(t *testing.T) {
	h := newHarness(t, nil)
	h.waitFor("session opened", func(ev bus.Event) bool { return ev == bus.SessionOpened{ID: 1} })
	h.waitStatus("Session 001 started")
	h.waitStatus("[1/4] Initializing speech model: medium")
	h.waitStatus("[4/4] Model loaded in")
	h.waitReady()
}

func TestLateTextDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	h.waitReady()

	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION ON (Recording 1)")
	if !h.engine.WaitPending(time.Second) {
		t.Fatal("finalize loop never called Text")
	}
	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION OFF")

	// text finalized for recording 1 after it ended
	h.final("late words")
	h.settle()

	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION ON (Recording 2)")
	h.final("kept words")
	h.waitFor("final", func(ev bus.Event) bool { return ev == bus.Final{Text: "kept words"} })

	if err := h.quit(); err != nil {
		t.Fatal(err)
	}
	h.rest()
	for _, ev := range h.seen {
		if ev == (bus.Final{Text: "late words"}) {
			t.Error("late text reached the display")
		}
	}
	if calls := h.typist.Calls(); len(calls) != 1 || calls[0].text != "kept words" {
		t.Errorf("typed = %+v", calls)
	}
	file := h.sessionFile()
	if strings.Contains(file, "late words") {
		t.Errorf("late text persisted:\n%s", file)
	}
	if !strings.Contains(file, "[Recording 2]") || !strings.Contains(file, "kept words\n") {
		t.Errorf("session file:\n%s", file)
	}
}

func TestRecordingIDsIncreaseAcrossEmptyRecordings(t *testing.T) {
	h := newHarness(t, nil)
	h.waitReady()

	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION ON (Recording 1)")
	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION OFF")

	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION ON (Recording 2)")
	h.final("second")
	h.waitFor("final", func(ev bus.Event) bool { return ev == bus.Final{Text: "second"} })
	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION OFF")

	file := h.sessionFile()
	if strings.Contains(file, "[Recording 1]") {
		t.Errorf("empty recording written:\n%s", file)
	}
	if !strings.Contains(file, "[Recording 2]") {
		t.Errorf("recording 2 missing:\n%s", file)
	}
}

func TestReenableKeepsPendingUtterance(t *testing.T) {
	h := newHarness(t, nil)
	h.waitReady()

	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION ON (Recording 1)")
	// the engine call now in flight started during recording 1
	if !h.engine.WaitPending(time.Second) {
		t.Fatal("finalize loop never called Text")
	}
	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION OFF")
	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION ON (Recording 2)")

	h.final("hello world")
	h.waitFor("final", func(ev bus.Event) bool { return ev == bus.Final{Text: "hello world"} })
	if err := h.quit(); err != nil {
		t.Fatal(err)
	}

	if calls := h.typist.Calls(); len(calls) != 1 || calls[0].text != "hello world" {
		t.Errorf("typed = %+v", calls)
	}
	file := h.sessionFile()
	if !strings.Contains(file, "[Recording 2]") || !strings.Contains(file, "hello world\n") {
		t.Errorf("session file:\n%s", file)
	}
}

func TestBusClosedAfterRun(t *testing.T) {
	h := newHarness(t, nil)
	h.waitReady()
	if err := h.quit(); err != nil {
		t.Fatal(err)
	}
	if h.coord.Bus().Emit(bus.Clear{}) {
		t.Error("bus accepted an event after Run returned")
	}
	// queued before the close, still drainable
	h.waitStatus("QUIT")
}

func TestToggleOffFlushesBeforeQuit(t *testing.T) {
	h := newHarness(t, nil)
	h.waitReady()

	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION ON")
	h.final("first line")
	h.waitFor("final 1", func(ev bus.Event) bool { return ev == bus.Final{Text: "first line"} })
	h.final("  second line ")
	h.waitFor("final 2", func(ev bus.Event) bool { return ev == bus.Final{Text: "second line"} })
	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitFor("clear", func(ev bus.Event) bool { return ev == bus.Clear{} })

	file := h.sessionFile()
	if !strings.HasSuffix(file, "first line\nsecond line\n\n") {
		t.Errorf("session file after toggle-off:\n%q", file)
	}
}

func TestQuitFlushesPendingRecording(t *testing.T) {
	h := newHarness(t, nil)
	h.waitReady()

	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION ON")
	h.final("unsaved")
	h.waitFor("final", func(ev bus.Event) bool { return ev == bus.Final{Text: "unsaved"} })

	if err := h.quit(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(h.sessionFile(), "unsaved\n") {
		t.Errorf("pending recording lost on quit:\n%s", h.sessionFile())
	}
	evs := h.rest()
	var sawQuit, sawOff bool
	for _, ev := range evs {
		sawQuit = sawQuit || ev == bus.Status{Text: "QUIT"}
		sawOff = sawOff || ev == bus.PhaseChanged{Phase: phase.Off}
	}
	if !sawQuit || !sawOff {
		t.Errorf("quit events = %#v", evs)
	}
	// Do after stop must not block
	h.coord.Do(hotkey.ActionToggleDictation)
}

func TestContextCancelFlushes(t *testing.T) {
	h := newHarness(t, nil)
	h.waitReady()

	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION ON")
	h.final("interrupted")
	h.waitFor("final", func(ev bus.Event) bool { return ev == bus.Final{Text: "interrupted"} })

	h.cancel()
	select {
	case err := <-h.errc:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !strings.Contains(h.sessionFile(), "interrupted\n") {
		t.Errorf("recording lost on cancel:\n%s", h.sessionFile())
	}
}

func TestPhaseSequence(t *testing.T) {
	h := newHarness(t, nil)
	h.waitReady()

	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitPhase(phase.Listening)
	h.engine.SimVADStart()
	h.waitPhase(phase.Speaking)
	h.engine.SimDraft("hel")
	h.waitFor("draft", func(ev bus.Event) bool { return ev == bus.Draft{Text: "hel"} })
	h.engine.SimVADStop()
	h.waitPhase(phase.Thinking)
	h.final("hello")
	h.waitPhase(phase.Listening)
	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitPhase(phase.Off)

	var phases []phase.Phase
	for _, ev := range h.seen {
		if pc, ok := ev.(bus.PhaseChanged); ok {
			phases = append(phases, pc.Phase)
		}
	}
	want := []phase.Phase{phase.Loading, phase.Off, phase.Listening, phase.Speaking, phase.Thinking, phase.Listening, phase.Off}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phases = %v, want %v", phases, want)
		}
	}
}

func TestNotificationsIgnoredWhileOff(t *testing.T) {
	h := newHarness(t, nil)
	h.waitReady()

	h.engine.SimVADStart()
	h.engine.SimDraft("stray")
	h.settle()
	for _, ev := range h.seen {
		switch ev := ev.(type) {
		case bus.Draft:
			t.Errorf("draft while off: %q", ev.Text)
		case bus.PhaseChanged:
			if ev.Phase == phase.Speaking {
				t.Error("phase changed while off")
			}
		}
	}
}

func TestToggleRejectedWhileLoading(t *testing.T) {
	var release func()
	h := newHarness(t, func(f *speech.Fake, _ *Options) { release = f.Hold() })
	defer release()

	h.waitPhase(phase.Loading)
	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("Model still loading")
	h.settle()
	for _, ev := range h.seen {
		if ev == (bus.PhaseChanged{Phase: phase.Listening}) {
			t.Fatal("dictation started before the model loaded")
		}
	}

	release()
	h.waitReady()
	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION ON (Recording 1)")
}

func TestWarmupFailure(t *testing.T) {
	h := newHarness(t, func(f *speech.Fake, _ *Options) { f.FailWarmup(errors.New("no cuda")) })

	h.waitPhase(phase.Error)
	h.waitStatus("ERR warm-up: no cuda")

	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("ERR speech engine unavailable")

	if err := h.quit(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-h.coord.Ready():
		t.Error("ready closed after failed warm-up")
	default:
	}
}

func TestFinalizeErrorReported(t *testing.T) {
	h := newHarness(t, nil)
	h.waitReady()

	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION ON")
	if !h.engine.SimError(errors.New("decoder crashed")) {
		t.Fatal("error not picked up")
	}
	h.waitStatus("ERR finalize: decoder crashed")

	// the loop retries after the back-off
	h.final("recovered")
	h.waitFor("final", func(ev bus.Event) bool { return ev == bus.Final{Text: "recovered"} })
}

func TestClipboardModeToggle(t *testing.T) {
	h := newHarness(t, nil)
	h.waitReady()

	h.coord.Do(hotkey.ActionToggleClipboard)
	h.waitFor("mode", func(ev bus.Event) bool { return ev == bus.ModeChanged{Clipboard: true} })
	h.waitStatus("Typing mode: Clipboard")

	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION ON")
	h.final("pasted")
	h.waitFor("final", func(ev bus.Event) bool { return ev == bus.Final{Text: "pasted"} })

	h.coord.Do(hotkey.ActionToggleClipboard)
	h.waitStatus("Typing mode: Direct")

	if calls := h.typist.Calls(); len(calls) != 1 || calls[0].mode != typing.Clipboard {
		t.Errorf("typed = %+v", calls)
	}
}

func TestTypingErrorIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.typist.mu.Lock()
	h.typist.err = errors.New("no focus")
	h.typist.mu.Unlock()
	h.waitReady()

	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION ON")
	h.final("still saved")
	h.waitStatus("ERR typing: no focus")

	if err := h.quit(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(h.sessionFile(), "still saved\n") {
		t.Error("text lost after typing error")
	}
}

func TestAppendFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.waitReady()

	h.coord.Do(hotkey.ActionToggleDictation)
	h.waitStatus("DICTATION ON")
	h.final("doomed")
	h.waitFor("final", func(ev bus.Event) bool { return ev == bus.Final{Text: "doomed"} })

	if err := os.Remove(filepath.Join(h.dir, "session_001.txt")); err != nil {
		t.Fatal(err)
	}
	h.coord.Do(hotkey.ActionToggleDictation)

	select {
	case err := <-h.errc:
		if err == nil || !strings.Contains(err.Error(), "save recording 1") {
			t.Errorf("Run err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept going after append failure")
	}
	h.waitStatus("ERR session log:")
}

func TestSessionOpenFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}
	c := New(Options{
		Engine:   speech.NewFake(),
		Recorder: session.NewRecorder(filepath.Join(blocker, "sessions")),
		Typist:   &fakeTypist{},
	})
	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected error when the session directory cannot be created")
	}
	// stopped engine must not block producers
	c.Do(hotkey.ActionQuit)
}

type fakeTelemetry struct{}

func (fakeTelemetry) Run(ctx context.Context, emit func(telemetry.Stats)) {
	emit(telemetry.Stats{Available: true, Device: "Fake GPU", FreeGB: 10, TotalGB: 24})
	<-ctx.Done()
}

func TestTelemetryPublished(t *testing.T) {
	h := newHarness(t, func(_ *speech.Fake, o *Options) { o.Telemetry = fakeTelemetry{} })
	h.waitFor("telemetry", func(ev bus.Event) bool {
		tm, ok := ev.(bus.Telemetry)
		return ok && tm.Stats.Device == "Fake GPU"
	})
}
