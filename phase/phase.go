// Package phase holds the dictation activity state shared by the
// coordinator and every display surface.
package phase

// Phase is the coordinator's current high-level activity label.
type Phase int

const (
	Loading Phase = iota // speech engine warming up
	Off                  // dictation toggled off
	Listening            // waiting for speech
	Speaking             // voice activity detected
	Thinking             // transcribing / finalizing
	Error                // warm-up failed
)

func (p Phase) String() string {
	switch p {
	case Loading:
		return "LOADING"
	case Off:
		return "OFF"
	case Listening:
		return "LISTENING"
	case Speaking:
		return "SPEAKING"
	case Thinking:
		return "THINKING"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Active reports whether speech is being captured in this phase.
func (p Phase) Active() bool {
	return p == Listening || p == Speaking
}

type Trigger int

const (
	WarmupDone Trigger = iota
	WarmupFailed
	ToggleOn
	ToggleOff
	VADDetectStart
	VADStart
	RecordingStop
	TranscriptionStart
	Delivered
	Quit
)

func (t Trigger) String() string {
	switch t {
	case WarmupDone:
		return "warmup_done"
	case WarmupFailed:
		return "warmup_failed"
	case ToggleOn:
		return "toggle_on"
	case ToggleOff:
		return "toggle_off"
	case VADDetectStart:
		return "vad_detect_start"
	case VADStart:
		return "vad_start"
	case RecordingStop:
		return "recording_stop"
	case TranscriptionStart:
		return "transcription_start"
	case Delivered:
		return "delivered"
	case Quit:
		return "quit"
	default:
		return "unknown"
	}
}

// Next returns the phase reached from p on t, and false when t is not
// legal in p.
func Next(p Phase, t Trigger) (Phase, bool) {
	switch t {
	case Quit, ToggleOff:
		if p == Off || (t == ToggleOff && (p == Loading || p == Error)) {
			return p, false
		}
		return Off, true
	}

	switch p {
	case Loading:
		switch t {
		case WarmupDone:
			return Off, true
		case WarmupFailed:
			return Error, true
		}
	case Off:
		if t == ToggleOn {
			return Listening, true
		}
	case Listening:
		switch t {
		case VADStart:
			return Speaking, true
		case RecordingStop, TranscriptionStart:
			return Thinking, true
		}
	case Speaking:
		switch t {
		case VADDetectStart:
			return Listening, true
		case RecordingStop, TranscriptionStart:
			return Thinking, true
		}
	case Thinking:
		switch t {
		case Delivered, VADDetectStart:
			return Listening, true
		case VADStart:
			return Speaking, true
		}
	}
	return p, false
}

// Machine tracks the current phase. It is not safe for concurrent use;
// the coordinator confines it to its own goroutine.
type Machine struct {
	cur Phase
}

func NewMachine() *Machine {
	return &Machine{cur: Loading}
}

func (m *Machine) Current() Phase { return m.cur }

// Fire applies t and reports the resulting phase and whether it changed.
func (m *Machine) Fire(t Trigger) (Phase, bool) {
	next, ok := Next(m.cur, t)
	if !ok || next == m.cur {
		return m.cur, false
	}
	m.cur = next
	return next, true
}
