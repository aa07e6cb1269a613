package hotkey

import "context"

// Key identifies a physical key the dictation hotkeys care about. Sources
// report every other key as KeyOther.
type Key int

const (
	KeyOther Key = iota
	KeyLeftCtrl
	KeyRightCtrl
	KeyLeftAlt
	KeyRightAlt
	KeyD
	KeyC
	KeyQ
)

func (k Key) String() string {
	switch k {
	case KeyLeftCtrl:
		return "lctrl"
	case KeyRightCtrl:
		return "rctrl"
	case KeyLeftAlt:
		return "lalt"
	case KeyRightAlt:
		return "ralt"
	case KeyD:
		return "d"
	case KeyC:
		return "c"
	case KeyQ:
		return "q"
	default:
		return "other"
	}
}

func (k Key) isCtrl() bool { return k == KeyLeftCtrl || k == KeyRightCtrl }
func (k Key) isAlt() bool  { return k == KeyLeftAlt || k == KeyRightAlt }

type Action int

const (
	ActionNone Action = iota
	ActionToggleDictation
	ActionToggleClipboard
	ActionQuit
)

func (a Action) String() string {
	switch a {
	case ActionToggleDictation:
		return "toggle_dictation"
	case ActionToggleClipboard:
		return "toggle_clipboard"
	case ActionQuit:
		return "quit"
	default:
		return "none"
	}
}

// Binding maps a target key, pressed together with Ctrl+Alt, to an action.
type Binding struct {
	Key    Key
	Action Action
}

// DefaultBindings lists the combos in the order they are checked.
var DefaultBindings = []Binding{
	{KeyD, ActionToggleDictation},
	{KeyC, ActionToggleClipboard},
	{KeyQ, ActionQuit},
}

// Debouncer turns raw key presses into at most one action per held combo.
// It is not safe for concurrent use; Listen drives it from one goroutine.
type Debouncer struct {
	bindings []Binding
	pressed  map[Key]bool
	locked   bool
}

func NewDebouncer(bindings ...Binding) *Debouncer {
	if len(bindings) == 0 {
		bindings = DefaultBindings
	}
	return &Debouncer{
		bindings: bindings,
		pressed:  make(map[Key]bool),
	}
}

func (d *Debouncer) modifiersHeld() bool {
	var ctrl, alt bool
	for k := range d.pressed {
		ctrl = ctrl || k.isCtrl()
		alt = alt || k.isAlt()
	}
	return ctrl && alt
}

// OnPress records k and returns the action to fire, if any. Key-repeat
// presses land here too and are swallowed by the lock.
func (d *Debouncer) OnPress(k Key) (Action, bool) {
	d.pressed[k] = true
	if !d.modifiersHeld() || d.locked {
		return ActionNone, false
	}
	for _, b := range d.bindings {
		if d.pressed[b.Key] {
			d.locked = true
			return b.Action, true
		}
	}
	return ActionNone, false
}

// OnRelease forgets k. The lock is released once Ctrl or Alt is up.
func (d *Debouncer) OnRelease(k Key) {
	delete(d.pressed, k)
	if !d.modifiersHeld() {
		d.locked = false
	}
}

// Listen feeds every event from src through a Debouncer and calls fire
// for each resulting action. It returns when ctx is done or the source
// channel closes.
func Listen(ctx context.Context, src Source, fire func(Action)) {
	d := NewDebouncer()
	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !ev.Down {
				d.OnRelease(ev.Key)
				continue
			}
			if a, ok := d.OnPress(ev.Key); ok {
				fire(a)
			}
		}
	}
}
