package hotkey

type FakeSource struct {
	events chan Event
}

func NewFake() *FakeSource {
	return &FakeSource{events: make(chan Event, 64)}
}

func (f *FakeSource) Register() error       { return nil }
func (f *FakeSource) Unregister()           {}
func (f *FakeSource) Events() <-chan Event { return f.events }

func (f *FakeSource) SimPress(k Key)   { f.events <- Event{Key: k, Down: true} }
func (f *FakeSource) SimRelease(k Key) { f.events <- Event{Key: k} }

// SimCombo presses Ctrl+Alt+k and releases it again.
func (f *FakeSource) SimCombo(k Key) {
	f.SimPress(KeyLeftCtrl)
	f.SimPress(KeyLeftAlt)
	f.SimPress(k)
	f.SimRelease(k)
	f.SimRelease(KeyLeftAlt)
	f.SimRelease(KeyLeftCtrl)
}
