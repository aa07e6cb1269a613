package hotkey

// Event is one raw key transition from the keyboard hook. Auto-repeat is
// delivered as further Down events.
type Event struct {
	Key  Key
	Down bool
}

// Source is a keyboard hook. Events must not block the hook for long;
// Listen drains them on its own goroutine.
type Source interface {
	Register() error
	Unregister()
	Events() <-chan Event
}
