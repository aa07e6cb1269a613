//go:build windows || darwin

package hotkey

import (
	"fmt"
	"sync"

	"golang.design/x/hotkey"
)

var comboKeys = []struct {
	target Key
	key    hotkey.Key
}{
	{KeyD, hotkey.KeyD},
	{KeyC, hotkey.KeyC},
	{KeyQ, hotkey.KeyQ},
}

// comboSource registers the Ctrl+Alt combos with the OS and replays each
// keydown/keyup as the raw transitions the Debouncer expects.
type comboSource struct {
	hks    []*hotkey.Hotkey
	events chan Event
	stop   chan struct{}
	once   sync.Once
}

func New() Source {
	return &comboSource{
		events: make(chan Event, 64),
		stop:   make(chan struct{}),
	}
}

func (h *comboSource) Register() error {
	for _, c := range comboKeys {
		hk := hotkey.New([]hotkey.Modifier{hotkey.ModCtrl, altModifier}, c.key)
		if err := hk.Register(); err != nil {
			h.Unregister()
			return fmt.Errorf("register ctrl+alt+%s: %w", c.target, err)
		}
		h.hks = append(h.hks, hk)
		go h.forward(hk, c.target)
	}
	return nil
}

func (h *comboSource) forward(hk *hotkey.Hotkey, target Key) {
	for {
		select {
		case <-h.stop:
			return
		case <-hk.Keydown():
			h.send(Event{Key: KeyLeftCtrl, Down: true}, Event{Key: KeyLeftAlt, Down: true}, Event{Key: target, Down: true})
		case <-hk.Keyup():
			h.send(Event{Key: target}, Event{Key: KeyLeftAlt}, Event{Key: KeyLeftCtrl})
		}
	}
}

func (h *comboSource) send(evs ...Event) {
	for _, ev := range evs {
		select {
		case h.events <- ev:
		case <-h.stop:
			return
		}
	}
}

func (h *comboSource) Unregister() {
	h.once.Do(func() {
		close(h.stop)
		for _, hk := range h.hks {
			hk.Unregister()
		}
	})
}

func (h *comboSource) Events() <-chan Event {
	return h.events
}
