// Package typing delivers finalized text to the focused application.
package typing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dictate/clipboard"
	"dictate/log"
)

type Mode int

const (
	Direct Mode = iota
	Clipboard
)

func (m Mode) String() string {
	if m == Clipboard {
		return "Clipboard"
	}
	return "Direct"
}

// Separator follows every delivered chunk so consecutive utterances do not
// run together.
const Separator = " "

// Injector produces OS-level input in the focused window.
type Injector interface {
	Type(text string) error
	Paste() error
}

// ClipboardStore is the system clipboard.
type ClipboardStore interface {
	Read() (string, error)
	Write(text string) error
}

type systemInjector struct{}

func (systemInjector) Type(text string) error { return clipboard.Type(text) }
func (systemInjector) Paste() error           { return clipboard.Paste() }

type systemClipboard struct{}

func (systemClipboard) Read() (string, error)  { return clipboard.Read() }
func (systemClipboard) Write(text string) error { return clipboard.Copy(text) }

// System returns the injector and clipboard backed by the OS.
func System() (Injector, ClipboardStore) {
	return systemInjector{}, systemClipboard{}
}

type Dispatcher struct {
	inj    Injector
	clip   ClipboardStore
	settle time.Duration
}

// New builds a dispatcher. settle is the pause around the paste keystroke
// that lets the target application read the clipboard before it is
// restored.
func New(inj Injector, clip ClipboardStore, settle time.Duration) *Dispatcher {
	return &Dispatcher{inj: inj, clip: clip, settle: settle}
}

// Dispatch trims text and delivers it with a trailing separator. Only
// injection failures are returned; clipboard trouble is logged and the
// paste goes ahead regardless.
func (d *Dispatcher) Dispatch(text string, mode Mode) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if mode == Direct {
		err := d.inj.Type(text + Separator)
		if !errors.Is(err, clipboard.ErrUnsupported) {
			if err != nil {
				return fmt.Errorf("type: %w", err)
			}
			return nil
		}
		log.Warn("direct typing unsupported, pasting instead")
	}
	return d.paste(text)
}

func (d *Dispatcher) paste(text string) error {
	prev, err := d.clip.Read()
	havePrev := err == nil
	if err != nil {
		log.Warnf("clipboard read: %v", err)
	}

	if err := d.clip.Write(text + Separator); err != nil {
		log.Warnf("clipboard write: %v", err)
		havePrev = false
	}
	d.sleep()
	pasteErr := d.inj.Paste()
	d.sleep()

	if havePrev {
		if err := d.clip.Write(prev); err != nil {
			log.Warnf("clipboard restore: %v", err)
		}
	}
	if pasteErr != nil {
		return fmt.Errorf("paste: %w", pasteErr)
	}
	return nil
}

func (d *Dispatcher) sleep() {
	if d.settle > 0 {
		time.Sleep(d.settle)
	}
}
