//go:build !darwin

package clipboard

import "github.com/micmonay/keybd_event"

// Paste sends Ctrl+V to the focused window.
func Paste() error {
	if err := Init(); err != nil {
		return err
	}
	return tap(keybd_event.VK_V, false, true)
}
