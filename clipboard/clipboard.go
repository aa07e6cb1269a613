// Package clipboard wraps the OS clipboard and synthetic keyboard input
// used to deliver text to the focused window.
package clipboard

import (
	"errors"

	cb "github.com/atotto/clipboard"
)

// ErrUnsupported is returned by Type where per-character typing is not
// available.
var ErrUnsupported = errors.New("direct typing not supported on this platform")

func Read() (string, error) {
	return cb.ReadAll()
}

func Copy(text string) error {
	return cb.WriteAll(text)
}
