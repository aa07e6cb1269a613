package clipboard

import (
	"runtime"
	"sync"
	"time"

	"github.com/micmonay/keybd_event"
)

var (
	kb     keybd_event.KeyBonding
	kbMu   sync.Mutex
	kbOnce sync.Once
	kbErr  error
)

// Init creates the virtual keyboard. On Linux this needs write access to
// /dev/uinput.
func Init() error {
	kbOnce.Do(func() {
		kb, kbErr = keybd_event.NewKeyBonding()
		if kbErr == nil && runtime.GOOS == "linux" {
			// Give the compositor time to pick up the new input device.
			time.Sleep(200 * time.Millisecond)
		}
	})
	return kbErr
}

func tap(key int, shift, ctrl bool) error {
	kbMu.Lock()
	defer kbMu.Unlock()
	kb.Clear()
	kb.SetKeys(key)
	kb.HasSHIFT(shift)
	kb.HasCTRL(ctrl)
	return kb.Launching()
}

// Verify checks that the virtual keyboard can be created.
func Verify() (string, error) {
	if err := Init(); err != nil {
		return "", err
	}
	return "keyboard event binding OK", nil
}
