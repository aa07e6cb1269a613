//go:build !linux

package cue

import (
	"dictate/log"

	"github.com/gen2brain/beeep"
)

// play uses the system beeper; durations are shorter than on linux where
// the pulse tail has to fill the buffer.
func play(k kind) {
	var err error
	switch k {
	case kindStart:
		err = beeep.Beep(startFreq, 30)
	case kindEnd:
		err = beeep.Beep(endFreq, 50)
	case kindError:
		if err = beeep.Beep(errorFreq, 80); err == nil {
			err = beeep.Beep(errorFreq, 80)
		}
	}
	if err != nil {
		log.Warnf("beep: %v", err)
	}
}
