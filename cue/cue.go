// Package cue plays short audible cues for dictation on/off and errors.
package cue

import (
	"sync/atomic"

	"dictate/log"

	"github.com/gen2brain/beeep"
)

var disabled atomic.Bool

func Disable() { disabled.Store(true) }

func Enabled() bool { return !disabled.Load() }

const (
	sampleRate = 44100

	// Start beep: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End beep: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error beep: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

func PlayStart() {
	if Enabled() {
		go play(kindStart)
	}
}

func PlayEnd() {
	if Enabled() {
		go play(kindEnd)
	}
}

func PlayError() {
	if Enabled() {
		go play(kindError)
	}
}

// Notify shows a desktop notification. Used for failures the user would
// otherwise miss with the terminal hidden.
func Notify(title, msg string) {
	if !Enabled() {
		return
	}
	go func() {
		if err := beeep.Notify(title, msg, ""); err != nil {
			log.Warnf("desktop notification: %v", err)
		}
	}()
}

type kind int

const (
	kindStart kind = iota
	kindEnd
	kindError
)
