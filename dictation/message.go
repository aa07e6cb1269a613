package dictation

import (
	"time"

	"dictate/hotkey"
	"dictate/speech"
)

// message is an input to the coordinator loop.
type message interface {
	message()
}

type actionMsg struct {
	action hotkey.Action
}

type notifyMsg struct {
	n speech.Notification
}

type warmupMsg struct {
	err     error
	elapsed time.Duration
}

// finalMsg carries finalized text and the recording that was active when
// the engine call started.
type finalMsg struct {
	recording int
	text      string
}

type finalErrMsg struct {
	err error
}

func (actionMsg) message()   {}
func (notifyMsg) message()   {}
func (warmupMsg) message()   {}
func (finalMsg) message()    {}
func (finalErrMsg) message() {}
