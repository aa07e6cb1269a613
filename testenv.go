package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"dictate/bus"
	"dictate/config"
	"dictate/dictation"
	"dictate/hotkey"
	"dictate/log"
	"dictate/session"
	"dictate/speech"
	"dictate/typing"
)

// stdoutTypist prints dispatched text instead of driving the keyboard.
type stdoutTypist struct {
	mu sync.Mutex
}

func (t *stdoutTypist) Dispatch(text string, mode typing.Mode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Printf("TYPED[%s]: %s\n", mode, text)
	return nil
}

// runTestMode runs the engine headless against an in-process speech engine
// and a fake hotkey source, both driven by commands read from stdin:
//
//	TOGGLE | CLIP | QUIT        press Ctrl+Alt+D / C / Q
//	WAIT_READY                  block until the model has loaded
//	VAD_START | VAD_STOP        voice activity notifications
//	DRAFT <text>                realtime preview
//	FINAL <text>                finalized utterance
//	FAIL <message>              finalize error
//	SLEEP <ms>
//
// End of input quits.
func runTestMode(cfg *config.Config) int {
	log.Info("test mode")

	engine := speech.NewFake()
	hk := hotkey.NewFake()
	coord := dictation.New(dictation.Options{
		Engine:    engine,
		Speech:    cfg.Speech,
		Recorder:  session.NewRecorder(cfg.SessionDir),
		Typist:    &stdoutTypist{},
		Bus:       bus.New(),
		Clipboard: cfg.Clipboard,
	})

	go drive(bufio.NewScanner(os.Stdin), coord, engine, hk)

	headless := *cfg
	headless.TUI = false
	return runEngine(&headless, coord, hk)
}

func drive(scanner *bufio.Scanner, coord *dictation.Coordinator, engine *speech.Fake, hk *hotkey.FakeSource) {
	for scanner.Scan() {
		cmd, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		switch cmd {
		case "TOGGLE":
			hk.SimCombo(hotkey.KeyD)
		case "CLIP":
			hk.SimCombo(hotkey.KeyC)
		case "QUIT":
			hk.SimCombo(hotkey.KeyQ)
			return
		case "WAIT_READY":
			select {
			case <-coord.Ready():
			case <-coord.Done():
				return
			}
		case "VAD_START":
			engine.SimVADStart()
		case "VAD_STOP":
			engine.SimVADStop()
		case "DRAFT":
			engine.SimDraft(arg)
		case "FINAL":
			if !engine.SimFinal(arg) {
				log.Warnf("test mode: no pending transcription for %q", arg)
			}
		case "FAIL":
			engine.SimError(errors.New(arg))
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "":
		default:
			log.Warnf("test mode: unknown command %q", cmd)
		}
	}
	coord.Do(hotkey.ActionQuit)
}
