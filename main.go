package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"dictate/bus"
	"dictate/clipboard"
	"dictate/config"
	"dictate/cue"
	"dictate/dictation"
	"dictate/doctor"
	"dictate/hotkey"
	"dictate/log"
	"dictate/session"
	"dictate/shutdown"
	"dictate/speech"
	"dictate/telemetry"
	"dictate/typing"

	"golang.org/x/term"
)

var version = "dev"

func run() {
	os.Exit(start())
}

// start wires the engine from configuration and returns the process exit
// code once it has stopped.
func start() int {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	if cfg.Version {
		fmt.Printf("dictate %s\n", version)
		return 0
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()

	if cfg.Crash {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()
	log.SetDebug(cfg.Debug)

	if !cfg.Beep || cfg.Test {
		cue.Disable()
	}

	if cfg.Test {
		return runTestMode(cfg)
	}
	if cfg.Doctor {
		return runDoctor(cfg)
	}

	if err := clipboard.Init(); err != nil {
		log.Warnf("keyboard injection init: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: keyboard injection unavailable: %v\n", err)
	}

	inj, clip := typing.System()
	ready := make(chan struct{})
	coord := dictation.New(dictation.Options{
		Engine:    speech.NewRemote(cfg.EngineURL, cfg.Speech),
		Speech:    cfg.Speech,
		Recorder:  session.NewRecorder(cfg.SessionDir),
		Typist:    typing.New(inj, clip, cfg.PasteSettle),
		Bus:       bus.New(),
		Telemetry: newPoller(cfg, ready),
		Clipboard: cfg.Clipboard,
		Ready:     ready,
	})

	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		log.Errorf("hotkey register: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to register hotkeys: %v\n", err)
		return 1
	}
	defer hk.Unregister()

	return runEngine(cfg, coord, hk)
}

// runEngine starts the coordinator with the given hotkey source and blocks
// until it stops and the display has drained.
func runEngine(cfg *config.Config, coord *dictation.Coordinator, hk hotkey.Source) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopSignals := shutdown.Watch(ctx, func(sig os.Signal) {
		log.Infof("received %v", sig)
		coord.Do(hotkey.ActionQuit)
	})
	defer stopSignals()

	go hotkey.Listen(ctx, hk, coord.Do)

	errc := make(chan error, 1)
	go func() { errc <- coord.Run(ctx) }()

	if cfg.TUI && term.IsTerminal(int(os.Stdout.Fd())) {
		if _, err := NewTUIProgram(coord).Run(); err != nil {
			log.Errorf("TUI error: %v", err)
			coord.Do(hotkey.ActionQuit)
		}
	} else {
		runHeadless(coord)
	}

	if err := <-errc; err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// runHeadless prints status and dictated text lines until the coordinator
// stops.
func runHeadless(coord *dictation.Coordinator) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-coord.Done()
		cancel()
	}()
	coord.Bus().Consume(ctx, drainInterval, bus.DefaultBatch, func(ev bus.Event) {
		switch ev := ev.(type) {
		case bus.Status:
			fmt.Println("STATUS:", ev.Text)
		case bus.Final:
			fmt.Println("FINAL:", ev.Text)
		case bus.PhaseChanged:
			fmt.Println("PHASE:", ev.Phase)
		case bus.SessionOpened:
			fmt.Printf("SESSION: %03d\n", ev.ID)
		}
	})
}

func runDoctor(cfg *config.Config) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := shutdown.Watch(ctx, func(os.Signal) {
		fmt.Println("\nInterrupted")
		cancel()
	})
	defer stop()

	return doctor.Run(ctx, os.Stdout, doctor.Checks(doctor.Deps{
		Hotkeys:    hotkey.New(),
		Engine:     speech.NewRemote(cfg.EngineURL, cfg.Speech),
		Poller:     newPoller(cfg, nil),
		SessionDir: cfg.SessionDir,
	}))
}

func newPoller(cfg *config.Config, ready chan struct{}) *telemetry.Poller {
	tc := telemetry.Config{
		Interval: cfg.TelemetryInterval,
		Index:    cfg.TelemetryDevice,
		Strict:   cfg.Debug,
	}
	if cfg.Baseline == "ready" {
		tc.BaselineGate = ready
	}
	return telemetry.NewPoller(tc, telemetry.NewNVML(), telemetry.NewSMI())
}

// initCrashLog appends runtime crash output to crash_log.txt in the log
// directory, headed by a session marker.
func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}
