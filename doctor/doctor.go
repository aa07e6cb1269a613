// Package doctor runs one-shot system diagnostics for everything the engine
// touches outside the process: hotkeys, the speech daemon, the accelerator,
// the virtual keyboard, the clipboard and the session directory.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"dictate/clipboard"
	"dictate/hotkey"
	"dictate/session"
	"dictate/speech"
	"dictate/telemetry"
)

// Check is one diagnostic. Run returns a short detail line on success.
type Check struct {
	Name string
	Run  func(ctx context.Context) (string, error)
}

type Deps struct {
	Hotkeys    hotkey.Source
	Engine     speech.Engine
	Poller     *telemetry.Poller
	SessionDir string

	HotkeyTimeout time.Duration
	EngineTimeout time.Duration
}

// Checks returns the standard diagnostics in the order they should run.
func Checks(d Deps) []Check {
	if d.HotkeyTimeout <= 0 {
		d.HotkeyTimeout = 10 * time.Second
	}
	if d.EngineTimeout <= 0 {
		d.EngineTimeout = 90 * time.Second
	}
	return []Check{
		{"Hotkey detection", func(ctx context.Context) (string, error) {
			return checkHotkey(ctx, d.Hotkeys, d.HotkeyTimeout)
		}},
		{"Speech engine", func(ctx context.Context) (string, error) {
			return checkEngine(ctx, d.Engine, d.EngineTimeout)
		}},
		{"Accelerator memory", func(ctx context.Context) (string, error) {
			return checkTelemetry(ctx, d.Poller)
		}},
		{"Keystroke output", func(context.Context) (string, error) {
			return checkKeyboard()
		}},
		{"Clipboard", checkClipboard},
		{"Session directory", func(context.Context) (string, error) {
			return checkSessionDir(d.SessionDir)
		}},
	}
}

// Run executes checks in order and returns an exit code (0=all pass,
// 1=any fail). Every check runs even after a failure.
func Run(ctx context.Context, w io.Writer, checks []Check) int {
	resetTerminal()

	fmt.Fprintln(w, "dictate doctor - system diagnostics")
	fmt.Fprintln(w, "===================================")

	failed := 0
	for i, c := range checks {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "[%d/%d] %s\n", i+1, len(checks), c.Name)
		if ctx.Err() != nil {
			fmt.Fprintln(w, "  SKIP: interrupted")
			failed++
			continue
		}
		detail, err := c.Run(ctx)
		if err != nil {
			fmt.Fprintf(w, "  FAIL: %v\n", err)
			failed++
			continue
		}
		fmt.Fprintf(w, "  PASS: %s\n", detail)
	}

	fmt.Fprintln(w)
	if failed == 0 {
		fmt.Fprintln(w, "All checks passed!")
		return 0
	}
	fmt.Fprintf(w, "%d of %d checks failed. See details above.\n", failed, len(checks))
	return 1
}

func checkHotkey(ctx context.Context, src hotkey.Source, timeout time.Duration) (string, error) {
	if src == nil {
		return "", errors.New("no hotkey source")
	}
	if err := src.Register(); err != nil {
		return "", fmt.Errorf("could not register hotkeys: %w", err)
	}
	defer src.Unregister()
	fmt.Println("  Press Ctrl+Alt+D...")

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	fired := make(chan hotkey.Action, 8)
	go hotkey.Listen(ctx, src, func(a hotkey.Action) {
		select {
		case fired <- a:
		default:
		}
	})

	for {
		select {
		case a := <-fired:
			if a == hotkey.ActionToggleDictation {
				// hotkey readers may leave the terminal in raw mode
				resetTerminal()
				return "Ctrl+Alt+D detected", nil
			}
		case <-ctx.Done():
			return "", errors.New("timeout waiting for Ctrl+Alt+D")
		}
	}
}

func checkEngine(ctx context.Context, eng speech.Engine, timeout time.Duration) (string, error) {
	if eng == nil {
		return "", errors.New("no speech engine configured")
	}
	defer eng.Shutdown()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	if err := eng.Warmup(ctx, func(speech.Notification) {}); err != nil {
		return "", fmt.Errorf("warm-up: %w", err)
	}
	return fmt.Sprintf("model ready in %.1fs", time.Since(start).Seconds()), nil
}

// checkTelemetry passes without an accelerator; the engine then runs on
// CPU and the footer reads "no CUDA".
func checkTelemetry(ctx context.Context, p *telemetry.Poller) (string, error) {
	if p == nil {
		return "", errors.New("no telemetry poller")
	}
	st, err := p.Poll(ctx)
	if errors.Is(err, telemetry.ErrNoDevice) {
		return "no CUDA device (CPU only)", nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s, %.1f / %.1f GB free (%s)", st.Device, st.FreeGB, st.TotalGB, st.Level), nil
}

func checkKeyboard() (string, error) {
	msg, err := clipboard.Verify()
	if err != nil {
		return "", fmt.Errorf("%w (on Linux: sudo chmod 660 /dev/uinput && sudo chgrp input /dev/uinput)", err)
	}
	return msg, nil
}

// checkClipboard writes a marker, reads it back and restores the previous
// content. Clipboard tools can hang when the compositor is unreachable, so
// the round trip is bounded.
func checkClipboard(ctx context.Context) (string, error) {
	type result struct {
		readback string
		err      error
	}
	marker := fmt.Sprintf("dictate-doctor-%d", time.Now().UnixNano())
	ch := make(chan result, 1)
	go func() {
		prev, _ := clipboard.Read()
		if err := clipboard.Copy(marker); err != nil {
			ch <- result{err: fmt.Errorf("write: %w", err)}
			return
		}
		got, err := clipboard.Read()
		clipboard.Copy(prev)
		if err != nil {
			ch <- result{err: fmt.Errorf("read: %w", err)}
			return
		}
		ch <- result{readback: got}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		if res.readback != marker {
			return "", fmt.Errorf("mismatch: wrote %q, got %q", marker, res.readback)
		}
		return "write/read/restore verified", nil
	case <-time.After(3 * time.Second):
		return "", errors.New("timed out (clipboard tool hung - compositor not accessible?)")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func checkSessionDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	next, err := session.NextID(dir)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return "", fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return fmt.Sprintf("%s writable, next session %03d", dir, next), nil
}
