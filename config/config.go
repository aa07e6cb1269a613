// Package config assembles runtime settings: built-in defaults, then a
// .env file, then DICTATE_* environment variables, then command-line flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"dictate/speech"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	LogPath    string `env:"DICTATE_LOG_PATH"`
	SessionDir string `env:"DICTATE_SESSION_DIR"`
	EngineURL  string `env:"DICTATE_ENGINE_URL"`

	Speech speech.Config

	TelemetryInterval time.Duration `env:"DICTATE_TELEMETRY_INTERVAL"`
	TelemetryDevice   int           `env:"DICTATE_TELEMETRY_DEVICE"`
	Baseline          string        `env:"DICTATE_BASELINE"` // start|ready

	Clipboard   bool          `env:"DICTATE_CLIPBOARD"` // start in clipboard typing mode
	PasteSettle time.Duration `env:"DICTATE_PASTE_SETTLE"`

	TUI   bool `env:"DICTATE_TUI"`
	Beep  bool `env:"DICTATE_BEEP"`
	Debug bool `env:"DICTATE_DEBUG"`
	Test  bool

	Doctor  bool
	Version bool
	Crash   bool
}

func Defaults() *Config {
	return &Config{
		SessionDir:        "logs",
		EngineURL:         "ws://127.0.0.1:8765/",
		Speech:            speech.DefaultConfig(),
		TelemetryInterval: 500 * time.Millisecond,
		Baseline:          "start",
		PasteSettle:       50 * time.Millisecond,
		TUI:               true,
		Beep:              true,
	}
}

// Load reads configuration for args (os.Args[1:]). A missing .env file is
// not an error.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	fs := flag.NewFlagSet("dictate", flag.ContinueOnError)
	cfg.bind(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.LogPath, "logpath", c.LogPath, "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.StringVar(&c.SessionDir, "sessions", c.SessionDir, "directory for session_NNN.txt records")
	fs.StringVar(&c.EngineURL, "engine", c.EngineURL, "speech daemon websocket URL")

	fs.StringVar(&c.Speech.Model, "model", c.Speech.Model, "speech model name")
	fs.StringVar(&c.Speech.Language, "lang", c.Speech.Language, "language code (e.g., en, es, fr)")
	fs.StringVar(&c.Speech.Device, "device", c.Speech.Device, "inference device (cuda or cpu)")
	fs.IntVar(&c.Speech.WebRTCSensitivity, "webrtc-sensitivity", c.Speech.WebRTCSensitivity, "WebRTC VAD sensitivity, 0-3")
	fs.Float64Var(&c.Speech.SileroSensitivity, "silero-sensitivity", c.Speech.SileroSensitivity, "Silero VAD sensitivity, 0-1")
	fs.BoolVar(&c.Speech.SileroDeactivity, "silero-deactivity", c.Speech.SileroDeactivity, "use Silero for end-of-speech detection")
	fs.DurationVar(&c.Speech.PostSpeechSilence, "post-speech-silence", c.Speech.PostSpeechSilence, "silence before an utterance is finalized")
	fs.BoolVar(&c.Speech.Realtime, "realtime", c.Speech.Realtime, "stream provisional drafts while speaking")
	fs.DurationVar(&c.Speech.RealtimePause, "realtime-pause", c.Speech.RealtimePause, "pause between realtime draft updates")
	fs.IntVar(&c.Speech.LatencyLimit, "latency-limit", c.Speech.LatencyLimit, "allowed realtime latency in chunks")

	fs.DurationVar(&c.TelemetryInterval, "telemetry-interval", c.TelemetryInterval, "accelerator memory polling interval")
	fs.IntVar(&c.TelemetryDevice, "gpu", c.TelemetryDevice, "accelerator index to monitor")
	fs.StringVar(&c.Baseline, "baseline", c.Baseline, "when to capture the memory baseline: start or ready")

	fs.BoolVar(&c.Clipboard, "clipboard", c.Clipboard, "start in clipboard typing mode")
	fs.DurationVar(&c.PasteSettle, "paste-settle", c.PasteSettle, "pause around the paste keystroke")

	fs.BoolVar(&c.TUI, "tui", c.TUI, "run with terminal UI")
	fs.BoolVar(&c.Beep, "beep", c.Beep, "audible cues on toggle and errors")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "debug logging and stricter memory thresholds")
	fs.BoolVar(&c.Test, "test", c.Test, "test mode (headless, stdin-driven)")
	fs.BoolVar(&c.Doctor, "doctor", c.Doctor, "run system diagnostics and exit")
	fs.BoolVar(&c.Version, "version", c.Version, "print version and exit")
	fs.BoolVar(&c.Crash, "crash", c.Crash, "trigger synthetic panic for testing crash logging")
}

func (c *Config) Validate() error {
	switch c.Baseline {
	case "start", "ready":
	default:
		return fmt.Errorf("unknown baseline %q (use start or ready)", c.Baseline)
	}
	if c.TelemetryInterval <= 0 {
		return fmt.Errorf("telemetry interval must be positive, got %v", c.TelemetryInterval)
	}
	if c.TelemetryDevice < 0 {
		return fmt.Errorf("gpu index must not be negative, got %d", c.TelemetryDevice)
	}
	if s := c.Speech.WebRTCSensitivity; s < 0 || s > 3 {
		return fmt.Errorf("webrtc sensitivity must be 0-3, got %d", s)
	}
	if s := c.Speech.SileroSensitivity; s < 0 || s > 1 {
		return fmt.Errorf("silero sensitivity must be 0-1, got %g", s)
	}
	if c.SessionDir == "" {
		return fmt.Errorf("session directory must not be empty")
	}
	return nil
}
