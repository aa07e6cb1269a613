package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	logMu    sync.Mutex
	logReady bool
	pid      int
	runID    string
	dir      string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: DICTATE_LOG_PATH environment variable
	if envPath := os.Getenv("DICTATE_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

// RunID identifies this process in diagnostics. Empty before Init.
func RunID() string {
	return runID
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()
	runID = uuid.NewString()

	var err error
	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().
		Timestamp().
		Int("pid", pid).
		Str("run", runID).
		Logger()

	logReady = true
	return nil
}

// SetDebug lowers the level so Debugf lines are written.
func SetDebug(on bool) {
	if on {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Debugf(format string, args ...any) {
	if logReady {
		diagLog.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Warmup(elapsedS float64) {
	if !logReady {
		return
	}
	diagLog.Info().Float64("elapsed_s", elapsedS).Msg("warmup_done")
}

// Recording logs a flushed recording. Text itself lives in the session
// file and is not duplicated here.
func Recording(id, chunks int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("recording", id).
		Int("chunks", chunks).
		Msg("recording_flushed")
}

func Telemetry(device string, appGB, systemGB, freeGB float64, level string) {
	if !logReady {
		return
	}
	diagLog.Debug().
		Str("device", device).
		Float64("app_gb", appGB).
		Float64("system_gb", systemGB).
		Float64("free_gb", freeGB).
		Str("level", level).
		Msg("telemetry")
}

func SessionStart(id int, path, mode string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("session", id).
		Str("path", path).
		Str("mode", mode).
		Msg("session_start")
}

func SessionEnd(recordings int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("recordings", recordings).
		Msg("session_end")
}
