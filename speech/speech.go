// Package speech is the boundary to the speech-to-text engine: a warm-up
// step that loads the model, a blocking call that returns the next
// finalized utterance, and asynchronous notifications about voice
// activity and realtime drafts.
package speech

import (
	"context"
	"errors"
	"time"
)

// ErrShutdown is returned by Text once the engine has been shut down.
var ErrShutdown = errors.New("speech engine shut down")

type Config struct {
	Model             string        `json:"model" env:"DICTATE_MODEL"`
	Language          string        `json:"language" env:"DICTATE_LANGUAGE"`
	Device            string        `json:"device" env:"DICTATE_DEVICE"`
	WebRTCSensitivity int           `json:"webrtc_sensitivity" env:"DICTATE_WEBRTC_SENSITIVITY"` // 0-3
	SileroSensitivity float64       `json:"silero_sensitivity" env:"DICTATE_SILERO_SENSITIVITY"` // 0-1
	SileroDeactivity  bool          `json:"silero_deactivity_detection" env:"DICTATE_SILERO_DEACTIVITY"`
	PostSpeechSilence time.Duration `json:"-" env:"DICTATE_POST_SPEECH_SILENCE"`
	Realtime          bool          `json:"enable_realtime_transcription" env:"DICTATE_REALTIME"`
	RealtimePause     time.Duration `json:"-" env:"DICTATE_REALTIME_PAUSE"`
	LatencyLimit      int           `json:"allowed_latency_limit" env:"DICTATE_LATENCY_LIMIT"`
}

func DefaultConfig() Config {
	return Config{
		Model:             "medium",
		Language:          "en",
		Device:            "cuda",
		WebRTCSensitivity: 3,
		SileroSensitivity: 0.5,
		SileroDeactivity:  true,
		PostSpeechSilence: 400 * time.Millisecond,
		Realtime:          true,
		RealtimePause:     150 * time.Millisecond,
		LatencyLimit:      140,
	}
}

// Notification is one of VADDetectStart, VADStart, RecordingStop,
// TranscriptionStart or RealtimeUpdate.
type Notification interface {
	notification()
}

// VADDetectStart: the engine is waiting for voice.
type VADDetectStart struct{}

// VADStart: voice detected, recording audio.
type VADStart struct{}

// RecordingStop: end of speech, audio captured.
type RecordingStop struct{}

// TranscriptionStart: final transcription of the captured audio began.
type TranscriptionStart struct{}

// RealtimeUpdate carries a provisional transcript of the current utterance.
type RealtimeUpdate struct {
	Text string
}

func (VADDetectStart) notification()     {}
func (VADStart) notification()           {}
func (RecordingStop) notification()      {}
func (TranscriptionStart) notification() {}
func (RealtimeUpdate) notification()     {}

// Engine is a speech-to-text backend.
//
// Warmup blocks until the model is ready; sink receives notifications from
// then on, on whatever goroutine the engine uses. Text blocks until the next
// utterance is finalized. Shutdown aborts any in-flight Text call, which
// then returns ErrShutdown.
type Engine interface {
	Warmup(ctx context.Context, sink func(Notification)) error
	Text(ctx context.Context) (string, error)
	Shutdown() error
}
