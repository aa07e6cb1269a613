package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dictate/log"

	"nhooyr.io/websocket"
)

type configureMsg struct {
	Type string `json:"type"`
	Config
	PostSpeechSilenceS float64 `json:"post_speech_silence_duration"`
	RealtimePauseS     float64 `json:"realtime_processing_pause"`
}

// daemonMsg is every other frame in either direction. ID pairs a final or
// error with the listen request it answers; daemons that leave it zero
// get their results delivered unchecked.
type daemonMsg struct {
	Type string `json:"type"`
	ID   uint64 `json:"id,omitempty"`
	Text string `json:"text,omitempty"`
}

type result struct {
	text string
	err  error
}

// Remote drives a speech daemon over a websocket. The daemon owns the
// microphone and the model; Remote relays its events.
type Remote struct {
	url string
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    *websocket.Conn
	results chan result
	done    chan struct{}
	doneErr error
	once    sync.Once
	closing atomic.Bool
	listen  atomic.Uint64 // id of the latest listen request
}

func NewRemote(url string, cfg Config) *Remote {
	ctx, cancel := context.WithCancel(context.Background())
	return &Remote{
		url:     url,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		results: make(chan result, 1),
		done:    make(chan struct{}),
	}
}

// Warmup connects, sends the configuration and waits for the daemon to
// report ready. Notifications that arrive during loading are forwarded.
func (r *Remote) Warmup(ctx context.Context, sink func(Notification)) error {
	dialCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-r.ctx.Done():
			stop()
		case <-dialCtx.Done():
		}
	}()

	conn, _, err := websocket.Dial(dialCtx, r.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", r.url, err)
	}
	conn.SetReadLimit(1 << 20)

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	msg := configureMsg{
		Type:               "configure",
		Config:             r.cfg,
		PostSpeechSilenceS: r.cfg.PostSpeechSilence.Seconds(),
		RealtimePauseS:     r.cfg.RealtimePause.Seconds(),
	}
	if err := r.write(dialCtx, msg); err != nil {
		conn.Close(websocket.StatusInternalError, "configure failed")
		return fmt.Errorf("configure: %w", err)
	}

	for {
		m, err := r.read(dialCtx)
		if err != nil {
			conn.Close(websocket.StatusInternalError, "")
			if r.ctx.Err() != nil {
				return ErrShutdown
			}
			return fmt.Errorf("waiting for model: %w", err)
		}
		switch m.Type {
		case "ready":
			go r.readLoop(sink)
			return nil
		case "error":
			conn.Close(websocket.StatusNormalClosure, "")
			return errors.New(m.Text)
		default:
			if n, ok := toNotification(m); ok && sink != nil {
				sink(n)
			}
		}
	}
}

// Text asks the daemon for the next finalized utterance.
func (r *Remote) Text(ctx context.Context) (string, error) {
	select {
	case <-r.done:
		return "", r.closedErr()
	default:
	}
	id := r.listen.Add(1)
	// a result left over from an abandoned call is stale
	select {
	case <-r.results:
	default:
	}
	if err := r.write(ctx, daemonMsg{Type: "listen", ID: id}); err != nil {
		if r.ctx.Err() != nil {
			return "", ErrShutdown
		}
		return "", fmt.Errorf("listen: %w", err)
	}
	select {
	case res := <-r.results:
		return res.text, res.err
	case <-r.done:
		return "", r.closedErr()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Shutdown tells the daemon to stop and closes the connection. Safe to call
// more than once.
func (r *Remote) Shutdown() error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()

	if conn != nil && !r.closing.Swap(true) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		if werr := r.write(ctx, daemonMsg{Type: "shutdown"}); werr != nil {
			log.Warnf("speech shutdown message: %v", werr)
		}
		cancel()
	}
	r.finish(ErrShutdown)
	r.cancel()
	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
			log.Debugf("speech close: %v", err)
		}
	}
	return nil
}

func (r *Remote) readLoop(sink func(Notification)) {
	for {
		m, err := r.read(r.ctx)
		if err != nil {
			if r.closing.Load() || r.ctx.Err() != nil {
				r.finish(ErrShutdown)
			} else {
				log.Errorf("speech connection lost: %v", err)
				r.finish(fmt.Errorf("speech connection lost: %w", err))
			}
			return
		}
		switch m.Type {
		case "final":
			r.deliver(m.ID, result{text: m.Text})
		case "error":
			r.deliver(m.ID, result{err: errors.New(m.Text)})
		default:
			if n, ok := toNotification(m); ok && sink != nil {
				sink(n)
			} else if !ok {
				log.Debugf("speech: ignoring message type %q", m.Type)
			}
		}
	}
}

// deliver hands a result to the pending Text call. A result answering an
// older listen request, or one nobody asked for, is dropped.
func (r *Remote) deliver(id uint64, res result) {
	if cur := r.listen.Load(); id != 0 && id != cur {
		log.Debugf("speech: dropping result for listen %d, current is %d", id, cur)
		return
	}
	select {
	case r.results <- res:
	default:
		log.Warn("speech: dropping unrequested result")
	}
}

func (r *Remote) finish(err error) {
	r.once.Do(func() {
		r.mu.Lock()
		r.doneErr = err
		r.mu.Unlock()
		close(r.done)
	})
}

func (r *Remote) closedErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doneErr
}

func (r *Remote) write(ctx context.Context, v any) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return ErrShutdown
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (r *Remote) read(ctx context.Context) (daemonMsg, error) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()

	_, data, err := conn.Read(ctx)
	if err != nil {
		return daemonMsg{}, err
	}
	var m daemonMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return daemonMsg{}, fmt.Errorf("decode %q: %w", data, err)
	}
	return m, nil
}

func toNotification(m daemonMsg) (Notification, bool) {
	switch m.Type {
	case "vad_detect_start":
		return VADDetectStart{}, true
	case "vad_start":
		return VADStart{}, true
	case "recording_stop":
		return RecordingStop{}, true
	case "transcription_start":
		return TranscriptionStart{}, true
	case "realtime":
		return RealtimeUpdate{Text: m.Text}, true
	}
	return nil, false
}
