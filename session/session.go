// Package session persists finalized utterances, one text file per engine
// run, one block per recording.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	filePrefix = "session_"
	fileSuffix = ".txt"
	timeLayout = "2006-01-02T15:04:05"
)

var fileRe = regexp.MustCompile(`^` + filePrefix + `(\d+)` + regexp.QuoteMeta(fileSuffix) + `$`)

type Session struct {
	ID        int
	CreatedAt time.Time
	Path      string
}

// Recording is one dictation-on interval and the lines finalized in it.
type Recording struct {
	ID    int
	Lines []string
}

func (r *Recording) Add(line string) { r.Lines = append(r.Lines, line) }

// Empty reports whether the recording holds nothing worth writing.
func (r *Recording) Empty() bool {
	for _, l := range r.Lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}

type Recorder struct {
	dir     string
	session *Session
}

func NewRecorder(dir string) *Recorder {
	return &Recorder{dir: dir}
}

func (r *Recorder) Dir() string { return r.dir }

// Session returns the open session, or nil before Open.
func (r *Recorder) Session() *Session { return r.session }

// NextID scans dir for existing session files and returns max+1, or 1.
func NextID(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}
	maxID := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := fileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		maxID = max(maxID, id)
	}
	return maxID + 1, nil
}

func fileName(id int) string {
	return fmt.Sprintf("%s%03d%s", filePrefix, id, fileSuffix)
}

// Open allocates the next session id and creates its file with a header.
func (r *Recorder) Open(now time.Time) (*Session, error) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	id, err := NextID(r.dir)
	if err != nil {
		return nil, fmt.Errorf("scan session dir: %w", err)
	}
	s := &Session{
		ID:        id,
		CreatedAt: now,
		Path:      filepath.Join(r.dir, fileName(id)),
	}

	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("create session file: %w", err)
	}
	header := fmt.Sprintf("Session %03d — %s\n%s\n\n", id, now.Format(timeLayout), strings.Repeat("=", 60))
	if err := writeSync(f, header); err != nil {
		return nil, fmt.Errorf("write session header: %w", err)
	}
	r.session = s
	return s, nil
}

// AppendRecording writes rec as one block and syncs it to disk. Recordings
// with no non-blank lines are skipped.
func (r *Recorder) AppendRecording(rec *Recording, now time.Time) error {
	if r.session == nil {
		return fmt.Errorf("append recording %d: no open session", rec.ID)
	}
	var b strings.Builder
	for _, l := range rec.Lines {
		if l = strings.TrimSpace(l); l != "" {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	if b.Len() == 0 {
		return nil
	}
	block := fmt.Sprintf("[Recording %d] %s\n%s\n", rec.ID, now.Format(timeLayout), b.String())

	f, err := os.OpenFile(r.session.Path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	if err := writeSync(f, block); err != nil {
		return fmt.Errorf("append recording %d: %w", rec.ID, err)
	}
	return nil
}

func writeSync(f *os.File, s string) error {
	if _, err := f.WriteString(s); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
