// Package recorder writes per-session edit recordings as JSON lines: a header
// followed by one [offset, kind, data] event per change.
package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sync-editor/backend/internal/protocol"
)

// Event kinds.
const (
	KindContent  = "c"
	KindLanguage = "l"
	KindUsers    = "u"
)

const formatVersion = 1

// Header is the first line of a recording.
type Header struct {
	Version   int    `json:"version"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
}

// Event is a single recorded change.
// Format: [time_offset, kind, data]
type Event struct {
	Offset float64
	Kind   string
	Data   string
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Offset, e.Kind, e.Data})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var arr []any
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}

	offset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	kind, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid event kind")
	}
	payload, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid event data type")
	}

	e.Offset, e.Kind, e.Data = offset, kind, payload
	return nil
}

// Recording appends events for one session.
type Recording struct {
	writer    io.Writer
	file      *os.File // only set if we own the file
	startTime time.Time
	mu        sync.Mutex
}

// Create opens path for appending and writes the header. A session id that is
// reused after eviction gets a second header and event run in the same file.
func Create(path, sessionID string) (*Recording, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}

	r := &Recording{writer: file, file: file, startTime: time.Now()}
	if err := r.writeHeader(sessionID); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// NewWithWriter records to w. Useful for testing.
func NewWithWriter(w io.Writer, sessionID string) (*Recording, error) {
	r := &Recording{writer: w, startTime: time.Now()}
	if err := r.writeHeader(sessionID); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recording) writeHeader(sessionID string) error {
	data, err := json.Marshal(Header{
		Version:   formatVersion,
		SessionID: sessionID,
		Timestamp: r.startTime.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// Write appends an event of the given kind.
func (r *Recording) Write(kind, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	line, err := json.Marshal(Event{
		Offset: time.Since(r.startTime).Seconds(),
		Kind:   kind,
		Data:   data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := r.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// WriteMessage records msg as one or more events.
func (r *Recording) WriteMessage(msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.ContentUpdate:
		if err := r.Write(KindContent, m.Content); err != nil {
			return err
		}
		if m.Language != "" {
			return r.Write(KindLanguage, m.Language)
		}
		return nil
	case protocol.LanguageUpdate:
		return r.Write(KindLanguage, m.Language)
	case protocol.UsersUpdate:
		users := m.ConnectedUsers
		if users == nil {
			users = []string{}
		}
		data, err := json.Marshal(users)
		if err != nil {
			return fmt.Errorf("failed to marshal users: %w", err)
		}
		return r.Write(KindUsers, string(data))
	default:
		return fmt.Errorf("unsupported message type %T", msg)
	}
}

func (r *Recording) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Manager owns one Recording per live session under dir. Recordings are
// opened on first use.
type Manager struct {
	dir        string
	recordings map[string]*Recording
	mu         sync.Mutex
}

// NewManager creates dir if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create record dir: %w", err)
	}
	return &Manager{
		dir:        dir,
		recordings: make(map[string]*Recording),
	}, nil
}

// Path returns the recording file for sessionID.
func (m *Manager) Path(sessionID string) string {
	return filepath.Join(m.dir, url.PathEscape(sessionID)+".jsonl")
}

// Record appends msg to the session's recording.
func (m *Manager) Record(sessionID string, msg protocol.Message) error {
	rec, err := m.open(sessionID)
	if err != nil {
		return err
	}
	return rec.WriteMessage(msg)
}

func (m *Manager) open(sessionID string) (*Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.recordings[sessionID]; ok {
		return rec, nil
	}
	rec, err := Create(m.Path(sessionID), sessionID)
	if err != nil {
		return nil, err
	}
	m.recordings[sessionID] = rec
	return rec, nil
}

// Close finishes the session's recording. A later Record starts a new run.
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	rec, ok := m.recordings[sessionID]
	delete(m.recordings, sessionID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return rec.Close()
}

// CloseAll finishes every open recording.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	recs := m.recordings
	m.recordings = make(map[string]*Recording)
	m.mu.Unlock()

	var firstErr error
	for _, rec := range recs {
		if err := rec.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
