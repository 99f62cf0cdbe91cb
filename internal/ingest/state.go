package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultStatePath is where the service keeps its import state.
const DefaultStatePath = "~/.waexport/import-state.json"

// maxStateErrors bounds State.Errors; older entries are dropped first.
const maxStateErrors = 100

// FileMark records the version of a file that was imported.
type FileMark struct {
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mod_time"`
	Records    int       `json:"records"`
	ImportedAt time.Time `json:"imported_at"`
	Err        string    `json:"error,omitempty"`
}

// State tracks imported files so scans can resume and skip unchanged exports.
type State struct {
	StartedAt      time.Time           `json:"started_at"`
	LastRunAt      time.Time           `json:"last_run_at"`
	Files          map[string]FileMark `json:"files"`
	Failed         map[string]FileMark `json:"failed,omitempty"`
	RecordsWritten int                 `json:"records_written"`
	Errors         []string            `json:"errors"`

	path string // not serialized; empty keeps state in memory only
}

// LoadState loads the state at path, or starts a fresh one if the file
// doesn't exist. An empty path gives an in-memory state.
func LoadState(path string) (*State, error) {
	s := &State{
		StartedAt: time.Now().UTC(),
		Files:     make(map[string]FileMark),
		Failed:    make(map[string]FileMark),
	}
	if path == "" {
		return s, nil
	}

	p := expandHome(path)
	s.path = p

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	if s.Files == nil {
		s.Files = make(map[string]FileMark)
	}
	if s.Failed == nil {
		s.Failed = make(map[string]FileMark)
	}
	return s, nil
}

// Path returns the resolved state file path.
func (s *State) Path() string {
	return s.path
}

// Save persists the state to disk.
func (s *State) Save() error {
	s.LastRunAt = time.Now().UTC()
	if s.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return os.WriteFile(s.path, data, 0o644)
}

// IsProcessed reports whether path was imported with the same size and
// modification time it has now.
func (s *State) IsProcessed(path string, info os.FileInfo) bool {
	m, ok := s.Files[path]
	return ok && m.matches(info)
}

// HasFailed reports whether importing path failed and the file has not
// changed since.
func (s *State) HasFailed(path string, info os.FileInfo) bool {
	m, ok := s.Failed[path]
	return ok && m.matches(info)
}

func (m FileMark) matches(info os.FileInfo) bool {
	return m.Size == info.Size() && m.ModTime.Equal(info.ModTime())
}

// MarkFailed records a failed import of this version of path.
func (s *State) MarkFailed(path string, info os.FileInfo, records int, err error) {
	s.Failed[path] = FileMark{
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		Records:    records,
		ImportedAt: time.Now().UTC(),
		Err:        err.Error(),
	}
}

// MarkProcessed records path as imported and clears any earlier failure.
func (s *State) MarkProcessed(path string, info os.FileInfo, records int) {
	delete(s.Failed, path)
	s.Files[path] = FileMark{
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		Records:    records,
		ImportedAt: time.Now().UTC(),
	}
	s.RecordsWritten += records
}

// AddError records a processing error, keeping only the most recent
// maxStateErrors entries.
func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
	if n := len(s.Errors); n > maxStateErrors {
		s.Errors = append([]string(nil), s.Errors[n-maxStateErrors:]...)
	}
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
