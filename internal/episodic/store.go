// Package episodic persists agent session records and daily reflections as
// JSON files sharded by date:
//
//	<base>/sessions/2024-12-14/session_<id>.json
//	<base>/reflections/2024-12-14.json
//
// A corrupt file never blocks loading its siblings; it is logged and
// skipped. Write failures propagate.
package episodic

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ecanhq/agentcore/internal/memory"
)

const dateLayout = "2006-01-02"

// StorageError reports a failed journal read or write.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("episodic: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is the episodic journal. One instance owns its base directory;
// writes are temp-file + rename so readers never observe partial JSON.
type Store struct {
	baseDir        string
	sessionsDir    string
	reflectionsDir string
	logger         *slog.Logger
}

// NewStore creates the journal under baseDir, creating directories as
// needed.
func NewStore(baseDir string) (*Store, error) {
	s := &Store{
		baseDir:        baseDir,
		sessionsDir:    filepath.Join(baseDir, "sessions"),
		reflectionsDir: filepath.Join(baseDir, "reflections"),
		logger:         slog.Default(),
	}
	for _, dir := range []string{s.sessionsDir, s.reflectionsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &StorageError{Op: "mkdir", Path: dir, Err: err}
		}
	}
	return s, nil
}

// SaveSession writes the session under the date directory derived from its
// start time and returns the file path.
func (s *Store) SaveSession(sess *memory.SessionRecord) (string, error) {
	dateDir := filepath.Join(s.sessionsDir, sess.StartTime.Format(dateLayout))
	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return "", &StorageError{Op: "mkdir", Path: dateDir, Err: err}
	}
	path := filepath.Join(dateDir, "session_"+sess.SessionID+".json")
	if err := writeJSONAtomic(path, sess); err != nil {
		return "", err
	}
	s.logger.Debug("saved session", "session_id", sess.SessionID, "path", path)
	return path, nil
}

// LoadSession loads a session by ID. If dateHint (YYYY-MM-DD) is non-empty
// only that date directory is checked; otherwise date directories are
// scanned newest-first. Returns nil when not found.
func (s *Store) LoadSession(sessionID, dateHint string) (*memory.SessionRecord, error) {
	if dateHint != "" {
		path := filepath.Join(s.sessionsDir, dateHint, "session_"+sessionID+".json")
		if _, err := os.Stat(path); err == nil {
			return s.loadSessionFile(path), nil
		}
		return nil, nil
	}

	dates, err := s.SessionDates()
	if err != nil {
		return nil, err
	}
	for _, date := range dates { // newest first
		path := filepath.Join(s.sessionsDir, date, "session_"+sessionID+".json")
		if _, err := os.Stat(path); err == nil {
			return s.loadSessionFile(path), nil
		}
	}
	return nil, nil
}

// LoadSessionsForDate returns all sessions recorded on the given date,
// sorted by start time.
func (s *Store) LoadSessionsForDate(date string) ([]*memory.SessionRecord, error) {
	dateDir := filepath.Join(s.sessionsDir, date)
	entries, err := os.ReadDir(dateDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Op: "read", Path: dateDir, Err: err}
	}

	var sessions []*memory.SessionRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "session_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		if sess := s.loadSessionFile(filepath.Join(dateDir, name)); sess != nil {
			sessions = append(sessions, sess)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
	return sessions, nil
}

// LoadSessionsForRange returns sessions between start and end dates
// inclusive. agentID filters by agent when non-empty; successOnly filters
// to successful (true) or failed (false) sessions when non-nil.
func (s *Store) LoadSessionsForRange(startDate, endDate, agentID string, successOnly *bool) ([]*memory.SessionRecord, error) {
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return nil, fmt.Errorf("parsing start date %q: %w", startDate, err)
	}
	end, err := time.Parse(dateLayout, endDate)
	if err != nil {
		return nil, fmt.Errorf("parsing end date %q: %w", endDate, err)
	}

	var out []*memory.SessionRecord
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		sessions, err := s.LoadSessionsForDate(d.Format(dateLayout))
		if err != nil {
			return nil, err
		}
		for _, sess := range sessions {
			if agentID != "" && sess.AgentID != agentID {
				continue
			}
			if successOnly != nil {
				if *successOnly && !sess.Succeeded() {
					continue
				}
				if !*successOnly && sess.Succeeded() {
					continue
				}
			}
			out = append(out, sess)
		}
	}
	return out, nil
}

// SessionDates lists dates that hold at least one session file, newest
// first.
func (s *Store) SessionDates() ([]string, error) {
	entries, err := os.ReadDir(s.sessionsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Op: "read", Path: s.sessionsDir, Err: err}
	}
	var dates []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse(dateLayout, e.Name()); err != nil {
			continue
		}
		dates = append(dates, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

func (s *Store) loadSessionFile(path string) *memory.SessionRecord {
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("failed to read session file", "path", path, "error", err)
		return nil
	}
	var sess memory.SessionRecord
	if err := json.Unmarshal(data, &sess); err != nil {
		s.logger.Warn("skipping corrupt session file", "path", path, "error", err)
		return nil
	}
	return &sess
}

// SaveReflection writes the reflection for its date, replacing any
// previous one, and returns the file path.
func (s *Store) SaveReflection(r *memory.DailyReflection) (string, error) {
	path := filepath.Join(s.reflectionsDir, r.Date+".json")
	if err := writeJSONAtomic(path, r); err != nil {
		return "", err
	}
	s.logger.Debug("saved reflection", "date", r.Date)
	return path, nil
}

// LoadReflection returns the reflection for the date, or nil when absent.
func (s *Store) LoadReflection(date string) (*memory.DailyReflection, error) {
	path := filepath.Join(s.reflectionsDir, date+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	var r memory.DailyReflection
	if err := json.Unmarshal(data, &r); err != nil {
		s.logger.Warn("skipping corrupt reflection file", "path", path, "error", err)
		return nil, nil
	}
	return &r, nil
}

// ReflectionDates lists dates that have a reflection, newest first.
func (s *Store) ReflectionDates() ([]string, error) {
	entries, err := os.ReadDir(s.reflectionsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Op: "read", Path: s.reflectionsDir, Err: err}
	}
	var dates []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		dates = append(dates, strings.TrimSuffix(name, ".json"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// Stats aggregates session statistics. With a date it covers that day;
// with an empty date it walks every stored date.
type Stats struct {
	TotalSessions        int     `json:"total_sessions"`
	Successful           int     `json:"successful"`
	Failed               int     `json:"failed"`
	SuccessRate          float64 `json:"success_rate"`
	TotalActions         int     `json:"total_actions"`
	TotalErrors          int     `json:"total_errors"`
	AvgActionsPerSession float64 `json:"avg_actions_per_session"`
}

func (s *Store) GetStats(date string) (Stats, error) {
	var sessions []*memory.SessionRecord
	if date != "" {
		var err error
		sessions, err = s.LoadSessionsForDate(date)
		if err != nil {
			return Stats{}, err
		}
	} else {
		dates, err := s.SessionDates()
		if err != nil {
			return Stats{}, err
		}
		for _, d := range dates {
			daily, err := s.LoadSessionsForDate(d)
			if err != nil {
				return Stats{}, err
			}
			sessions = append(sessions, daily...)
		}
	}

	st := Stats{TotalSessions: len(sessions)}
	for _, sess := range sessions {
		if sess.Succeeded() {
			st.Successful++
		} else if sess.Failed() {
			st.Failed++
		}
		st.TotalActions += len(sess.Actions)
		st.TotalErrors += len(sess.Errors)
	}
	if st.TotalSessions > 0 {
		st.SuccessRate = float64(st.Successful) / float64(st.TotalSessions)
		st.AvgActionsPerSession = float64(st.TotalActions) / float64(st.TotalSessions)
	}
	return st, nil
}

// writeJSONAtomic writes v as indented JSON via a temp file in the target
// directory, fsyncs, then renames into place.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &StorageError{Op: "encode", Path: path, Err: err}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp")
	if err != nil {
		return &StorageError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &StorageError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &StorageError{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &StorageError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
