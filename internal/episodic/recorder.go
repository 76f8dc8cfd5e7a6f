package episodic

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ecanhq/agentcore/internal/memory"
)

// Step is one agent action as reported by the caller. Zero values are
// fine everywhere; Success is derived from Error being empty.
type Step struct {
	ActionType memory.ActionType
	ActionName string
	Input      map[string]any
	Output     map[string]any
	Error      string
	URL        string
	Title      string
	Thinking   string
	NextGoal   string
	DurationMS int64
}

// Recorder accumulates one session and persists it on finalize. It is
// safe for concurrent use; after Finalize all mutations are rejected.
type Recorder struct {
	store  *Store
	logger *slog.Logger

	mu        sync.Mutex
	session   *memory.SessionRecord
	finalized bool
}

// NewRecorder opens a new session for the agent and task. The session ID
// is a short random handle unique enough within a day's directory.
func NewRecorder(store *Store, agentID, task string) *Recorder {
	sessionID := uuid.NewString()[:8]
	r := &Recorder{
		store:  store,
		logger: slog.Default().With("session_id", sessionID),
		session: &memory.SessionRecord{
			SessionID: sessionID,
			AgentID:   agentID,
			Task:      task,
			StartTime: time.Now().UTC(),
		},
	}
	r.logger.Info("session started", "agent_id", agentID, "task", truncateTask(task))
	return r
}

// SessionID returns the session handle.
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.SessionID
}

// RecordStep appends one action, stamping timestamp and step number.
func (r *Recorder) RecordStep(step Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return fmt.Errorf("session %s already finalized", r.session.SessionID)
	}

	actionType := step.ActionType
	if actionType == "" {
		actionType = memory.ActionOther
	}
	r.session.AddAction(memory.ActionRecord{
		Timestamp:    time.Now().UTC(),
		SessionID:    r.session.SessionID,
		StepNumber:   len(r.session.Actions) + 1,
		ActionType:   actionType,
		ActionName:   step.ActionName,
		ActionInput:  step.Input,
		ActionOutput: step.Output,
		Success:      step.Error == "",
		Error:        step.Error,
		URL:          step.URL,
		Title:        step.Title,
		Thinking:     step.Thinking,
		NextGoal:     step.NextGoal,
		DurationMS:   step.DurationMS,
	})
	return nil
}

// RecordError appends a session-level error outside any single step.
func (r *Recorder) RecordError(msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return fmt.Errorf("session %s already finalized", r.session.SessionID)
	}
	r.session.Errors = append(r.session.Errors, msg)
	return nil
}

// SetTokenUsage records token accounting for the session.
func (r *Recorder) SetTokenUsage(usage map[string]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return fmt.Errorf("session %s already finalized", r.session.SessionID)
	}
	r.session.TokenUsage = usage
	return nil
}

// Finalize marks the session done, persists it, and returns the saved
// path. Further mutation attempts fail. Calling Finalize twice returns
// an error without rewriting the file.
func (r *Recorder) Finalize(success bool, finalResult string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return "", fmt.Errorf("session %s already finalized", r.session.SessionID)
	}

	now := time.Now().UTC()
	r.session.EndTime = &now
	r.session.Success = &success
	r.session.FinalResult = finalResult
	r.finalized = true

	path, err := r.store.SaveSession(r.session)
	if err != nil {
		return "", err
	}
	r.logger.Info("session finalized",
		"success", success,
		"actions", len(r.session.Actions),
		"duration", now.Sub(r.session.StartTime).Round(time.Millisecond))
	return path, nil
}

// Snapshot returns a copy of the session as recorded so far.
func (r *Recorder) Snapshot() memory.SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := *r.session
	sess.Actions = append([]memory.ActionRecord(nil), r.session.Actions...)
	sess.URLsVisited = append([]string(nil), r.session.URLsVisited...)
	sess.Errors = append([]string(nil), r.session.Errors...)
	return sess
}

func truncateTask(task string) string {
	const max = 120
	if len(task) <= max {
		return task
	}
	return task[:max] + "..."
}
