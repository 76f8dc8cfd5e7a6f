package memory

import (
	"fmt"
	"strings"
	"time"
)

// ActionType classifies a single agent step.
type ActionType string

const (
	ActionBrowser   ActionType = "browser_action"
	ActionToolCall  ActionType = "tool_call"
	ActionLLMCall   ActionType = "llm_call"
	ActionReasoning ActionType = "reasoning"
	ActionOther     ActionType = "other"
)

// ActionRecord is one atomic step an agent took during a session.
// Success implies Error is empty.
type ActionRecord struct {
	Timestamp    time.Time      `json:"timestamp"`
	SessionID    string         `json:"session_id"`
	StepNumber   int            `json:"step_number"`
	ActionType   ActionType     `json:"action_type"`
	ActionName   string         `json:"action_name"`
	ActionInput  map[string]any `json:"action_input,omitempty"`
	ActionOutput map[string]any `json:"action_output,omitempty"`
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
	URL          string         `json:"url,omitempty"`
	Title        string         `json:"title,omitempty"`
	Thinking     string         `json:"thinking,omitempty"`
	NextGoal     string         `json:"next_goal,omitempty"`
	DurationMS   int64          `json:"duration_ms"`
}

// ToText renders the action as a single line suitable for embedding.
func (a ActionRecord) ToText() string {
	parts := []string{fmt.Sprintf("Step %d: %s", a.StepNumber, a.ActionName)}
	if a.URL != "" {
		parts = append(parts, "URL: "+a.URL)
	}
	if a.Thinking != "" {
		parts = append(parts, "Thinking: "+a.Thinking)
	}
	if a.NextGoal != "" {
		parts = append(parts, "Goal: "+a.NextGoal)
	}
	if a.Error != "" {
		parts = append(parts, "Error: "+a.Error)
	} else if a.Success {
		parts = append(parts, "Result: Success")
	}
	return strings.Join(parts, " | ")
}

// SessionRecord is a complete record of one agent task attempt.
//
// Success is tri-state: nil means the outcome is unknown (for example the
// session was never finalized). EndTime is nil while the session is open.
type SessionRecord struct {
	SessionID   string         `json:"session_id"`
	AgentID     string         `json:"agent_id"`
	Task        string         `json:"task"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     *time.Time     `json:"end_time"`
	Success     *bool          `json:"success"`
	FinalResult string         `json:"final_result,omitempty"`
	Actions     []ActionRecord `json:"actions"`
	URLsVisited []string       `json:"urls_visited"`
	Errors      []string       `json:"errors"`
	TokenUsage  map[string]int `json:"token_usage,omitempty"`
}

// AddAction appends an action and maintains the derived lists: a new URL
// lands in URLsVisited once (insertion order), a non-empty error lands in
// Errors in recording order.
func (s *SessionRecord) AddAction(a ActionRecord) {
	s.Actions = append(s.Actions, a)
	if a.URL != "" && !contains(s.URLsVisited, a.URL) {
		s.URLsVisited = append(s.URLsVisited, a.URL)
	}
	if a.Error != "" {
		s.Errors = append(s.Errors, a.Error)
	}
}

// Succeeded reports whether the session finished successfully. Unknown
// outcomes count as not succeeded.
func (s *SessionRecord) Succeeded() bool {
	return s.Success != nil && *s.Success
}

// Failed reports whether the session finished and failed.
func (s *SessionRecord) Failed() bool {
	return s.Success != nil && !*s.Success
}

// SummaryText renders a compact session summary for embedding and prompts.
func (s *SessionRecord) SummaryText() string {
	status := "unknown"
	switch {
	case s.Succeeded():
		status = "success"
	case s.Failed():
		status = "failed"
	}
	parts := []string{
		"Task: " + s.Task,
		"Status: " + status,
		fmt.Sprintf("Steps: %d", len(s.Actions)),
	}
	if s.FinalResult != "" {
		parts = append(parts, "Result: "+truncate(s.FinalResult, 200))
	}
	if len(s.Errors) > 0 {
		parts = append(parts, "Errors: "+strings.Join(head(s.Errors, 3), ", "))
	}
	if len(s.URLsVisited) > 0 {
		parts = append(parts, "Sites: "+strings.Join(head(s.URLsVisited, 5), ", "))
	}
	return strings.Join(parts, " | ")
}

// DailyReflection is the per-day per-agent synthesis of session records.
// One reflection exists per (date, agent) and is immutable once written.
type DailyReflection struct {
	Date               string   `json:"date"` // YYYY-MM-DD
	AgentID            string   `json:"agent_id"`
	SessionsReviewed   []string `json:"sessions_reviewed"`
	TotalSessions      int      `json:"total_sessions"`
	SuccessfulSessions int      `json:"successful_sessions"`
	FailedSessions     int      `json:"failed_sessions"`
	Successes          []string `json:"successes"`
	Failures           []string `json:"failures"`
	Patterns           []string `json:"patterns"`
	Lessons            []string `json:"lessons"`
	Improvements       []string `json:"improvements"`
	KnowledgeChunks    []string `json:"knowledge_chunks"`
}

// ToText renders the reflection for display and prompt injection.
func (r *DailyReflection) ToText() string {
	parts := []string{
		"Daily Reflection: " + r.Date,
		fmt.Sprintf("Sessions: %d (%d success, %d failed)",
			r.TotalSessions, r.SuccessfulSessions, r.FailedSessions),
	}
	if len(r.Lessons) > 0 {
		parts = append(parts, "Lessons: "+strings.Join(head(r.Lessons, 5), "; "))
	}
	if len(r.Patterns) > 0 {
		parts = append(parts, "Patterns: "+strings.Join(head(r.Patterns, 3), "; "))
	}
	return strings.Join(parts, " | ")
}

// MemoryItem is a unit of text queued for vector ingestion. ID is optional;
// when the caller owns a stable identity it enables later moves and upserts.
type MemoryItem struct {
	ID        string
	Namespace Namespace
	Text      string
	Metadata  map[string]string
}

// RetrievalQuery asks for the K most relevant memories in a namespace.
type RetrievalQuery struct {
	Namespace Namespace
	Query     string
	K         int
	Filters   map[string]string
}

// RetrievedMemory is one retrieval result. Results are always ordered
// best-first regardless of whether the backend reports similarities or
// distances.
type RetrievedMemory struct {
	ID       string
	Text     string
	Score    float32
	Metadata map[string]string
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func head(ss []string, n int) []string {
	if len(ss) <= n {
		return ss
	}
	return ss[:n]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
