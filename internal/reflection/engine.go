// Package reflection turns a day's recorded sessions into a structured
// daily reflection via an LLM, with a statistics-only fallback when the
// model output cannot be parsed. Knowledge chunks extracted from a
// reflection feed the semantic memory namespace.
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ecanhq/agentcore/internal/episodic"
	"github.com/ecanhq/agentcore/internal/memory"
)

const (
	// contextBudget caps the per-day session context handed to the model.
	contextBudget = 8000

	systemPrompt = `You are the self-reflection module of a browser automation agent.
You review a day's work sessions and extract durable insights.
Respond with a single JSON object and nothing else, using exactly these keys:
"successes", "failures", "patterns", "lessons", "improvements", "knowledge_chunks".
Each key maps to an array of short strings. "knowledge_chunks" are standalone
facts worth remembering for future tasks.`
)

// Sink receives knowledge chunks extracted from reflections. The memory
// manager satisfies it.
type Sink interface {
	Put(item memory.MemoryItem) string
}

// Engine generates and stores daily reflections for one agent.
type Engine struct {
	store   *episodic.Store
	client  ChatClient
	agentID string
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine builds a reflection engine. client may be nil, in which case
// every reflection is the statistics fallback.
func NewEngine(store *episodic.Store, client ChatClient, agentID string) *Engine {
	return &Engine{
		store:   store,
		client:  client,
		agentID: agentID,
		logger:  slog.Default().With("agent_id", agentID),
		now:     time.Now,
	}
}

// GenerateDailyReflection builds the reflection for a date (YYYY-MM-DD).
// Without force: an existing reflection is returned as-is, a date that is
// not yet over is refused, and a date with no sessions yields nil. With
// force the reflection is regenerated regardless.
func (e *Engine) GenerateDailyReflection(ctx context.Context, date string, force bool) (*memory.DailyReflection, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("invalid reflection date %q: %w", date, err)
	}

	if !force {
		existing, err := e.store.LoadReflection(date)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
		today := e.now().UTC().Truncate(24 * time.Hour)
		if !day.Before(today) {
			return nil, fmt.Errorf("refusing to reflect on %s before the day is over", date)
		}
	}

	sessions, err := e.store.LoadSessionsForDate(date)
	if err != nil {
		return nil, err
	}
	filtered := sessions[:0]
	for _, s := range sessions {
		if e.agentID == "" || s.AgentID == e.agentID {
			filtered = append(filtered, s)
		}
	}
	sessions = filtered

	if len(sessions) == 0 && !force {
		e.logger.Info("no sessions to reflect on", "date", date)
		return nil, nil
	}

	reflection := e.reflect(ctx, date, sessions)
	if _, err := e.store.SaveReflection(reflection); err != nil {
		return nil, err
	}
	e.logger.Info("generated daily reflection",
		"date", date,
		"sessions", reflection.TotalSessions,
		"knowledge_chunks", len(reflection.KnowledgeChunks))
	return reflection, nil
}

// StoreKnowledge pushes each knowledge chunk into the agent's semantic
// namespace for the reflection's date and returns the stored count.
func (e *Engine) StoreKnowledge(reflection *memory.DailyReflection, sink Sink) int {
	if reflection == nil {
		return 0
	}
	ns := memory.NS(e.agentID, memory.NamespaceSemantic, reflection.Date)
	stored := 0
	for _, chunk := range reflection.KnowledgeChunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		sink.Put(memory.MemoryItem{
			Namespace: ns,
			Text:      fmt.Sprintf("[Learned on %s] %s", reflection.Date, chunk),
			Metadata: map[string]string{
				"type": "reflection_knowledge",
				"date": reflection.Date,
			},
		})
		stored++
	}
	if stored > 0 {
		e.logger.Info("stored reflection knowledge", "date", reflection.Date, "count", stored)
	}
	return stored
}

// Run generates the reflection for a date and stores its knowledge. The
// returned count is the number of knowledge chunks stored.
func (e *Engine) Run(ctx context.Context, date string, force bool, sink Sink) (*memory.DailyReflection, int, error) {
	reflection, err := e.GenerateDailyReflection(ctx, date, force)
	if err != nil || reflection == nil {
		return reflection, 0, err
	}
	return reflection, e.StoreKnowledge(reflection, sink), nil
}

// Backfill runs reflections for every date in [startDate, endDate]. A
// failed date is logged and skipped.
func (e *Engine) Backfill(ctx context.Context, startDate, endDate string, force bool, sink Sink) ([]*memory.DailyReflection, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", startDate, err)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", endDate, err)
	}

	var out []*memory.DailyReflection
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format("2006-01-02")
		reflection, _, err := e.Run(ctx, date, force, sink)
		if err != nil {
			e.logger.Warn("backfill skipped date", "date", date, "error", err)
			continue
		}
		if reflection != nil {
			out = append(out, reflection)
		}
	}
	return out, nil
}

func (e *Engine) reflect(ctx context.Context, date string, sessions []*memory.SessionRecord) *memory.DailyReflection {
	reflection := basicReflection(date, e.agentID, sessions)
	if e.client == nil || len(sessions) == 0 {
		return reflection
	}

	raw, err := e.client.Chat(ctx, systemPrompt, buildUserPrompt(date, sessions))
	if err != nil {
		e.logger.Warn("reflection LLM call failed, using statistics fallback",
			"date", date, "error", err)
		return reflection
	}

	parsed, err := parseReflectionJSON(raw)
	if err != nil {
		e.logger.Warn("reflection output unparseable, using statistics fallback",
			"date", date, "error", err)
		return reflection
	}

	reflection.Successes = parsed.Successes
	reflection.Failures = parsed.Failures
	reflection.Patterns = parsed.Patterns
	reflection.Lessons = parsed.Lessons
	reflection.Improvements = parsed.Improvements
	reflection.KnowledgeChunks = parsed.KnowledgeChunks
	return reflection
}

// basicReflection is the no-LLM fallback: counts only, no narrative.
func basicReflection(date, agentID string, sessions []*memory.SessionRecord) *memory.DailyReflection {
	r := &memory.DailyReflection{
		Date:          date,
		AgentID:       agentID,
		TotalSessions: len(sessions),
	}
	for _, s := range sessions {
		r.SessionsReviewed = append(r.SessionsReviewed, s.SessionID)
		if s.Succeeded() {
			r.SuccessfulSessions++
		} else if s.Failed() {
			r.FailedSessions++
		}
	}
	return r
}

type reflectionFields struct {
	Successes       []string `json:"successes"`
	Failures        []string `json:"failures"`
	Patterns        []string `json:"patterns"`
	Lessons         []string `json:"lessons"`
	Improvements    []string `json:"improvements"`
	KnowledgeChunks []string `json:"knowledge_chunks"`
}

// parseReflectionJSON extracts the JSON object from a model response,
// tolerating code fences and surrounding prose.
func parseReflectionJSON(raw string) (*reflectionFields, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var fields reflectionFields
	if err := json.Unmarshal([]byte(raw[start:end+1]), &fields); err != nil {
		return nil, fmt.Errorf("decoding reflection JSON: %w", err)
	}
	return &fields, nil
}

// buildUserPrompt renders a compact per-session digest, oldest first,
// truncated to the context budget.
func buildUserPrompt(date string, sessions []*memory.SessionRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sessions from %s:\n\n", date)

	for i, s := range sessions {
		var sb strings.Builder
		outcome := "unknown"
		if s.Succeeded() {
			outcome = "success"
		} else if s.Failed() {
			outcome = "failed"
		}
		fmt.Fprintf(&sb, "Session %d (%s): %s\n", i+1, outcome, clip(s.Task, 200))
		fmt.Fprintf(&sb, "  actions: %d, urls: %d\n", len(s.Actions), len(s.URLsVisited))

		thinking := 0
		for _, a := range s.Actions {
			if a.Thinking != "" && thinking < 2 {
				fmt.Fprintf(&sb, "  thinking: %s\n", clip(a.Thinking, 200))
				thinking++
			}
		}
		for j, errMsg := range s.Errors {
			if j == 3 {
				fmt.Fprintf(&sb, "  (+%d more errors)\n", len(s.Errors)-3)
				break
			}
			fmt.Fprintf(&sb, "  error: %s\n", clip(errMsg, 200))
		}
		if s.FinalResult != "" {
			fmt.Fprintf(&sb, "  result: %s\n", clip(s.FinalResult, 300))
		}
		sb.WriteString("\n")

		if b.Len()+sb.Len() > contextBudget {
			fmt.Fprintf(&b, "(%d further sessions omitted)\n", len(sessions)-i)
			break
		}
		b.WriteString(sb.String())
	}

	b.WriteString("Reflect on these sessions and answer with the JSON object.")
	return b.String()
}

func clip(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
