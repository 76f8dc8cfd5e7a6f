// Package api exposes the agent's memory and driver state over a local
// HTTP surface and an MCP server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ecanhq/agentcore/internal/episodic"
	"github.com/ecanhq/agentcore/internal/manager"
	"github.com/ecanhq/agentcore/internal/memory"
	"github.com/ecanhq/agentcore/internal/reflection"
	"github.com/ecanhq/agentcore/internal/webdriver"
)

const maxBodySize = 1 << 20 // 1MB

// DriverStatus is the driver-facing slice of the webdriver service.
type DriverStatus interface {
	State() webdriver.State
	Err() error
}

// Deps wires the HTTP handler. Token empty disables authentication;
// Driver nil reports the driver subsystem as disabled.
type Deps struct {
	Manager  *manager.Manager
	Episodic *episodic.Store
	Reflect  *reflection.Engine
	Driver   DriverStatus
	Token    string
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Get("/status", handleStatus(deps))
		r.Post("/memory/retrieve", handleRetrieve(deps))
		r.Get("/memory/stats", handleStats(deps))
		r.Get("/sessions", handleSessions(deps))
		r.Post("/reflect", handleReflect(deps))
	})
	return r
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"queue_depth": deps.Manager.QueueDepth(),
		}
		if deps.Driver != nil {
			resp["driver_state"] = deps.Driver.State()
			if err := deps.Driver.Err(); err != nil {
				resp["driver_error"] = err.Error()
			}
		} else {
			resp["driver_state"] = "disabled"
		}
		if stats, err := deps.Manager.Stats(r.Context()); err == nil {
			resp["namespaces"] = stats
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// RetrieveRequest is the POST /memory/retrieve body.
type RetrieveRequest struct {
	Namespace []string          `json:"namespace"`
	Query     string            `json:"query"`
	K         int               `json:"k"`
	Filters   map[string]string `json:"filters"`
}

func handleRetrieve(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req RetrieveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		results, err := deps.Manager.Retrieve(r.Context(), memory.RetrievalQuery{
			Namespace: memory.NS(req.Namespace...),
			Query:     req.Query,
			K:         req.K,
			Filters:   req.Filters,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "retrieval failed: %v", err)
			return
		}
		if results == nil {
			results = []memory.RetrievedMemory{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date != "" {
			if _, err := time.Parse("2006-01-02", date); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid date %q", date)
				return
			}
		}
		stats, err := deps.Episodic.GetStats(date)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "stats failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}
		sessions, err := deps.Episodic.LoadSessionsForDate(date)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading sessions failed: %v", err)
			return
		}
		if sessions == nil {
			sessions = []*memory.SessionRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"date": date, "sessions": sessions})
	}
}

// ReflectRequest is the POST /reflect body. Date defaults to yesterday.
type ReflectRequest struct {
	Date  string `json:"date"`
	Force bool   `json:"force"`
}

func handleReflect(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req ReflectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Date == "" {
			req.Date = time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
		defer cancel()
		result, stored, err := deps.Reflect.Run(ctx, req.Date, req.Force, deps.Manager)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reflection failed: %v", err)
			return
		}
		if result == nil {
			writeJSON(w, http.StatusOK, map[string]any{"date": req.Date, "reflection": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"date":             req.Date,
			"reflection":       result,
			"knowledge_stored": stored,
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
