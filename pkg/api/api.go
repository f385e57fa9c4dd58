// Package api is the HTTP control surface: agent and number CRUD over the
// store, health and metrics endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// HealthHandler answers liveness probes.
type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Deps carries everything the router needs.
type Deps struct {
	Agents     AgentStore
	Model      SessionFactory
	Calls      CallStore
	Hooks      Notifier
	Registry   *prometheus.Registry
	LiveCounts LiveCounter
	Logger     *slog.Logger
}

// LiveCounter reports how many sessions are currently live.
type LiveCounter interface {
	Live() int
}

// NewRouter assembles the HTTP mux. A nil Registry serves the default
// Prometheus gatherer; a nil Agents disables the CRUD routes with 503s.
func NewRouter(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", HealthHandler{})
	mux.Handle("GET /statusz", StatusHandler{LiveCounts: deps.LiveCounts})

	if deps.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	agents := AgentsHandler{Store: deps.Agents}
	mux.Handle("GET /api/agents", agents)
	mux.Handle("POST /api/agents", agents)
	mux.Handle("GET /api/agents/{id}", agents)
	mux.Handle("PUT /api/agents/{id}", agents)
	mux.Handle("DELETE /api/agents/{id}", agents)
	mux.Handle("POST /api/numbers", NumbersHandler{Store: deps.Agents})

	calls := CallsHandler{
		Model:  deps.Model,
		Agents: deps.Agents,
		Calls:  deps.Calls,
		Hooks:  deps.Hooks,
		Logger: deps.Logger,
	}
	mux.Handle("POST /api/calls", calls)
	mux.Handle("GET /api/calls/{id}", calls)
	mux.Handle("DELETE /api/calls/{id}", calls)

	return mux
}

// StatusHandler reports live session counts.
type StatusHandler struct {
	LiveCounts LiveCounter
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type statusResp struct {
		OK           bool `json:"ok"`
		LiveSessions int  `json:"live_sessions"`
	}
	resp := statusResp{OK: true}
	if h.LiveCounts != nil {
		resp.LiveSessions = h.LiveCounts.Live()
	}
	writeJSON(w, http.StatusOK, resp)
}
