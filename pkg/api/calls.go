package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aplisay/voicebridge/pkg/engine"
	"github.com/aplisay/voicebridge/pkg/store"
	"github.com/aplisay/voicebridge/pkg/webhook"
)

// SessionFactory creates and resolves live sessions.
type SessionFactory interface {
	NewSession(ctx context.Context, cfg engine.SessionConfig) *engine.Session
	Session(id string) (*engine.Session, bool)
}

// CallStore records call metadata.
type CallStore interface {
	RecordCallStart(ctx context.Context, agentID uuid.UUID, backendCallID string) (store.Call, error)
	RecordCallEnd(ctx context.Context, id uuid.UUID, failureReason string) error
}

// Notifier delivers call lifecycle webhooks.
type Notifier interface {
	Deliver(ctx context.Context, ev webhook.Event) error
}

// CallsHandler starts, inspects and ends live sessions.
type CallsHandler struct {
	Model  SessionFactory
	Agents AgentStore
	Calls  CallStore
	Hooks  Notifier
	Logger *slog.Logger
}

type callResponse struct {
	SessionID string `json:"session_id"`
	CallID    string `json:"call_id,omitempty"`
	State     string `json:"state"`
	PushedMs  int64  `json:"pushed_audio_ms"`
}

func (h CallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Model == nil {
		writeError(w, http.StatusServiceUnavailable, "no_engine", "session engine is not configured")
		return
	}
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.get(w, r)
	case http.MethodDelete:
		h.end(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (h CallsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID      uuid.UUID `json:"agent_id"`
		Instructions string    `json:"instructions"`
		Voice        string    `json:"voice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	cfg := engine.SessionConfig{Instructions: req.Instructions, Voice: req.Voice}
	agentID := req.AgentID
	if agentID != (uuid.UUID{}) {
		if h.Agents == nil {
			writeError(w, http.StatusServiceUnavailable, "no_store", "persistence is not configured")
			return
		}
		agent, err := h.Agents.GetAgent(r.Context(), agentID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "agent not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		if cfg.Instructions == "" {
			cfg.Instructions = agent.Instructions
		}
		if cfg.Voice == "" {
			cfg.Voice = agent.Voice
		}
	}

	s := h.Model.NewSession(r.Context(), cfg)
	go h.supervise(s, agentID)

	writeJSON(w, http.StatusCreated, callResponse{
		SessionID: s.ID(),
		State:     s.State().String(),
	})
}

func (h CallsHandler) get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.Model.Session(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	writeJSON(w, http.StatusOK, callResponse{
		SessionID: s.ID(),
		CallID:    s.CallID(),
		State:     s.State().String(),
		PushedMs:  s.PushedAudio().Milliseconds(),
	})
}

func (h CallsHandler) end(w http.ResponseWriter, r *http.Request) {
	s, ok := h.Model.Session(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	_ = s.Close()
	w.WriteHeader(http.StatusNoContent)
}

// supervise forwards a session's lifecycle to the call store and the webhook
// deliverer. It runs until the session's event channel closes.
func (h CallsHandler) supervise(s *engine.Session, agentID uuid.UUID) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx := context.Background()

	var record store.Call
	failure := ""
	for ev := range s.Events() {
		switch e := ev.(type) {
		case *engine.SessionCreatedEvent:
			if h.Calls != nil {
				var err error
				record, err = h.Calls.RecordCallStart(ctx, agentID, e.SessionID)
				if err != nil {
					logger.Warn("recording call start", "error", err)
				}
			}
			h.notify(ctx, webhook.Event{
				Type:      webhook.EventCallStarted,
				CallID:    e.SessionID,
				SessionID: s.ID(),
			})
		case *engine.ErrorEvent:
			if !e.Recoverable {
				failure = e.Code
				h.notify(ctx, webhook.Event{
					Type:      webhook.EventCallFailed,
					CallID:    s.CallID(),
					SessionID: s.ID(),
					Detail:    e.Message,
				})
			}
		case *engine.CloseEvent:
			if h.Calls != nil && record.ID != (uuid.UUID{}) {
				if err := h.Calls.RecordCallEnd(ctx, record.ID, failure); err != nil {
					logger.Warn("recording call end", "error", err)
				}
			}
			h.notify(ctx, webhook.Event{
				Type:      webhook.EventCallEnded,
				CallID:    e.SessionID,
				SessionID: s.ID(),
				Detail:    failure,
			})
		}
	}
}

func (h CallsHandler) notify(ctx context.Context, ev webhook.Event) {
	if h.Hooks == nil {
		return
	}
	deliverCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := h.Hooks.Deliver(deliverCtx, ev); err != nil {
		logger := h.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("webhook delivery", "type", ev.Type, "error", err)
	}
}
