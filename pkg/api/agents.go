package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/aplisay/voicebridge/pkg/store"
)

// AgentStore is the persistence surface the handlers need.
type AgentStore interface {
	CreateAgent(ctx context.Context, name, instructions, voice string) (store.Agent, error)
	GetAgent(ctx context.Context, id uuid.UUID) (store.Agent, error)
	ListAgents(ctx context.Context) ([]store.Agent, error)
	UpdateAgent(ctx context.Context, id uuid.UUID, name, instructions, voice string) (store.Agent, error)
	DeleteAgent(ctx context.Context, id uuid.UUID) error
	AssignNumber(ctx context.Context, number string, agentID uuid.UUID) (store.PhoneNumber, error)
}

type agentRequest struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
	Voice        string `json:"voice"`
}

// AgentsHandler serves agent CRUD.
type AgentsHandler struct {
	Store AgentStore
}

func (h AgentsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no_store", "persistence is not configured")
		return
	}
	switch {
	case r.Method == http.MethodPost:
		h.create(w, r)
	case r.Method == http.MethodGet && r.PathValue("id") == "":
		h.list(w, r)
	case r.Method == http.MethodGet:
		h.get(w, r)
	case r.Method == http.MethodPut:
		h.update(w, r)
	case r.Method == http.MethodDelete:
		h.delete(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (h AgentsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}
	agent, err := h.Store.CreateAgent(r.Context(), req.Name, req.Instructions, req.Voice)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (h AgentsHandler) list(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Store.ListAgents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if agents == nil {
		agents = []store.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (h AgentsHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	agent, err := h.Store.GetAgent(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "agent not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (h AgentsHandler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	agent, err := h.Store.UpdateAgent(r.Context(), id, req.Name, req.Instructions, req.Voice)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "agent not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (h AgentsHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	err := h.Store.DeleteAgent(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "agent not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid agent id")
		return uuid.UUID{}, false
	}
	return id, true
}

// NumbersHandler assigns phone numbers to agents.
type NumbersHandler struct {
	Store AgentStore
}

func (h NumbersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no_store", "persistence is not configured")
		return
	}
	var req struct {
		Number  string    `json:"number"`
		AgentID uuid.UUID `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Number == "" || req.AgentID == (uuid.UUID{}) {
		writeError(w, http.StatusBadRequest, "bad_request", "number and agent_id are required")
		return
	}
	pn, err := h.Store.AssignNumber(r.Context(), req.Number, req.AgentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, pn)
}
