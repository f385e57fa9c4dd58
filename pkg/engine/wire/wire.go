// Package wire defines the WebSocket contract between the session engine and
// the conversational backend: binary frames carry raw little-endian PCM16
// audio, text frames carry JSON messages discriminated by a "type" field.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AgentState is the backend's turn-taking state.
type AgentState string

const (
	AgentStateListening AgentState = "listening"
	AgentStateThinking  AgentState = "thinking"
	AgentStateSpeaking  AgentState = "speaking"
	AgentStateUnknown   AgentState = "unknown"
)

// ParseAgentState maps a wire state string to an AgentState, folding anything
// unrecognized into AgentStateUnknown.
func ParseAgentState(s string) AgentState {
	switch AgentState(strings.ToLower(strings.TrimSpace(s))) {
	case AgentStateListening:
		return AgentStateListening
	case AgentStateThinking:
		return AgentStateThinking
	case AgentStateSpeaking:
		return AgentStateSpeaking
	default:
		return AgentStateUnknown
	}
}

// Transcript speaker roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// DecodeError describes a malformed inbound message.
type DecodeError struct {
	Code    string
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func badMessage(format string, args ...any) *DecodeError {
	return &DecodeError{Code: "bad_message", Message: fmt.Sprintf(format, args...)}
}

// ServerMessage is a JSON message received from the backend.
type ServerMessage interface {
	ServerType() string
}

// StateMessage reports a turn-state change.
type StateMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

func (m StateMessage) ServerType() string { return "state" }

// AgentState returns the parsed turn state.
func (m StateMessage) AgentState() AgentState { return ParseAgentState(m.State) }

// TranscriptMessage carries caller or agent speech text. Partial transcripts
// have Final == false; agent transcripts may arrive as deltas.
type TranscriptMessage struct {
	Type   string `json:"type"`
	Role   string `json:"role"`
	Medium string `json:"medium,omitempty"`
	Text   string `json:"text,omitempty"`
	Delta  string `json:"delta,omitempty"`
	Final  bool   `json:"final"`
}

func (m TranscriptMessage) ServerType() string { return "transcript" }

// ToolInvocationMessage asks the engine to run a locally registered tool.
type ToolInvocationMessage struct {
	Type         string          `json:"type"`
	ToolName     string          `json:"toolName"`
	InvocationID string          `json:"invocationId"`
	Parameters   json.RawMessage `json:"parameters"`
}

func (m ToolInvocationMessage) ServerType() string { return "client_tool_invocation" }

// CallStartedMessage announces the backend-assigned call identifier.
type CallStartedMessage struct {
	Type   string `json:"type"`
	CallID string `json:"callId"`
}

func (m CallStartedMessage) ServerType() string { return "call_started" }

// DebugMessage carries backend diagnostics. Observability only.
type DebugMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (m DebugMessage) ServerType() string { return "debug" }

// UnknownMessage preserves the tag of a message type this engine does not
// understand so the caller can log and drop it.
type UnknownMessage struct {
	Type string
	Raw  json.RawMessage
}

func (m UnknownMessage) ServerType() string { return m.Type }

// DecodeServerMessage parses one inbound text frame. Messages with an
// unrecognized type decode to UnknownMessage rather than an error; only
// structurally broken JSON fails.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, badMessage("invalid message JSON: %v", err)
	}
	if strings.TrimSpace(tag.Type) == "" {
		return nil, badMessage("message has no type field")
	}

	switch tag.Type {
	case "state":
		var m StateMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, badMessage("invalid state message: %v", err)
		}
		return m, nil
	case "transcript":
		var m TranscriptMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, badMessage("invalid transcript message: %v", err)
		}
		if m.Role != RoleUser && m.Role != RoleAgent {
			return nil, badMessage("transcript has unknown role %q", m.Role)
		}
		return m, nil
	case "client_tool_invocation":
		var m ToolInvocationMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, badMessage("invalid tool invocation: %v", err)
		}
		if strings.TrimSpace(m.ToolName) == "" || strings.TrimSpace(m.InvocationID) == "" {
			return nil, badMessage("tool invocation missing toolName or invocationId")
		}
		return m, nil
	case "call_started":
		var m CallStartedMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, badMessage("invalid call_started message: %v", err)
		}
		return m, nil
	case "debug":
		var m DebugMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, badMessage("invalid debug message: %v", err)
		}
		return m, nil
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return UnknownMessage{Type: tag.Type, Raw: raw}, nil
	}
}

// ClientMessage is a JSON control message the engine may enqueue for the
// backend. Only forwardable messages ever reach the socket; the outbound
// queue intercepts the rest (see Forwardable).
type ClientMessage interface {
	ClientType() string
	// Forwardable reports whether this message is part of the backend's wire
	// contract. Non-forwardable messages are resolved locally because the
	// backend manages turn-taking autonomously and rejects generic realtime
	// control commands.
	Forwardable() bool
}

// Tool result response discriminators.
const (
	ToolResponseTypeResponse    = "tool-response"
	ToolErrorTypeImplementation = "implementation-error"
)

// ToolResultMessage reports a tool invocation outcome back to the backend.
type ToolResultMessage struct {
	Type         string `json:"type"`
	InvocationID string `json:"invocationId"`
	Result       string `json:"result,omitempty"`
	ResponseType string `json:"responseType,omitempty"`
	ErrorType    string `json:"errorType,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func (m ToolResultMessage) ClientType() string { return "client_tool_result" }
func (m ToolResultMessage) Forwardable() bool  { return true }

// NewToolResult builds a success result. The result payload travels as a JSON
// string per the backend contract.
func NewToolResult(invocationID, resultJSON string) ToolResultMessage {
	return ToolResultMessage{
		Type:         "client_tool_result",
		InvocationID: invocationID,
		Result:       resultJSON,
		ResponseType: ToolResponseTypeResponse,
	}
}

// NewToolError builds an error result for a failed invocation.
func NewToolError(invocationID, message string) ToolResultMessage {
	return ToolResultMessage{
		Type:         "client_tool_result",
		InvocationID: invocationID,
		ErrorType:    ToolErrorTypeImplementation,
		ErrorMessage: message,
	}
}

// SessionUpdateMessage is a host request to change session configuration.
// The backend has no such command: the queue applies it locally and emits a
// synthetic acknowledgement.
type SessionUpdateMessage struct {
	Instructions string `json:"instructions,omitempty"`
}

func (m SessionUpdateMessage) ClientType() string { return "session.update" }
func (m SessionUpdateMessage) Forwardable() bool  { return false }

// ConversationItemMessage is a host request to mutate conversation history.
// Local bookkeeping only; never sent.
type ConversationItemMessage struct {
	ItemID string `json:"item_id,omitempty"`
	Text   string `json:"text,omitempty"`
}

func (m ConversationItemMessage) ClientType() string { return "conversation.item" }
func (m ConversationItemMessage) Forwardable() bool  { return false }

// ResponseCreateMessage is a host request for an explicit response. The
// backend decides turn-taking on its own, so this is a local no-op.
type ResponseCreateMessage struct{}

func (m ResponseCreateMessage) ClientType() string { return "response.create" }
func (m ResponseCreateMessage) Forwardable() bool  { return false }

// ResponseCancelMessage is a host request to cancel a response. Local no-op.
type ResponseCancelMessage struct{}

func (m ResponseCancelMessage) ClientType() string { return "response.cancel" }
func (m ResponseCancelMessage) Forwardable() bool  { return false }
