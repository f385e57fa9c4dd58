package wire

import (
	"encoding/json"
	"testing"
)

func TestDecodeServerMessage_State(t *testing.T) {
	tests := []struct {
		raw  string
		want AgentState
	}{
		{`{"type":"state","state":"listening"}`, AgentStateListening},
		{`{"type":"state","state":"thinking"}`, AgentStateThinking},
		{`{"type":"state","state":"Speaking"}`, AgentStateSpeaking},
		{`{"type":"state","state":"daydreaming"}`, AgentStateUnknown},
	}
	for _, tc := range tests {
		msg, err := DecodeServerMessage([]byte(tc.raw))
		if err != nil {
			t.Fatalf("decode %s: %v", tc.raw, err)
		}
		st, ok := msg.(StateMessage)
		if !ok {
			t.Fatalf("decode %s: got %T", tc.raw, msg)
		}
		if st.AgentState() != tc.want {
			t.Fatalf("decode %s: state = %s, want %s", tc.raw, st.AgentState(), tc.want)
		}
	}
}

func TestDecodeServerMessage_Transcript(t *testing.T) {
	msg, err := DecodeServerMessage([]byte(`{"type":"transcript","role":"agent","delta":"hello","final":false}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tr, ok := msg.(TranscriptMessage)
	if !ok {
		t.Fatalf("got %T", msg)
	}
	if tr.Role != RoleAgent || tr.Delta != "hello" || tr.Final {
		t.Fatalf("unexpected transcript: %+v", tr)
	}

	if _, err := DecodeServerMessage([]byte(`{"type":"transcript","role":"narrator","text":"x"}`)); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestDecodeServerMessage_ToolInvocation(t *testing.T) {
	raw := `{"type":"client_tool_invocation","toolName":"lookup","invocationId":"call_1","parameters":{"q":"up"}}`
	msg, err := DecodeServerMessage([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	inv, ok := msg.(ToolInvocationMessage)
	if !ok {
		t.Fatalf("got %T", msg)
	}
	if inv.ToolName != "lookup" || inv.InvocationID != "call_1" {
		t.Fatalf("unexpected invocation: %+v", inv)
	}
	var params map[string]string
	if err := json.Unmarshal(inv.Parameters, &params); err != nil || params["q"] != "up" {
		t.Fatalf("parameters did not round-trip: %v %v", params, err)
	}

	if _, err := DecodeServerMessage([]byte(`{"type":"client_tool_invocation","toolName":"","invocationId":"x"}`)); err == nil {
		t.Fatal("expected error for empty tool name")
	}
}

func TestDecodeServerMessage_UnknownTypePreserved(t *testing.T) {
	msg, err := DecodeServerMessage([]byte(`{"type":"pong","nonce":7}`))
	if err != nil {
		t.Fatalf("unknown type should not error: %v", err)
	}
	u, ok := msg.(UnknownMessage)
	if !ok {
		t.Fatalf("got %T, want UnknownMessage", msg)
	}
	if u.Type != "pong" {
		t.Fatalf("Type = %q", u.Type)
	}
}

func TestDecodeServerMessage_Malformed(t *testing.T) {
	for _, raw := range []string{`{`, `{"no":"type"}`, `[]`} {
		if _, err := DecodeServerMessage([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestToolResultShapes(t *testing.T) {
	ok := NewToolResult("inv_1", `{"answer":42}`)
	data, err := json.Marshal(ok)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["type"] != "client_tool_result" || m["invocationId"] != "inv_1" || m["responseType"] != ToolResponseTypeResponse {
		t.Fatalf("unexpected success shape: %v", m)
	}
	if _, present := m["errorType"]; present {
		t.Fatal("success result must not carry errorType")
	}

	fail := NewToolError("inv_2", "boom")
	data, err = json.Marshal(fail)
	if err != nil {
		t.Fatal(err)
	}
	m = nil
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["errorType"] != ToolErrorTypeImplementation || m["errorMessage"] != "boom" {
		t.Fatalf("unexpected error shape: %v", m)
	}
	if _, present := m["result"]; present {
		t.Fatal("error result must not carry result")
	}
}

func TestForwardable(t *testing.T) {
	if !NewToolResult("i", "{}").Forwardable() {
		t.Fatal("tool results must be forwardable")
	}
	for _, m := range []ClientMessage{
		SessionUpdateMessage{},
		ConversationItemMessage{},
		ResponseCreateMessage{},
		ResponseCancelMessage{},
	} {
		if m.Forwardable() {
			t.Fatalf("%s must be intercepted locally", m.ClientType())
		}
	}
}
