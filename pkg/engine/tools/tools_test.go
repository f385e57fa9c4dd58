package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/aplisay/voicebridge/pkg/engine/wire"
)

func noopHandler(context.Context, json.RawMessage) (any, error) { return nil, nil }

func TestNewRegistry_Validation(t *testing.T) {
	tests := []struct {
		name string
		tool Tool
	}{
		{"empty name", Tool{Execute: noopHandler}},
		{"nil handler", Tool{Name: "t"}},
		{"bad param type", Tool{Name: "t", Execute: noopHandler,
			Parameters: []Parameter{{Name: "p", Type: "object"}}}},
		{"unnamed param", Tool{Name: "t", Execute: noopHandler,
			Parameters: []Parameter{{Type: "string"}}}},
		{"duplicate param", Tool{Name: "t", Execute: noopHandler,
			Parameters: []Parameter{{Name: "p", Type: "string"}, {Name: "p", Type: "number"}}}},
	}
	for _, tc := range tests {
		if _, err := NewRegistry(tc.tool); err == nil {
			t.Errorf("%s: expected construction error", tc.name)
		}
	}

	if _, err := NewRegistry(
		Tool{Name: "a", Execute: noopHandler},
		Tool{Name: "a", Execute: noopHandler},
	); err == nil {
		t.Error("duplicate tool name: expected construction error")
	}
}

func TestRegistry_Declarations(t *testing.T) {
	reg, err := NewRegistry(
		Tool{
			Name:        "transfer",
			Description: "Transfer the call",
			Parameters: []Parameter{
				{Name: "number", Type: "string", Description: "E.164 target", Required: true},
				{Name: "warm", Type: "boolean"},
			},
			Execute: noopHandler,
		},
		Tool{Name: "hangup", Description: "End the call", Execute: noopHandler},
	)
	if err != nil {
		t.Fatal(err)
	}

	decls := reg.Declarations()
	if len(decls) != 2 {
		t.Fatalf("got %d declarations, want 2", len(decls))
	}
	// Name order.
	if decls[0].TemporaryTool.ModelToolName != "hangup" || decls[1].TemporaryTool.ModelToolName != "transfer" {
		t.Fatalf("unexpected order: %s, %s",
			decls[0].TemporaryTool.ModelToolName, decls[1].TemporaryTool.ModelToolName)
	}

	params := decls[1].TemporaryTool.DynamicParameters
	if len(params) != 2 {
		t.Fatalf("got %d parameters, want 2", len(params))
	}
	if params[0].Location != wire.ParameterLocationBody {
		t.Fatalf("location = %q", params[0].Location)
	}
	if !params[0].Required || params[0].Schema.Type != "string" {
		t.Fatalf("unexpected parameter: %+v", params[0])
	}
}

type fakeSink struct {
	mu       sync.Mutex
	messages []wire.ClientMessage
	reject   bool
}

func (s *fakeSink) Enqueue(msg wire.ClientMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false
	}
	s.messages = append(s.messages, msg)
	return true
}

func (s *fakeSink) snapshot() []wire.ToolResultMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.ToolResultMessage, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m.(wire.ToolResultMessage))
	}
	return out
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *outcomeRecorder) record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *outcomeRecorder) snapshot() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

func invocation(tool, id, params string) wire.ToolInvocationMessage {
	return wire.ToolInvocationMessage{
		Type:         "client_tool_invocation",
		ToolName:     tool,
		InvocationID: id,
		Parameters:   json.RawMessage(params),
	}
}

func TestDispatcher_SuccessRoundTrip(t *testing.T) {
	reg, err := NewRegistry(Tool{
		Name: "echo",
		Execute: func(_ context.Context, args json.RawMessage) (any, error) {
			var in map[string]string
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			return map[string]string{"echo": in["say"]}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	sink := &fakeSink{}
	rec := &outcomeRecorder{}
	d := NewDispatcher(reg, sink, nil, rec.record)

	d.Dispatch(context.Background(), invocation("echo", "inv_1", `{"say":"hi"}`))
	d.Wait()

	msgs := sink.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("got %d result messages, want 1", len(msgs))
	}
	if msgs[0].InvocationID != "inv_1" {
		t.Fatalf("invocation id = %q", msgs[0].InvocationID)
	}
	if msgs[0].ResponseType != wire.ToolResponseTypeResponse {
		t.Fatalf("responseType = %q", msgs[0].ResponseType)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(msgs[0].Result), &payload); err != nil || payload["echo"] != "hi" {
		t.Fatalf("result payload = %q (%v)", msgs[0].Result, err)
	}

	outs := rec.snapshot()
	if len(outs) != 1 || outs[0].IsError || outs[0].ToolName != "echo" {
		t.Fatalf("unexpected outcomes: %+v", outs)
	}
}

func TestDispatcher_ErrorBecomesToolError(t *testing.T) {
	reg, err := NewRegistry(Tool{
		Name: "flaky",
		Execute: func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.New("upstream down")
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	sink := &fakeSink{}
	rec := &outcomeRecorder{}
	d := NewDispatcher(reg, sink, nil, rec.record)

	d.Dispatch(context.Background(), invocation("flaky", "inv_9", `{}`))
	d.Wait()

	msgs := sink.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("got %d result messages, want 1", len(msgs))
	}
	if msgs[0].ErrorType != wire.ToolErrorTypeImplementation || msgs[0].ErrorMessage != "upstream down" {
		t.Fatalf("unexpected error result: %+v", msgs[0])
	}

	outs := rec.snapshot()
	if len(outs) != 1 || !outs[0].IsError {
		t.Fatalf("unexpected outcomes: %+v", outs)
	}
}

func TestDispatcher_PanicIsCaught(t *testing.T) {
	reg, err := NewRegistry(Tool{
		Name: "boom",
		Execute: func(context.Context, json.RawMessage) (any, error) {
			panic("kaboom")
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	sink := &fakeSink{}
	d := NewDispatcher(reg, sink, nil, nil)
	d.Dispatch(context.Background(), invocation("boom", "inv_2", `{}`))
	d.Wait()

	msgs := sink.snapshot()
	if len(msgs) != 1 || msgs[0].ErrorType != wire.ToolErrorTypeImplementation {
		t.Fatalf("panic did not convert into a tool error: %+v", msgs)
	}
}

func TestDispatcher_UnknownToolDropped(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	sink := &fakeSink{}
	d := NewDispatcher(reg, sink, nil, nil)

	d.Dispatch(context.Background(), invocation("ghost", "inv_3", `{}`))
	d.Wait()

	if len(sink.snapshot()) != 0 {
		t.Fatal("unregistered tool must not produce a result message")
	}
}

func TestDispatcher_ConcurrentInvocationsCorrelate(t *testing.T) {
	release := make(chan struct{})
	reg, err := NewRegistry(
		Tool{Name: "slow", Execute: func(context.Context, json.RawMessage) (any, error) {
			<-release
			return "slow-done", nil
		}},
		Tool{Name: "fast", Execute: func(context.Context, json.RawMessage) (any, error) {
			return "fast-done", nil
		}},
	)
	if err != nil {
		t.Fatal(err)
	}

	sink := &fakeSink{}
	d := NewDispatcher(reg, sink, nil, nil)

	d.Dispatch(context.Background(), invocation("slow", "inv_slow", `{}`))
	d.Dispatch(context.Background(), invocation("fast", "inv_fast", `{}`))
	close(release)
	d.Wait()

	byID := make(map[string]wire.ToolResultMessage)
	for _, m := range sink.snapshot() {
		byID[m.InvocationID] = m
	}
	if len(byID) != 2 {
		t.Fatalf("got %d distinct results, want 2", len(byID))
	}
	if byID["inv_slow"].Result != `"slow-done"` || byID["inv_fast"].Result != `"fast-done"` {
		t.Fatalf("results miscorrelated: %+v", byID)
	}
}
