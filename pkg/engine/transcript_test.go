package engine

import (
	"testing"
	"time"

	"github.com/aplisay/voicebridge/pkg/engine/wire"
)

func newTestRouter() (*transcriptRouter, *generationTracker, *eventRecorder) {
	rec := &eventRecorder{}
	tracker := newGenerationTracker(testLogger(), rec.emit, time.Now)
	return newTranscriptRouter(testLogger(), rec.emit, tracker), tracker, rec
}

func userPartial(text string) wire.TranscriptMessage {
	return wire.TranscriptMessage{Type: "transcript", Role: wire.RoleUser, Text: text}
}

func userFinal(text string) wire.TranscriptMessage {
	return wire.TranscriptMessage{Type: "transcript", Role: wire.RoleUser, Text: text, Final: true}
}

func agentDelta(delta string) wire.TranscriptMessage {
	return wire.TranscriptMessage{Type: "transcript", Role: wire.RoleAgent, Delta: delta}
}

func agentFinal(text string) wire.TranscriptMessage {
	return wire.TranscriptMessage{Type: "transcript", Role: wire.RoleAgent, Text: text, Final: true}
}

func countType(events []Event, eventType string) int {
	n := 0
	for _, ev := range events {
		if ev.EventType() == eventType {
			n++
		}
	}
	return n
}

func TestRouter_SpeechStartedLatchesOncePerTurn(t *testing.T) {
	r, _, rec := newTestRouter()

	r.handleTranscript(userPartial("hel"))
	r.handleTranscript(userPartial("hello th"))
	r.handleTranscript(userFinal("hello there"))

	events := rec.snapshot()
	if got := countType(events, "input.speech_started"); got != 1 {
		t.Fatalf("speech started %d times in one turn, want 1", got)
	}
	if got := countType(events, "input.transcription.completed"); got != 3 {
		t.Fatalf("got %d transcription events, want 3", got)
	}

	// New caller turn: the latch reopens.
	r.turnReturned()
	r.handleTranscript(userPartial("and also"))
	if got := countType(rec.snapshot(), "input.speech_started"); got != 2 {
		t.Fatalf("speech started %d times across two turns, want 2", got)
	}
}

func TestRouter_EmptyUserTranscriptIgnored(t *testing.T) {
	r, _, rec := newTestRouter()

	r.handleTranscript(userPartial(""))
	r.handleTranscript(wire.TranscriptMessage{Type: "transcript", Role: wire.RoleUser})

	if len(rec.snapshot()) != 0 {
		t.Errorf("empty transcripts produced %d events, want 0", len(rec.snapshot()))
	}
}

func TestRouter_FinalUserTranscriptReachesNextGeneration(t *testing.T) {
	r, tracker, _ := newTestRouter()

	r.handleTranscript(userPartial("what time"))
	r.handleTranscript(userFinal("what time is it"))

	tracker.handleState(wire.AgentStateSpeaking)
	if got := tracker.active().InputTranscript(); got != "what time is it" {
		t.Errorf("input transcript = %q, want the finalized utterance", got)
	}
}

func TestRouter_AgentDeltasBufferUntilFinal(t *testing.T) {
	r, tracker, _ := newTestRouter()

	tracker.handleState(wire.AgentStateSpeaking)
	gen := tracker.active()

	r.handleTranscript(agentDelta("It is "))
	r.handleTranscript(agentDelta("three "))
	if got := gen.OutputText(); got != "" {
		t.Fatalf("deltas leaked into generation before final: %q", got)
	}

	r.handleTranscript(wire.TranscriptMessage{Type: "transcript", Role: wire.RoleAgent, Delta: "o'clock.", Final: true})

	if got := gen.OutputText(); got != "It is three o'clock." {
		t.Errorf("output text = %q", got)
	}
	tracker.handleState(wire.AgentStateListening)
	if got := collect(t, gen.Text.Out()); len(got) != 1 || got[0] != "It is three o'clock." {
		t.Errorf("text channel = %v", got)
	}
}

func TestRouter_FinalTextOverridesDeltas(t *testing.T) {
	r, tracker, _ := newTestRouter()

	tracker.handleState(wire.AgentStateSpeaking)
	gen := tracker.active()

	r.handleTranscript(agentDelta("It is thre"))
	r.handleTranscript(agentFinal("It is three o'clock."))

	if got := gen.OutputText(); got != "It is three o'clock." {
		t.Errorf("authoritative final text lost: %q", got)
	}
}

func TestRouter_AgentTranscriptWithoutGenerationDropped(t *testing.T) {
	r, tracker, rec := newTestRouter()

	r.handleTranscript(agentFinal("orphaned"))

	if len(rec.snapshot()) != 0 {
		t.Error("orphaned agent transcript must not produce events")
	}

	// The drop must not poison the next turn.
	tracker.handleState(wire.AgentStateSpeaking)
	r.handleTranscript(agentFinal("attributed"))
	if got := tracker.active().OutputText(); got != "attributed" {
		t.Errorf("next turn text = %q", got)
	}
}

func TestRouter_DeltasClearedBetweenTurns(t *testing.T) {
	r, tracker, _ := newTestRouter()

	tracker.handleState(wire.AgentStateSpeaking)
	r.handleTranscript(agentDelta("first turn "))
	r.handleTranscript(agentFinal("first turn done"))
	tracker.handleState(wire.AgentStateListening)
	r.turnReturned()

	tracker.handleState(wire.AgentStateSpeaking)
	r.handleTranscript(agentFinal("second"))
	if got := tracker.active().OutputText(); got != "second" {
		t.Errorf("second turn text = %q, buffer leaked across turns", got)
	}
}
