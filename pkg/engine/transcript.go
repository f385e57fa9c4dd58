package engine

import (
	"log/slog"
	"sync"

	"github.com/aplisay/voicebridge/pkg/engine/wire"
)

// transcriptRouter classifies inbound transcript events by speaker, emits the
// per-turn speech-started signal, and feeds agent text into the active
// generation.
type transcriptRouter struct {
	logger  *slog.Logger
	emit    func(Event)
	tracker *generationTracker

	mu            sync.Mutex
	speechLatched bool
	agentBuffer   string
}

func newTranscriptRouter(logger *slog.Logger, emit func(Event), tracker *generationTracker) *transcriptRouter {
	return &transcriptRouter{logger: logger, emit: emit, tracker: tracker}
}

// handleTranscript routes one transcript message.
func (r *transcriptRouter) handleTranscript(m wire.TranscriptMessage) {
	switch m.Role {
	case wire.RoleUser:
		r.handleUser(m)
	case wire.RoleAgent:
		r.handleAgent(m)
	}
}

func (r *transcriptRouter) handleUser(m wire.TranscriptMessage) {
	text := m.Text
	if text == "" {
		text = m.Delta
	}
	if text == "" {
		return
	}

	if !m.Final {
		r.mu.Lock()
		first := !r.speechLatched
		r.speechLatched = true
		r.mu.Unlock()
		if first {
			r.emit(&InputSpeechStartedEvent{})
		}
	}

	if m.Final {
		r.tracker.setUserTranscript(text)
	}
	r.emit(&InputTranscriptionEvent{Text: text, Final: m.Final})
}

func (r *transcriptRouter) handleAgent(m wire.TranscriptMessage) {
	r.mu.Lock()
	if m.Delta != "" {
		r.agentBuffer += m.Delta
	}
	if !m.Final {
		r.mu.Unlock()
		return
	}
	// Final: authoritative text wins over the accumulated deltas.
	full := r.agentBuffer
	if m.Text != "" {
		full = m.Text
	}
	r.agentBuffer = ""
	r.mu.Unlock()

	if full == "" {
		return
	}

	gen := r.tracker.active()
	if gen == nil {
		// Transcripts should always follow a speaking turn-state event; one
		// arriving with no turn to own it cannot be attributed.
		r.logger.Warn("dropping agent transcript with no active generation",
			slog.Int("chars", len(full)))
		return
	}
	gen.markOutput(r.tracker.now())
	gen.appendOutputText(full)
	gen.Text.Write(full)
}

// turnReturned opens a fresh speech-started latch. Called when the backend
// returns to listening, i.e. a new caller turn may begin.
func (r *transcriptRouter) turnReturned() {
	r.mu.Lock()
	r.speechLatched = false
	r.mu.Unlock()
}
