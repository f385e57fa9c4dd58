package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aplisay/voicebridge/pkg/engine/wire"
)

// PendingReply is a caller-initiated request for the agent to speak. It
// resolves with the generation-created event of the first turn the backend
// starts after the request was made. The engine applies no timeout; callers
// layer their own over Done.
type PendingReply struct {
	id           string
	instructions string
	createdAt    time.Time
	ch           chan *GenerationCreatedEvent
}

// ID returns the locally generated request id.
func (p *PendingReply) ID() string { return p.id }

// Done yields the resolving event. The channel never closes if the backend
// never starts another turn.
func (p *PendingReply) Done() <-chan *GenerationCreatedEvent { return p.ch }

// generationTracker reconciles backend turn-state events into the Generation
// lifecycle. It guarantees at most one active Generation at any instant.
type generationTracker struct {
	logger *slog.Logger
	emit   func(Event)
	now    func() time.Time

	mu             sync.Mutex
	current        *Generation
	pending        []*PendingReply
	genCounter     int
	userTranscript string
}

func newGenerationTracker(logger *slog.Logger, emit func(Event), now func() time.Time) *generationTracker {
	if now == nil {
		now = time.Now
	}
	return &generationTracker{logger: logger, emit: emit, now: now}
}

// addPending registers a caller-initiated reply request. Requests resolve
// oldest-first: one per new Generation.
func (t *generationTracker) addPending(instructions string) *PendingReply {
	req := &PendingReply{
		id:           uuid.NewString(),
		instructions: instructions,
		createdAt:    t.now(),
		ch:           make(chan *GenerationCreatedEvent, 1),
	}
	t.mu.Lock()
	t.pending = append(t.pending, req)
	t.mu.Unlock()
	return req
}

// handleState advances the generation lifecycle for one turn-state event.
func (t *generationTracker) handleState(state wire.AgentState) {
	switch state {
	case wire.AgentStateListening:
		t.finishActive()
	case wire.AgentStateThinking:
		// Observability only; no lifecycle change.
	case wire.AgentStateSpeaking:
		t.startGeneration()
	default:
		t.logger.Warn("ignoring unknown agent state")
	}
}

// finishActive finalizes the active generation, if any.
func (t *generationTracker) finishActive() {
	t.mu.Lock()
	gen := t.current
	t.current = nil
	t.mu.Unlock()

	if gen != nil && gen.finalize() {
		t.logger.Debug("generation finished",
			slog.String("generation_id", gen.ID),
			slog.Int("output_chars", len(gen.OutputText())))
	}
}

// startGeneration opens a new Generation, superseding a still-open one with a
// warning, and resolves the oldest pending reply request if one exists.
func (t *generationTracker) startGeneration() {
	t.mu.Lock()
	if prev := t.current; prev != nil && !prev.IsDone() {
		t.logger.Warn("superseding generation that never returned to listening",
			slog.String("generation_id", prev.ID))
		prev.finalize()
	}

	t.genCounter++
	gen := newGeneration(
		fmt.Sprintf("gen_%d", t.genCounter),
		fmt.Sprintf("item_%d", t.genCounter),
		t.now(),
	)
	gen.setInputTranscript(t.userTranscript)
	t.userTranscript = ""
	t.current = gen

	var resolved *PendingReply
	if len(t.pending) > 0 {
		resolved = t.pending[0]
		t.pending = t.pending[1:]
		gen.CallerInitiated = true
	}
	t.mu.Unlock()

	ev := &GenerationCreatedEvent{Generation: gen, Pointer: gen.Pointer()}
	if resolved != nil {
		ev.RequestID = resolved.id
		resolved.ch <- ev
	}
	t.emit(ev)
}

// active returns the current generation if it is still open.
func (t *generationTracker) active() *Generation {
	t.mu.Lock()
	gen := t.current
	t.mu.Unlock()
	if gen == nil || gen.IsDone() {
		return nil
	}
	return gen
}

// writeAudio attributes a loose audio frame to the in-flight generation.
// Returns false when no generation can own the frame.
func (t *generationTracker) writeAudio(frame []byte) bool {
	gen := t.active()
	if gen == nil {
		return false
	}
	gen.markOutput(t.now())
	return gen.Audio.Write(frame)
}

// setUserTranscript remembers the caller's latest finalized utterance so the
// next generation can record what it responded to.
func (t *generationTracker) setUserTranscript(text string) {
	t.mu.Lock()
	t.userTranscript = text
	t.mu.Unlock()
}

// abort force-finalizes the active generation, e.g. on transport failure, so
// channel consumers unblock.
func (t *generationTracker) abort() {
	t.finishActive()
}

// pendingCount reports outstanding caller-initiated requests.
func (t *generationTracker) pendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
