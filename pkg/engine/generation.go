package engine

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/aplisay/voicebridge/pkg/engine/stream"
)

// FunctionCall is one tool invocation surfaced on a Generation's
// function-call channel.
type FunctionCall struct {
	Name         string          `json:"name"`
	InvocationID string          `json:"invocation_id"`
	Arguments    json.RawMessage `json:"arguments"`
}

// ContentPointer locates a loose output buffer within a generation when the
// transport carries no explicit identifier alongside the data.
type ContentPointer struct {
	GenerationID string `json:"generation_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
}

// Generation is one backend turn of agent output. Its three channels are
// opened together at creation and closed together exactly once at
// finalization; a finished Generation is never reused.
type Generation struct {
	ID      string
	InputID string

	Text          *stream.Stream[string]
	Audio         *stream.Stream[[]byte]
	FunctionCalls *stream.Stream[FunctionCall]

	CreatedAt       time.Time
	CallerInitiated bool

	mu              sync.Mutex
	firstOutputAt   time.Time
	inputTranscript string
	outputText      string
	done            bool
	doneCh          chan struct{}
}

func newGeneration(id, inputID string, now time.Time) *Generation {
	return &Generation{
		ID:            id,
		InputID:       inputID,
		Text:          stream.New[string](),
		Audio:         stream.New[[]byte](),
		FunctionCalls: stream.New[FunctionCall](),
		CreatedAt:     now,
		doneCh:        make(chan struct{}),
	}
}

// Pointer returns the content pointer for this generation's speech output.
// Output and content indexes are always zero: the backend produces a single
// spoken message per turn.
func (g *Generation) Pointer() ContentPointer {
	return ContentPointer{GenerationID: g.ID}
}

// Done is closed after all three channels are closed.
func (g *Generation) Done() <-chan struct{} { return g.doneCh }

// IsDone reports whether the generation has been finalized.
func (g *Generation) IsDone() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

// finalize closes every output channel, marks the generation done and
// resolves the completion signal. Only the first call has any effect; it
// reports whether it was that call. Channels close before doneCh so a waiter
// on Done never observes an open channel.
func (g *Generation) finalize() bool {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return false
	}
	g.done = true
	g.mu.Unlock()

	g.Text.Close()
	g.Audio.Close()
	g.FunctionCalls.Close()
	close(g.doneCh)
	return true
}

// markOutput records the first-output timestamp.
func (g *Generation) markOutput(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.firstOutputAt.IsZero() {
		g.firstOutputAt = now
	}
}

// FirstOutputAt returns when the first output arrived, or the zero time if
// none has.
func (g *Generation) FirstOutputAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.firstOutputAt
}

func (g *Generation) setInputTranscript(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inputTranscript = text
}

// InputTranscript returns the caller utterance this turn responded to.
func (g *Generation) InputTranscript() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inputTranscript
}

func (g *Generation) appendOutputText(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outputText += text
}

// OutputText returns the accumulated agent text for this turn.
func (g *Generation) OutputText() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outputText
}
