package engine

// Event is the interface for all session events delivered to the host
// application. The vocabulary is closed: hosts react to typed events, never to
// ad-hoc payload shapes.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// SessionCreatedEvent is emitted once the socket is open and buffered audio
// has been flushed.
type SessionCreatedEvent struct {
	SessionID string `json:"session_id"`
}

func (e *SessionCreatedEvent) EventType() string { return "session.created" }

// SessionUpdatedEvent is emitted after a local configuration change has been
// applied, including the synthetic acknowledgement of intercepted control
// messages.
type SessionUpdatedEvent struct {
	SessionID    string `json:"session_id"`
	Instructions string `json:"instructions,omitempty"`
}

func (e *SessionUpdatedEvent) EventType() string { return "session.updated" }

// GenerationCreatedEvent is emitted when the backend starts a new turn of
// agent output. The Generation's channels are open but may not have content
// yet; hosts can begin consuming immediately.
type GenerationCreatedEvent struct {
	Generation *Generation `json:"-"`
	// Pointer locates the generation's speech output for hosts that need to
	// attribute loose audio buffers arriving without an identifier.
	Pointer ContentPointer `json:"pointer"`
	// RequestID is set when this generation resolved a caller-initiated
	// reply request; empty for backend-initiated turns.
	RequestID string `json:"request_id,omitempty"`
}

func (e *GenerationCreatedEvent) EventType() string { return "generation.created" }

// InputSpeechStartedEvent is emitted exactly once per caller turn, on the
// first non-empty partial transcript of that turn.
type InputSpeechStartedEvent struct{}

func (e *InputSpeechStartedEvent) EventType() string { return "input.speech_started" }

// InputTranscriptionEvent re-emits caller transcription progress. Final is
// true for the authoritative end-of-utterance text.
type InputTranscriptionEvent struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

func (e *InputTranscriptionEvent) EventType() string { return "input.transcription.completed" }

// FunctionCallOutputEvent reports a finished tool invocation, success or
// error, alongside the result sent to the backend.
type FunctionCallOutputEvent struct {
	Name         string `json:"name"`
	InvocationID string `json:"invocation_id"`
	Output       string `json:"output"`
	IsError      bool   `json:"is_error,omitempty"`
}

func (e *FunctionCallOutputEvent) EventType() string { return "function_call.output" }

// ErrorEvent reports a fault. Recoverable is false for transport faults: the
// session is unusable and the host must close and discard it.
type ErrorEvent struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// CloseEvent is the last event a session emits.
type CloseEvent struct {
	SessionID string `json:"session_id"`
}

func (e *CloseEvent) EventType() string { return "close" }
