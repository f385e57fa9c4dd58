package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aplisay/voicebridge/pkg/engine/audio"
	"github.com/aplisay/voicebridge/pkg/engine/tools"
	"github.com/aplisay/voicebridge/pkg/engine/wire"
	"github.com/aplisay/voicebridge/pkg/metrics"
)

const (
	defaultInputFrameMs  = 100
	defaultOutputFrameMs = 200
	defaultQueueSize     = 64
	defaultEventBuffer   = 256

	// Presence markers carry a multi-minute TTL; re-arming once a minute
	// keeps long calls visible with margin to spare.
	defaultPresenceRefresh = time.Minute
)

// Options configures a Model. Starter is the only required field; everything
// else has a working default.
type Options struct {
	// Starter creates calls on the conversational backend.
	Starter CallStarter

	// Instructions and Voice are defaults applied to every new session.
	Instructions string
	Voice        string

	// InputFormat and OutputFormat describe the caller-side and agent-side
	// PCM. Zero values mean 48kHz mono PCM16.
	InputFormat  audio.Format
	OutputFormat audio.Format

	// InputFrameMs and OutputFrameMs set the audio framing cadence.
	InputFrameMs  int
	OutputFrameMs int

	// QueueSize bounds the outbound control queue per session.
	QueueSize int

	// EventBuffer bounds each session's event channel.
	EventBuffer int

	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Presence Presence

	// Dialer overrides the WebSocket dialer. Nil means the default dialer.
	Dialer *websocket.Dialer
}

// Model creates sessions against one backend configuration and tracks every
// live session so they can be shut down in bulk.
type Model struct {
	opts   Options
	logger *slog.Logger
	dialer wsDialer

	mu   sync.Mutex
	live map[string]*Session
}

// NewModel validates opts and returns a session factory. Configuration
// faults surface here, not on first use.
func NewModel(opts Options) (*Model, error) {
	if opts.Starter == nil {
		return nil, fmt.Errorf("engine: a call starter is required")
	}
	if opts.InputFormat == (audio.Format{}) {
		opts.InputFormat = audio.DefaultFormat()
	}
	if opts.OutputFormat == (audio.Format{}) {
		opts.OutputFormat = audio.DefaultFormat()
	}
	if opts.InputFrameMs <= 0 {
		opts.InputFrameMs = defaultInputFrameMs
	}
	if opts.OutputFrameMs <= 0 {
		opts.OutputFrameMs = defaultOutputFrameMs
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var dialer wsDialer = websocket.DefaultDialer
	if opts.Dialer != nil {
		dialer = opts.Dialer
	}
	return &Model{
		opts:   opts,
		logger: opts.Logger,
		dialer: dialer,
		live:   make(map[string]*Session),
	}, nil
}

// SessionConfig overrides Model defaults for one session.
type SessionConfig struct {
	Instructions string
	Voice        string
	Tools        *tools.Registry
}

// NewSession creates a session in the disconnected state and registers it as
// live. The backend connection starts lazily on the first audio push or the
// first non-empty tool update.
func (m *Model) NewSession(ctx context.Context, cfg SessionConfig) *Session {
	if cfg.Instructions == "" {
		cfg.Instructions = m.opts.Instructions
	}
	if cfg.Voice == "" {
		cfg.Voice = m.opts.Voice
	}

	id := uuid.NewString()
	logger := m.logger.With("session_id", id)
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s := &Session{
		id:               id,
		logger:           logger,
		metrics:          m.opts.Metrics,
		starter:          m.opts.Starter,
		dialer:           m.dialer,
		pres:             m.opts.Presence,
		presRefreshEvery: defaultPresenceRefresh,
		now:              time.Now,
		inFormat:         m.opts.InputFormat,
		outFormat:        m.opts.OutputFormat,
		inChunker:        audio.NewChunker(m.opts.InputFormat, m.opts.InputFrameMs),
		outChunker:       audio.NewChunker(m.opts.OutputFormat, m.opts.OutputFrameMs),
		instructions:     cfg.Instructions,
		voice:            cfg.Voice,
		registry:         cfg.Tools,
		events:           make(chan Event, m.opts.EventBuffer),
		done:             make(chan struct{}),
		ctx:              sctx,
		cancel:           cancel,
	}
	s.onClose = func(closed *Session) { m.unregister(closed.id) }
	s.tracker = newGenerationTracker(logger, s.emit, s.now)
	s.router = newTranscriptRouter(logger, s.emit, s.tracker)
	s.queue = newControlQueue(m.opts.QueueSize, logger, s.handleLocal)
	s.dispatcher = tools.NewDispatcher(cfg.Tools, s.queue, logger, func(o tools.Outcome) {
		outcome := "ok"
		if o.IsError {
			outcome = "error"
		}
		m.opts.Metrics.ToolInvoked(outcome)
		s.emit(&FunctionCallOutputEvent{
			Name:         o.ToolName,
			InvocationID: o.InvocationID,
			Output:       o.Output,
			IsError:      o.IsError,
		})
	})

	m.mu.Lock()
	m.live[id] = s
	m.mu.Unlock()
	m.opts.Metrics.SessionStarted()
	logger.Info("session created", "voice", cfg.Voice)
	return s
}

// Session looks up a live session by its local id.
func (m *Model) Session(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.live[id]
	return s, ok
}

// Live returns the number of sessions that have not yet closed.
func (m *Model) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// CloseAll closes every live session and waits for each to finish.
func (m *Model) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.live))
	for _, s := range m.live {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		_ = s.Close()
	}
}

func (m *Model) unregister(id string) {
	m.mu.Lock()
	delete(m.live, id)
	m.mu.Unlock()
}

// Declarations exposes the wire-format tool declarations for a registry.
// Useful for hosts that assemble call requests themselves.
func Declarations(r *tools.Registry) []wire.SelectedTool {
	if r == nil {
		return nil
	}
	return r.Declarations()
}
