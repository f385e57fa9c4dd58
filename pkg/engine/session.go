package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aplisay/voicebridge/pkg/engine/audio"
	"github.com/aplisay/voicebridge/pkg/engine/tools"
	"github.com/aplisay/voicebridge/pkg/engine/wire"
	"github.com/aplisay/voicebridge/pkg/metrics"
)

// ConnState tracks the lifecycle of the backend socket.
type ConnState int32

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnOpen
	ConnClosing
	ConnClosed
	ConnFailed
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnClosing:
		return "closing"
	case ConnClosed:
		return "closed"
	case ConnFailed:
		return "failed"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// CallRequest carries everything the backend needs to create a call.
type CallRequest struct {
	Instructions     string
	Voice            string
	InputSampleRate  int
	OutputSampleRate int
	Tools            []wire.SelectedTool
}

// CallInfo is the backend's answer to a call creation request.
type CallInfo struct {
	CallID    string
	JoinURL   string
	ExpiresAt time.Time
}

// CallStarter creates a call on the backend and returns the socket join URL.
type CallStarter interface {
	StartCall(ctx context.Context, req CallRequest) (CallInfo, error)
}

// Presence records which calls are live in shared state so that other
// processes can see them. Markers carry a TTL, so the session re-arms them
// periodically for as long as the call lasts.
type Presence interface {
	Mark(ctx context.Context, callID string) error
	Refresh(ctx context.Context, callID string) error
	Clear(ctx context.Context, callID string) error
}

type wsDialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type socketConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session bridges one live caller to one backend call over a single
// WebSocket. Host-facing methods are safe for concurrent use.
type Session struct {
	id      string
	logger  *slog.Logger
	metrics *metrics.Metrics
	starter CallStarter
	dialer  wsDialer
	pres    Presence
	now     func() time.Time
	onClose func(*Session)

	presRefreshEvery time.Duration

	inFormat   audio.Format
	outFormat  audio.Format
	inChunker  *audio.Chunker
	outChunker *audio.Chunker

	tracker    *generationTracker
	router     *transcriptRouter
	dispatcher *tools.Dispatcher
	queue      *controlQueue

	state atomic.Int32

	mu            sync.Mutex
	conn          socketConn
	callID        string
	expiresAt     time.Time
	instructions  string
	voice         string
	registry      *tools.Registry
	toolsLocked   bool
	pendingFrames [][]byte
	pushedAudio   time.Duration

	writeMu sync.Mutex

	evMu     sync.Mutex
	evClosed bool
	events   chan Event

	done     chan struct{}
	stopOnce sync.Once
	closed   sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Events delivers lifecycle, transcription and tool events to the host. The
// channel closes after Close.
func (s *Session) Events() <-chan Event { return s.events }

// ID is the locally assigned session identifier.
func (s *Session) ID() string { return s.id }

// State reports the current socket lifecycle state.
func (s *Session) State() ConnState { return ConnState(s.state.Load()) }

// CallID is the backend call identifier, empty until the call is created.
func (s *Session) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

// ExpiresAt is the backend's join deadline, zero until the call is created.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// PushedAudio is the total duration of caller audio accepted so far.
func (s *Session) PushedAudio() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushedAudio
}

// Instructions returns the current system instructions.
func (s *Session) Instructions() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instructions
}

// PushAudio accepts caller PCM16 audio at the given sample rate, slices it
// into fixed frames and sends or buffers each one. The first push starts the
// backend connection.
func (s *Session) PushAudio(data []byte, sampleRate int) {
	if len(data) == 0 {
		return
	}
	switch s.State() {
	case ConnClosing, ConnClosed, ConnFailed:
		s.logger.Debug("discarding audio on finished session", "state", s.State().String())
		return
	}
	if sampleRate != 0 && sampleRate != s.inFormat.SampleRate {
		data = audio.Resample(data, sampleRate, s.inFormat.SampleRate)
	}

	s.mu.Lock()
	frames := s.inChunker.Push(data)
	s.pushedAudio += time.Duration(s.inFormat.DurationMs(len(data))) * time.Millisecond
	open := ConnState(s.state.Load()) == ConnOpen
	if !open {
		s.pendingFrames = append(s.pendingFrames, frames...)
	}
	s.mu.Unlock()

	if open {
		for _, frame := range frames {
			if err := s.sendBinary(frame); err != nil {
				s.fail("audio_send_failed", err)
				return
			}
			s.metrics.FrameSent()
		}
	}
	s.maybeConnect()
}

// GenerateReply registers a request for the next agent generation. The
// returned handle resolves when the backend next starts speaking.
func (s *Session) GenerateReply(instructions string) *PendingReply {
	return s.tracker.addPending(instructions)
}

// Generation returns the currently active generation, or nil.
func (s *Session) Generation() *Generation { return s.tracker.active() }

// UpdateInstructions replaces the session instructions. After the connection
// has started the change is local bookkeeping only; the backend keeps the
// instructions it was created with.
func (s *Session) UpdateInstructions(text string) {
	s.mu.Lock()
	s.instructions = text
	id := s.callID
	started := s.toolsLocked
	s.mu.Unlock()
	if started {
		s.logger.Debug("instructions updated after connect; backend keeps original")
	}
	s.emit(&SessionUpdatedEvent{SessionID: id, Instructions: text})
}

// UpdateTools replaces the tool registry. Tools must be set before the
// connection starts; later updates are refused because the backend only
// accepts declarations at call creation. A non-empty registry triggers the
// connection start.
func (s *Session) UpdateTools(registry *tools.Registry) {
	s.mu.Lock()
	if s.toolsLocked {
		s.mu.Unlock()
		s.logger.Warn("ignoring tool update after connection start")
		return
	}
	s.registry = registry
	s.mu.Unlock()
	s.dispatcher.SetRegistry(registry)
	if registry != nil && registry.Len() > 0 {
		s.maybeConnect()
	}
}

// SendControl places a message on the outbound control queue. Messages the
// backend does not understand are applied locally instead of being sent.
// Returns false when the queue is full or the session has closed.
func (s *Session) SendControl(msg wire.ClientMessage) bool {
	return s.queue.Enqueue(msg)
}

// Close tears the session down: stops the writer and reader, closes the
// socket, finalizes any active generation streams and closes the event
// channel after a final close event. Safe to call more than once.
func (s *Session) Close() error {
	s.closed.Do(func() {
		prev := ConnState(s.state.Load())
		if prev != ConnFailed {
			s.state.Store(int32(ConnClosing))
		}
		s.cancel()
		s.queue.close()
		s.stopOnce.Do(func() { close(s.done) })

		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		id := s.callID
		s.mu.Unlock()

		if conn != nil {
			s.writeMu.Lock()
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.writeMu.Unlock()
			_ = conn.Close()
		}
		s.wg.Wait()

		s.tracker.abort()
		if ConnState(s.state.Load()) != ConnFailed {
			s.state.Store(int32(ConnClosed))
		}
		if s.pres != nil && id != "" {
			if err := s.pres.Clear(context.Background(), id); err != nil {
				s.logger.Warn("clearing call presence", "error", err)
			}
		}
		s.metrics.SessionEnded()
		s.emit(&CloseEvent{SessionID: id})
		s.closeEvents()
		if s.onClose != nil {
			s.onClose(s)
		}
		s.logger.Info("session closed", "call_id", id)
	})
	return nil
}

func (s *Session) maybeConnect() {
	if !s.state.CompareAndSwap(int32(ConnDisconnected), int32(ConnConnecting)) {
		return
	}
	s.mu.Lock()
	s.toolsLocked = true
	req := CallRequest{
		Instructions:     s.instructions,
		Voice:            s.voice,
		InputSampleRate:  s.inFormat.SampleRate,
		OutputSampleRate: s.outFormat.SampleRate,
	}
	if s.registry != nil {
		req.Tools = s.registry.Declarations()
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.connect(req)
	}()
}

func (s *Session) connect(req CallRequest) {
	info, err := s.starter.StartCall(s.ctx, req)
	if err != nil {
		s.fail("call_create_failed", err)
		return
	}
	s.logger.Info("call created", "call_id", info.CallID)

	conn, resp, err := s.dialer.DialContext(s.ctx, info.JoinURL, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("dial %s: status %d: %w", info.JoinURL, resp.StatusCode, err)
		}
		s.fail("socket_dial_failed", err)
		return
	}

	s.mu.Lock()
	if ConnState(s.state.Load()) != ConnConnecting {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.callID = info.CallID
	s.expiresAt = info.ExpiresAt
	// Flush audio buffered while connecting before any new push can reach
	// the socket. PushAudio blocks on mu until the flush completes, which
	// keeps frames in arrival order.
	for _, frame := range s.pendingFrames {
		s.writeMu.Lock()
		err := conn.WriteMessage(websocket.BinaryMessage, frame)
		s.writeMu.Unlock()
		if err != nil {
			s.mu.Unlock()
			s.fail("audio_send_failed", err)
			return
		}
		s.metrics.FrameSent()
	}
	s.pendingFrames = nil
	s.state.Store(int32(ConnOpen))
	instructions := s.instructions
	s.mu.Unlock()

	if s.pres != nil {
		if err := s.pres.Mark(s.ctx, info.CallID); err != nil {
			s.logger.Warn("marking call presence", "error", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.refreshPresence(info.CallID)
		}()
	}
	s.emit(&SessionCreatedEvent{SessionID: info.CallID})
	s.emit(&SessionUpdatedEvent{SessionID: info.CallID, Instructions: instructions})

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.queue.drain(s, s.done)
	}()
	go func() {
		defer s.wg.Done()
		s.readLoop(conn)
	}()
}

// refreshPresence re-arms the live-call marker until the session ends, so a
// call that outlasts the marker TTL stays visible.
func (s *Session) refreshPresence(callID string) {
	ticker := time.NewTicker(s.presRefreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.pres.Refresh(s.ctx, callID); err != nil {
				s.logger.Warn("refreshing call presence", "error", err)
			}
		}
	}
}

func (s *Session) readLoop(conn socketConn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.fail("socket_read_failed", err)
			}
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			s.handleAudio(data)
		case websocket.TextMessage:
			s.handleMessage(data)
		}
	}
}

func (s *Session) handleAudio(data []byte) {
	s.metrics.FrameReceived()
	for _, frame := range s.outChunker.Push(data) {
		if !s.tracker.writeAudio(frame) {
			s.logger.Debug("dropping agent audio with no active generation", "bytes", len(frame))
		}
	}
}

func (s *Session) handleMessage(data []byte) {
	msg, err := wire.DecodeServerMessage(data)
	if err != nil {
		s.logger.Warn("dropping undecodable message", "error", err)
		return
	}
	switch m := msg.(type) {
	case wire.StateMessage:
		s.handleState(m.AgentState())
	case wire.TranscriptMessage:
		s.router.handleTranscript(m)
	case wire.ToolInvocationMessage:
		if gen := s.tracker.active(); gen != nil {
			gen.FunctionCalls.Write(FunctionCall{
				Name:         m.ToolName,
				InvocationID: m.InvocationID,
				Arguments:    m.Parameters,
			})
		}
		s.dispatcher.Dispatch(s.ctx, m)
	case wire.CallStartedMessage:
		if m.CallID != "" {
			s.mu.Lock()
			s.callID = m.CallID
			s.mu.Unlock()
		}
		s.logger.Info("backend call started", "call_id", m.CallID)
	case wire.DebugMessage:
		s.logger.Debug("backend debug", "message", m.Message)
	case wire.UnknownMessage:
		s.logger.Warn("ignoring unknown message type", "type", m.Type)
	}
}

func (s *Session) handleState(state wire.AgentState) {
	if state == wire.AgentStateListening {
		// Any partial agent audio belongs to the generation that just
		// finished; deliver it before the streams close.
		if tail := s.outChunker.Flush(); tail != nil {
			s.tracker.writeAudio(tail)
		}
	}
	s.tracker.handleState(state)
	if state == wire.AgentStateListening {
		s.router.turnReturned()
	}
}

// handleLocal applies a queued message the backend has no command for. The
// drain goroutine is the single caller.
func (s *Session) handleLocal(msg wire.ClientMessage) {
	switch m := msg.(type) {
	case wire.SessionUpdateMessage:
		if m.Instructions != "" {
			// UpdateInstructions emits its own session.updated event.
			s.UpdateInstructions(m.Instructions)
			return
		}
	case wire.ResponseCreateMessage:
		s.GenerateReply("")
	}
	s.logger.Debug("applied local-only control message", "type", msg.ClientType())
	s.emit(&SessionUpdatedEvent{SessionID: s.CallID()})
}

// sendJSON satisfies the control queue's sender. Writes are serialized so
// frames and control messages never interleave mid-message.
func (s *Session) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding outbound message: %w", err)
	}
	return s.write(websocket.TextMessage, data)
}

func (s *Session) sendBinary(frame []byte) error {
	return s.write(websocket.BinaryMessage, frame)
}

func (s *Session) write(messageType int, data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("socket not open")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

// fail records a transport fault: terminal state, a non-recoverable error
// event and best-effort stream finalization. Deliberate close wins over a
// concurrent read error.
func (s *Session) fail(code string, err error) {
	for {
		prev := ConnState(s.state.Load())
		if prev == ConnClosing || prev == ConnClosed || prev == ConnFailed {
			return
		}
		if s.state.CompareAndSwap(int32(prev), int32(ConnFailed)) {
			break
		}
	}
	s.logger.Error("session failed", "code", code, "error", err)
	s.metrics.SessionFailed()
	s.stopOnce.Do(func() { close(s.done) })
	s.cancel()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	s.tracker.abort()
	s.emit(&ErrorEvent{Code: code, Message: err.Error(), Recoverable: false})
}

// emit delivers an event without ever blocking the socket reader. A full
// channel drops the event with a warning.
func (s *Session) emit(ev Event) {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	if s.evClosed {
		return
	}
	if _, ok := ev.(*GenerationCreatedEvent); ok {
		s.metrics.GenerationStarted()
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("dropping event, channel full", "type", ev.EventType())
	}
}

func (s *Session) closeEvents() {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	if !s.evClosed {
		s.evClosed = true
		close(s.events)
	}
}
