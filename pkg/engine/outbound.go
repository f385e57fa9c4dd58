package engine

import (
	"log/slog"
	"sync"

	"github.com/aplisay/voicebridge/pkg/engine/wire"
)

// jsonSender writes one JSON control frame to the socket. Implemented by the
// Session, which serializes all socket writes.
type jsonSender interface {
	sendJSON(v any) error
}

// controlQueue is the single-consumer FIFO that serializes JSON control
// messages onto the socket. Messages whose type the backend does not accept
// as wire commands are intercepted by the drain loop and resolved locally.
type controlQueue struct {
	logger *slog.Logger
	// onLocal handles a non-forwardable message: local state change plus a
	// synthetic acknowledgement event.
	onLocal func(wire.ClientMessage)

	mu     sync.Mutex
	ch     chan wire.ClientMessage
	closed bool
}

func newControlQueue(size int, logger *slog.Logger, onLocal func(wire.ClientMessage)) *controlQueue {
	if size <= 0 {
		size = 64
	}
	return &controlQueue{
		logger:  logger,
		onLocal: onLocal,
		ch:      make(chan wire.ClientMessage, size),
	}
}

// Enqueue adds a message without blocking. Returns false once the queue is
// closed or full; callers treat that as a logged no-op.
func (q *controlQueue) Enqueue(msg wire.ClientMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- msg:
		return true
	default:
		q.logger.Warn("outbound control queue full, dropping message",
			slog.String("message_type", msg.ClientType()))
		return false
	}
}

// drain is the queue's sole consumer. It runs until the queue closes,
// forwarding wire messages through sender and resolving intercepted types
// locally. Send failures are logged and the loop continues: a failed drain
// must never take the session down on its own.
func (q *controlQueue) drain(sender jsonSender, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg, ok := <-q.ch:
			if !ok {
				return
			}
			if !msg.Forwardable() {
				if q.onLocal != nil {
					q.onLocal(msg)
				}
				continue
			}
			if err := sender.sendJSON(msg); err != nil {
				q.logger.Warn("outbound control send failed",
					slog.String("message_type", msg.ClientType()),
					slog.String("error", err.Error()))
			}
		}
	}
}

// close seals the queue. Idempotent. Messages already queued still drain.
func (q *controlQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
