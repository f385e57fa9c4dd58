package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aplisay/voicebridge/pkg/engine/wire"
)

// ResultSink receives tool-result control messages for delivery to the
// backend. Enqueue must not block; it returns false if the message could not
// be queued.
type ResultSink interface {
	Enqueue(msg wire.ClientMessage) bool
}

// Outcome reports one finished invocation to the host.
type Outcome struct {
	ToolName     string
	InvocationID string
	Output       string
	IsError      bool
}

// Dispatcher runs tool invocations without blocking the inbound message loop.
// Invocations execute concurrently and may complete out of order; each
// completion enqueues exactly one result message correlated by invocation id.
type Dispatcher struct {
	mu       sync.Mutex
	registry *Registry

	sink   ResultSink
	logger *slog.Logger
	notify func(Outcome)

	wg sync.WaitGroup
}

// NewDispatcher builds a dispatcher. notify may be nil.
func NewDispatcher(registry *Registry, sink ResultSink, logger *slog.Logger, notify func(Outcome)) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, sink: sink, logger: logger, notify: notify}
}

// SetRegistry replaces the tool registry. Invocations already running keep
// the tool they resolved.
func (d *Dispatcher) SetRegistry(registry *Registry) {
	d.mu.Lock()
	d.registry = registry
	d.mu.Unlock()
}

// Dispatch starts an invocation. Unregistered tool names are logged and
// dropped; everything else runs on its own goroutine and reports exactly one
// result, success or error. Execution faults never propagate.
func (d *Dispatcher) Dispatch(ctx context.Context, inv wire.ToolInvocationMessage) {
	d.mu.Lock()
	registry := d.registry
	d.mu.Unlock()
	tool, ok := registry.Get(inv.ToolName)
	if !ok {
		d.logger.Error("tool invocation for unregistered tool",
			slog.String("tool", inv.ToolName),
			slog.String("invocation_id", inv.InvocationID))
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, tool, inv)
	}()
}

func (d *Dispatcher) run(ctx context.Context, tool Tool, inv wire.ToolInvocationMessage) {
	result, err := d.invoke(ctx, tool, inv.Parameters)

	var msg wire.ToolResultMessage
	outcome := Outcome{ToolName: inv.ToolName, InvocationID: inv.InvocationID}
	if err != nil {
		d.logger.Warn("tool execution failed",
			slog.String("tool", inv.ToolName),
			slog.String("invocation_id", inv.InvocationID),
			slog.String("error", err.Error()))
		msg = wire.NewToolError(inv.InvocationID, err.Error())
		outcome.Output = err.Error()
		outcome.IsError = true
	} else {
		msg = wire.NewToolResult(inv.InvocationID, result)
		outcome.Output = result
	}

	// The socket may already be gone by the time a slow tool finishes;
	// delivery is then a logged no-op.
	if !d.sink.Enqueue(msg) {
		d.logger.Warn("tool result dropped, outbound queue unavailable",
			slog.String("tool", inv.ToolName),
			slog.String("invocation_id", inv.InvocationID))
	}
	if d.notify != nil {
		d.notify(outcome)
	}
}

// invoke runs the handler, converting panics and marshalling failures into
// ordinary errors.
func (d *Dispatcher) invoke(ctx context.Context, tool Tool, args json.RawMessage) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %q panicked: %v", tool.Name, r)
		}
	}()

	out, err := tool.Execute(ctx, args)
	if err != nil {
		return "", err
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("tool %q returned unencodable result: %w", tool.Name, err)
	}
	return string(encoded), nil
}

// Wait blocks until every in-flight invocation has reported.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
