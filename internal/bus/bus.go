// Package bus maintains one logical duplex channel per connected agent.
//
// Outbound delivery is at-most-once and non-blocking: Send enqueues onto a
// bounded per-agent queue drained by a single writer goroutine, so order is
// preserved per agent and a send never blocks the caller on network I/O.
// When the agent is offline or its queue is full the message is dropped;
// recovery is the reconnect-time resync, never a retry.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/warren/internal/model"
)

// DefaultQueueSize bounds each agent's outbound queue.
const DefaultQueueSize = 64

// Conn is the connection layer as the bus sees it: structured messages in,
// structured messages out. Framing and wire encoding live below this line.
type Conn interface {
	WriteMessage(msg Message) error
	Close() error
}

// Handler processes one inbound message. The payload is the raw "data"
// member of the envelope.
type Handler func(ctx context.Context, kind model.AgentKind, agentID string, payload json.RawMessage) error

// ConnectHook fires once per agent (re)connect, after the connection is
// registered and sendable.
type ConnectHook func(ctx context.Context, kind model.AgentKind, agentID string)

type agentKey struct {
	kind model.AgentKind
	id   string
}

type agent struct {
	key  agentKey
	conn Conn
	out  chan Message

	stopOnce sync.Once
	done     chan struct{}
}

// stop signals the writer goroutine to exit. Safe to call more than once.
func (a *agent) stop() {
	a.stopOnce.Do(func() { close(a.done) })
}

// Bus routes messages between the controller and connected agents.
type Bus struct {
	logger    *slog.Logger
	queueSize int

	mu       sync.RWMutex
	agents   map[agentKey]*agent
	handlers map[string]Handler
	hooks    []ConnectHook

	sent    otelmetric.Int64Counter
	dropped otelmetric.Int64Counter
}

// New creates a Bus with the given per-agent queue size (0 means
// DefaultQueueSize).
func New(queueSize int, logger *slog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	meter := otel.GetMeterProvider().Meter("warren/bus")
	sent, _ := meter.Int64Counter("bus.messages.sent")
	dropped, _ := meter.Int64Counter("bus.messages.dropped")
	return &Bus{
		logger:    logger,
		queueSize: queueSize,
		agents:    make(map[agentKey]*agent),
		handlers:  make(map[string]Handler),
		sent:      sent,
		dropped:   dropped,
	}
}

// Register binds an inbound message type to a handler. Call during wiring,
// before any agent connects.
func (b *Bus) Register(msgType string, h Handler) {
	b.mu.Lock()
	b.handlers[msgType] = h
	b.mu.Unlock()
}

// OnConnect appends a hook fired on every agent (re)connect. Call during
// wiring, before any agent connects.
func (b *Bus) OnConnect(h ConnectHook) {
	b.mu.Lock()
	b.hooks = append(b.hooks, h)
	b.mu.Unlock()
}

// Attach registers a connection for (kind, agentID), replacing and closing
// any previous connection for the same agent, and fires the connect hooks.
// It returns a detach function the transport must call when the connection
// dies; detaching is idempotent and a stale detach (after a reconnect
// replaced the entry) is a no-op.
func (b *Bus) Attach(ctx context.Context, kind model.AgentKind, agentID string, conn Conn) (detach func()) {
	key := agentKey{kind: kind, id: agentID}
	a := &agent{
		key:  key,
		conn: conn,
		out:  make(chan Message, b.queueSize),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if old, ok := b.agents[key]; ok {
		old.stop()
	}
	b.agents[key] = a
	hooks := make([]ConnectHook, len(b.hooks))
	copy(hooks, b.hooks)
	b.mu.Unlock()

	go b.writeLoop(a)

	b.logger.Info("bus: agent connected", "kind", kind, "agent_id", agentID)

	// Hooks run off the transport goroutine so a slow resync cannot stall
	// the read loop.
	go func() {
		for _, h := range hooks {
			h(ctx, kind, agentID)
		}
	}()

	return func() { b.detach(a) }
}

func (b *Bus) detach(a *agent) {
	b.mu.Lock()
	current, ok := b.agents[a.key]
	removed := ok && current == a
	if removed {
		delete(b.agents, a.key)
	}
	b.mu.Unlock()

	a.stop()
	if removed {
		b.logger.Info("bus: agent disconnected", "kind", a.key.kind, "agent_id", a.key.id)
	}
}

// writeLoop drains one agent's queue onto its connection. A write error
// tears the connection down; the agent recovers state on reconnect.
func (b *Bus) writeLoop(a *agent) {
	defer a.conn.Close() //nolint:errcheck // connection is going away either way
	for {
		select {
		case <-a.done:
			return
		case msg := <-a.out:
			if err := a.conn.WriteMessage(msg); err != nil {
				b.logger.Warn("bus: write failed, closing connection",
					"kind", a.key.kind, "agent_id", a.key.id, "type", msg.Type, "error", err)
				b.detach(a)
				return
			}
		}
	}
}

// Send enqueues a message for one agent. Returns false when the agent is
// not connected or its queue is full; the message is then dropped and the
// next resync is expected to recover state.
func (b *Bus) Send(kind model.AgentKind, agentID string, msg Message) bool {
	b.mu.RLock()
	a, ok := b.agents[agentKey{kind: kind, id: agentID}]
	b.mu.RUnlock()

	attrs := otelmetric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("type", msg.Type),
	)

	if !ok {
		b.logger.Warn("bus: send to offline agent dropped",
			"kind", kind, "agent_id", agentID, "type", msg.Type)
		b.dropped.Add(context.Background(), 1, attrs)
		return false
	}

	select {
	case a.out <- msg:
		b.sent.Add(context.Background(), 1, attrs)
		return true
	default:
		b.logger.Warn("bus: agent queue full, message dropped",
			"kind", kind, "agent_id", agentID, "type", msg.Type)
		b.dropped.Add(context.Background(), 1, attrs)
		return false
	}
}

// connected reports whether an agent currently has a live connection.
func (b *Bus) connected(kind model.AgentKind, agentID string) bool {
	b.mu.RLock()
	_, ok := b.agents[agentKey{kind: kind, id: agentID}]
	b.mu.RUnlock()
	return ok
}

// Dispatch routes one raw inbound frame to the handler registered for its
// type. Malformed frames and unknown types are logged and dropped without
// closing the connection.
func (b *Bus) Dispatch(ctx context.Context, kind model.AgentKind, agentID string, frame []byte) {
	var in Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		b.logger.Warn("bus: malformed inbound message dropped",
			"kind", kind, "agent_id", agentID, "error", err)
		return
	}

	b.mu.RLock()
	h, ok := b.handlers[in.Type]
	b.mu.RUnlock()

	if !ok {
		b.logger.Debug("bus: no handler for inbound type",
			"kind", kind, "agent_id", agentID, "type", in.Type)
		return
	}

	if err := h(ctx, kind, agentID, in.Data); err != nil {
		b.logger.Warn("bus: inbound handler failed",
			"kind", kind, "agent_id", agentID, "type", in.Type, "error", err)
	}
}
