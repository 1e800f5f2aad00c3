// Package connection owns the lifecycle of caller websocket sessions: it
// multiplexes any number of concurrent runs onto one connection per caller,
// applies backpressure to the outbound stream, and survives abrupt
// disconnects by buffering terminal events for a bounded grace period while
// the runs themselves keep executing.
package connection

import (
	"sync"
	"time"

	"go-baton/internal/domain"
	"go-baton/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

// Config tunes queueing and liveness. Zero values fall back to defaults.
type Config struct {
	QueueSize    int
	HighWater    int
	GracePeriod  time.Duration
	PingInterval time.Duration
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HighWater <= 0 || c.HighWater > c.QueueSize {
		c.HighWater = c.QueueSize * 3 / 4
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// pendingBuffer holds a disconnected caller's undelivered critical messages
// until the caller reconnects or the grace period expires.
type pendingBuffer struct {
	events []Envelope
	timer  *time.Timer
}

type Manager struct {
	cfg     Config
	logger  hclog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	conns   map[string]*Connection
	pending map[string]*pendingBuffer
	owners  map[uuid.UUID]string
}

func New(cfg Config, m *metrics.Metrics, logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Manager{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: m,
		conns:   make(map[string]*Connection),
		pending: make(map[string]*pendingBuffer),
		owners:  make(map[uuid.UUID]string),
	}
}

// Register attaches a websocket to a caller id and starts the write pump.
// A reconnect within the grace period replays the buffered terminal events
// before anything new.
func (m *Manager) Register(callerID string, ws *websocket.Conn) *Connection {
	conn := newConnection(callerID, ws, m.cfg, m.countDrop, m.logger)

	m.mu.Lock()
	old := m.conns[callerID]
	if old != nil {
		old.close()
	}
	m.conns[callerID] = conn
	if pb, ok := m.pending[callerID]; ok {
		pb.timer.Stop()
		delete(m.pending, callerID)
		for _, env := range pb.events {
			conn.enqueue(env)
		}
	}
	m.mu.Unlock()

	// The replaced connection's teardown takes the stale-instance path in
	// Disconnect, so its undelivered critical frames are inherited here.
	if old != nil {
		for _, env := range old.drainCritical() {
			conn.enqueue(env)
		}
	}

	if m.metrics != nil {
		m.metrics.ActiveConnections.Inc()
	}
	m.logger.Info("caller connected", "caller", callerID)

	go func() {
		conn.writePump()
		m.Disconnect(conn)
	}()
	return conn
}

// Disconnect tears down one connection instance. A stale instance that was
// already replaced by a reconnect is a no-op. In-flight runs continue; their
// undelivered terminal events move to a grace-period buffer keyed by the
// caller id, after which they are discarded.
func (m *Manager) Disconnect(conn *Connection) {
	callerID := conn.callerID

	m.mu.Lock()
	if m.conns[callerID] != conn {
		m.mu.Unlock()
		conn.close()
		return
	}
	delete(m.conns, callerID)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveConnections.Dec()
	}
	conn.close()

	buffered := conn.drainCritical()
	hasRuns := m.hasActiveRuns(callerID)
	if len(buffered) == 0 && !hasRuns {
		m.logger.Info("caller disconnected", "caller", callerID)
		return
	}

	m.mu.Lock()
	if _, reconnected := m.conns[callerID]; !reconnected {
		m.bufferLocked(callerID, buffered...)
	}
	m.mu.Unlock()
	m.logger.Info("caller disconnected, buffering terminal events", "caller", callerID, "buffered", len(buffered))
}

// BindRun records which caller owns a run's event stream.
func (m *Manager) BindRun(runID uuid.UUID, callerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[runID] = callerID
}

// Publish implements ports.EventSink: it routes each event to the connection
// of the caller that owns the run. With no live connection, terminal events
// are buffered for the grace period and progress events are dropped.
func (m *Manager) Publish(event domain.ExecutionEvent) {
	m.mu.Lock()
	callerID, ok := m.owners[event.RunID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if event.Type.RunLevel() {
		delete(m.owners, event.RunID)
	}

	env := Envelope{Type: MessageEvent, Event: &event}
	conn := m.conns[callerID]
	if conn == nil {
		if critical(env) {
			m.bufferLocked(callerID, env)
		} else {
			m.countDrop()
		}
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	conn.enqueue(env)
}

// ActiveConnections returns the number of live caller connections.
func (m *Manager) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// bufferLocked appends to the caller's grace buffer, arming its expiry timer
// on first use. Caller must hold m.mu.
func (m *Manager) bufferLocked(callerID string, events ...Envelope) {
	pb, ok := m.pending[callerID]
	if !ok {
		pb = &pendingBuffer{
			timer: time.AfterFunc(m.cfg.GracePeriod, func() { m.expire(callerID) }),
		}
		m.pending[callerID] = pb
	}
	pb.events = append(pb.events, events...)
}

// expire discards a caller's buffered results once the grace period passes
// without a reconnect, and releases its run bindings.
func (m *Manager) expire(callerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, reconnected := m.conns[callerID]; reconnected {
		return
	}
	pb, ok := m.pending[callerID]
	if !ok {
		return
	}
	delete(m.pending, callerID)
	for runID, owner := range m.owners {
		if owner == callerID {
			delete(m.owners, runID)
		}
	}
	m.logger.Info("grace period expired, discarding buffered events", "caller", callerID, "discarded", len(pb.events))
}

func (m *Manager) hasActiveRuns(callerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, owner := range m.owners {
		if owner == callerID {
			return true
		}
	}
	return false
}

func (m *Manager) countDrop() {
	if m.metrics != nil {
		m.metrics.EventsDropped.Inc()
	}
}
