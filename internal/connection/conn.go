package connection

import (
	"sync"
	"time"

	"go-baton/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

const (
	MessageEvent = "event"
	MessageAck   = "ack"
	MessagePong  = "pong"
	MessageError = "error"
)

// Envelope is the wire format for outbound websocket messages.
type Envelope struct {
	Type  string                 `json:"type"`
	RunID string                 `json:"run_id,omitempty"`
	Event *domain.ExecutionEvent `json:"event,omitempty"`
	Error string                 `json:"error,omitempty"`
}

// critical envelopes must never be dropped: terminal events carry outcomes
// the caller cannot reconstruct, and acks carry run ids.
func critical(env Envelope) bool {
	switch env.Type {
	case MessageAck, MessageError:
		return true
	case MessageEvent:
		return env.Event != nil && env.Event.Type.Terminal()
	}
	return false
}

// Connection owns the write side of one caller's websocket session. Outbound
// messages flow through a bounded queue (many producers, one writer). Above
// the high-water mark non-critical messages are dropped and counted; when
// the queue is completely full, critical messages spill to an unbounded
// guarded buffer that the writer drains in order.
type Connection struct {
	callerID string
	ws       *websocket.Conn
	cfg      Config
	logger   hclog.Logger
	dropped  func()

	out chan Envelope

	mu       sync.Mutex
	spill    bool
	overflow []Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(callerID string, ws *websocket.Conn, cfg Config, dropped func(), logger hclog.Logger) *Connection {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Connection{
		callerID: callerID,
		ws:       ws,
		cfg:      cfg,
		logger:   logger,
		dropped:  dropped,
		out:      make(chan Envelope, cfg.QueueSize),
		closed:   make(chan struct{}),
	}
}

// CallerID returns the caller identifier this connection belongs to.
func (c *Connection) CallerID() string { return c.callerID }

// Ack notifies the caller that a run was accepted.
func (c *Connection) Ack(runID uuid.UUID) {
	c.enqueue(Envelope{Type: MessageAck, RunID: runID.String()})
}

// Pong answers a protocol-level ping message.
func (c *Connection) Pong() {
	c.enqueue(Envelope{Type: MessagePong})
}

// Fail reports a request-level error to the caller.
func (c *Connection) Fail(msg string) {
	c.enqueue(Envelope{Type: MessageError, Error: msg})
}

// enqueue applies the backpressure policy and preserves total order: once a
// critical message spills to the overflow buffer, everything after it goes
// through the buffer too until the writer has caught up.
func (c *Connection) enqueue(env Envelope) {
	isCritical := critical(env)

	c.mu.Lock()
	if c.spill {
		if isCritical {
			c.overflow = append(c.overflow, env)
		} else if c.dropped != nil {
			c.dropped()
		}
		c.mu.Unlock()
		return
	}
	if !isCritical && len(c.out) >= c.cfg.HighWater {
		if c.dropped != nil {
			c.dropped()
		}
		c.mu.Unlock()
		return
	}

	select {
	case c.out <- env:
	default:
		if isCritical {
			c.spill = true
			c.overflow = append(c.overflow, env)
		} else if c.dropped != nil {
			c.dropped()
		}
	}
	c.mu.Unlock()
}

// writePump is the connection's single writer. It drains the queue, flushes
// the overflow buffer after each write, and keeps the transport alive with
// pings. Returning means the connection is dead.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.out:
			if !c.write(env) {
				return
			}
			if !c.flushOverflow() {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			// Best-effort drain of what is already queued.
			for {
				select {
				case env := <-c.out:
					if !c.write(env) {
						return
					}
				default:
					c.flushOverflow()
					return
				}
			}
		}
	}
}

func (c *Connection) write(env Envelope) bool {
	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.ws.WriteJSON(env); err != nil {
		c.logger.Debug("write failed", "caller", c.callerID, "error", err)
		// The dequeued envelope is still undelivered: put it back at the
		// head of the overflow buffer so drainCritical can recover it.
		c.mu.Lock()
		c.spill = true
		c.overflow = append([]Envelope{env}, c.overflow...)
		c.mu.Unlock()
		return false
	}
	return true
}

// flushOverflow writes spilled messages in order. New messages keep landing
// in the overflow buffer until it is empty, which preserves ordering.
func (c *Connection) flushOverflow() bool {
	for {
		c.mu.Lock()
		if len(c.overflow) == 0 {
			c.spill = false
			c.mu.Unlock()
			return true
		}
		env := c.overflow[0]
		c.overflow = c.overflow[1:]
		c.mu.Unlock()

		if !c.write(env) {
			return false
		}
	}
}

// drainCritical collects undelivered critical messages, queue first then
// overflow, for grace-period buffering after a disconnect.
func (c *Connection) drainCritical() []Envelope {
	var buf []Envelope
	for {
		select {
		case env := <-c.out:
			if critical(env) {
				buf = append(buf, env)
			}
		default:
			c.mu.Lock()
			for _, env := range c.overflow {
				if critical(env) {
					buf = append(buf, env)
				}
			}
			c.overflow = nil
			c.spill = false
			c.mu.Unlock()
			return buf
		}
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.ws != nil {
			c.ws.Close()
		}
	})
}
