package connection

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go-baton/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsHarness exposes a manager through a real websocket endpoint so tests
// exercise the full register/pump/disconnect path.
type wsHarness struct {
	manager *Manager
	server  *httptest.Server
}

func newHarness(t *testing.T, cfg Config) *wsHarness {
	t.Helper()
	m := New(cfg, nil, nil)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := m.Register(r.URL.Query().Get("caller"), ws)
		go func() {
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					m.Disconnect(conn)
					return
				}
			}
		}()
	}))

	t.Cleanup(srv.Close)
	return &wsHarness{manager: m, server: srv}
}

func (h *wsHarness) dial(t *testing.T, callerID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/?caller=" + callerID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) Envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	require.NoError(t, ws.ReadJSON(&env))
	return env
}

func terminalEvent(runID uuid.UUID, seq uint64) domain.ExecutionEvent {
	return domain.ExecutionEvent{RunID: runID, Type: domain.EventRunCompleted, Seq: seq}
}

func TestManager_PublishRoutesToRunOwner(t *testing.T) {
	h := newHarness(t, Config{})
	ws := h.dial(t, "alice")

	runID := uuid.New()
	h.manager.BindRun(runID, "alice")
	h.manager.Publish(domain.ExecutionEvent{RunID: runID, Type: domain.EventStepStarted, Seq: 1})

	env := readEnvelope(t, ws)
	assert.Equal(t, MessageEvent, env.Type)
	require.NotNil(t, env.Event)
	assert.Equal(t, runID, env.Event.RunID)
	assert.Equal(t, domain.EventStepStarted, env.Event.Type)
}

func TestManager_UnboundRunIsIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	ws := h.dial(t, "alice")

	h.manager.Publish(terminalEvent(uuid.New(), 1))

	ws.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var env Envelope
	assert.Error(t, ws.ReadJSON(&env))
}

func TestManager_ActiveConnections(t *testing.T) {
	h := newHarness(t, Config{})
	assert.Equal(t, 0, h.manager.ActiveConnections())

	ws := h.dial(t, "alice")
	require.Eventually(t, func() bool {
		return h.manager.ActiveConnections() == 1
	}, 2*time.Second, 10*time.Millisecond)

	ws.Close()
	require.Eventually(t, func() bool {
		return h.manager.ActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_TerminalEventsSurviveReconnect(t *testing.T) {
	h := newHarness(t, Config{GracePeriod: 5 * time.Second})
	ws := h.dial(t, "alice")

	runID := uuid.New()
	h.manager.BindRun(runID, "alice")

	ws.Close()
	require.Eventually(t, func() bool {
		return h.manager.ActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// The run finishes while the caller is away: its terminal event must be
	// held for the grace period.
	h.manager.Publish(terminalEvent(runID, 7))

	ws2 := h.dial(t, "alice")
	env := readEnvelope(t, ws2)
	assert.Equal(t, MessageEvent, env.Type)
	require.NotNil(t, env.Event)
	assert.Equal(t, uint64(7), env.Event.Seq)
	assert.Equal(t, domain.EventRunCompleted, env.Event.Type)
}

func TestManager_ProgressEventsDropWhileDisconnected(t *testing.T) {
	h := newHarness(t, Config{GracePeriod: 5 * time.Second})
	ws := h.dial(t, "alice")

	runID := uuid.New()
	h.manager.BindRun(runID, "alice")

	ws.Close()
	require.Eventually(t, func() bool {
		return h.manager.ActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)

	h.manager.Publish(domain.ExecutionEvent{RunID: runID, Type: domain.EventStepStarted, Seq: 1})
	h.manager.Publish(terminalEvent(runID, 2))

	// Only the terminal event is replayed.
	ws2 := h.dial(t, "alice")
	env := readEnvelope(t, ws2)
	require.NotNil(t, env.Event)
	assert.Equal(t, uint64(2), env.Event.Seq)

	ws2.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var extra Envelope
	assert.Error(t, ws2.ReadJSON(&extra))
}

func TestManager_GraceExpiryDiscardsBuffer(t *testing.T) {
	h := newHarness(t, Config{GracePeriod: 50 * time.Millisecond})
	ws := h.dial(t, "alice")

	runID := uuid.New()
	h.manager.BindRun(runID, "alice")

	ws.Close()
	require.Eventually(t, func() bool {
		return h.manager.ActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)

	h.manager.Publish(terminalEvent(runID, 1))
	time.Sleep(150 * time.Millisecond)

	ws2 := h.dial(t, "alice")
	ws2.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var env Envelope
	assert.Error(t, ws2.ReadJSON(&env))
}

func TestManager_ReconnectReplacesOldConnection(t *testing.T) {
	h := newHarness(t, Config{})
	h.dial(t, "alice")
	ws2 := h.dial(t, "alice")

	runID := uuid.New()
	h.manager.BindRun(runID, "alice")
	require.Eventually(t, func() bool {
		return h.manager.ActiveConnections() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Events land on the replacement connection, and the old connection's
	// teardown must not tear the new one down with it.
	h.manager.Publish(terminalEvent(runID, 3))
	env := readEnvelope(t, ws2)
	require.NotNil(t, env.Event)
	assert.Equal(t, uint64(3), env.Event.Seq)
}

func TestManager_ReconnectInheritsStalledTerminals(t *testing.T) {
	h := newHarness(t, Config{})

	runID := uuid.New()
	h.manager.BindRun(runID, "alice")

	// A registered connection whose write pump has stalled: terminal events
	// are queued but nothing is being delivered to the peer.
	stalled := newConnection("alice", nil, h.manager.cfg, nil, nil)
	for seq := uint64(1); seq <= 4; seq++ {
		stalled.enqueue(Envelope{Type: MessageEvent, Event: &domain.ExecutionEvent{
			RunID: runID, Type: domain.EventRunCompleted, Seq: seq,
		}})
	}
	h.manager.mu.Lock()
	h.manager.conns["alice"] = stalled
	h.manager.mu.Unlock()

	// Re-registering the caller replaces the stalled connection; its queued
	// terminal events must reach the replacement, not the floor.
	ws := h.dial(t, "alice")
	for seq := uint64(1); seq <= 4; seq++ {
		env := readEnvelope(t, ws)
		require.NotNil(t, env.Event)
		assert.Equal(t, seq, env.Event.Seq)
		assert.Equal(t, domain.EventRunCompleted, env.Event.Type)
	}
}
