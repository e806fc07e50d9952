package socket_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vintagechat/client-go/internal/socket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// recorder collects supervisor events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []socket.Event
}

func (r *recorder) handle(ev socket.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []socket.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]socket.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) count(typ socket.EventType) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (r *recorder) frames() []string {
	var frames []string
	for _, ev := range r.snapshot() {
		if ev.Type == socket.EventFrame {
			frames = append(frames, string(ev.Frame))
		}
	}
	return frames
}

// newServer runs handle once per accepted connection and counts accepts.
func newServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) (string, *int32, func()) {
	t.Helper()

	var accepts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade: %v", err)
			return
		}
		atomic.AddInt32(&accepts, 1)
		handle(conn, r)
	}))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return wsURL, &accepts, server.Close
}

func TestOpen_DeliversOpenThenFrames(t *testing.T) {
	url, _, shutdown := newServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"n":1}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"n":2}`))
		conn.ReadMessage() // hold until client goes away
	})
	defer shutdown()

	rec := &recorder{}
	sup, err := socket.Open(socket.Spec{URL: url}, rec.handle)
	require.NoError(t, err)
	defer sup.Close()

	assert.Equal(t, socket.StateOpen, sup.State())

	assert.Eventually(t, func() bool {
		return len(rec.frames()) == 2
	}, time.Second, 10*time.Millisecond)

	events := rec.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, socket.EventOpen, events[0].Type)
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`}, rec.frames())
}

func TestOpen_DialFailure(t *testing.T) {
	url, _, shutdown := newServer(t, func(conn *websocket.Conn, _ *http.Request) {})
	shutdown() // nothing is listening anymore

	rec := &recorder{}
	_, err := socket.Open(socket.Spec{URL: url}, rec.handle)
	assert.Error(t, err)
	assert.Empty(t, rec.snapshot())
}

func TestOpen_OffersSubprotocols(t *testing.T) {
	offered := make(chan []string, 1)
	url, _, shutdown := newServer(t, func(conn *websocket.Conn, r *http.Request) {
		offered <- websocket.Subprotocols(r)
		conn.ReadMessage()
	})
	defer shutdown()

	rec := &recorder{}
	sup, err := socket.Open(socket.Spec{
		URL:          url,
		Subprotocols: []string{"chat-protocol", "token-abc"},
	}, rec.handle)
	require.NoError(t, err)
	defer sup.Close()

	select {
	case protocols := <-offered:
		// Order matters: the protocol name first, the token second.
		assert.Equal(t, []string{"chat-protocol", "token-abc"}, protocols)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for handshake")
	}
}

func TestSend_WritesJSONFrame(t *testing.T) {
	received := make(chan []byte, 1)
	url, _, shutdown := newServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- data
	})
	defer shutdown()

	sup, err := socket.Open(socket.Spec{URL: url}, (&recorder{}).handle)
	require.NoError(t, err)
	defer sup.Close()

	require.NoError(t, sup.Send(map[string]string{"message": "hello"}))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"message":"hello"}`, string(data))
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
	}
}

func TestSend_AfterClose(t *testing.T) {
	url, _, shutdown := newServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.ReadMessage()
	})
	defer shutdown()

	sup, err := socket.Open(socket.Spec{URL: url}, (&recorder{}).handle)
	require.NoError(t, err)

	sup.Close()
	assert.ErrorIs(t, sup.Send(map[string]string{"message": "late"}), socket.ErrNotConnected)
}

func TestClose_SuppressesReconnect(t *testing.T) {
	url, accepts, shutdown := newServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.ReadMessage()
	})
	defer shutdown()

	rec := &recorder{}
	sup, err := socket.Open(socket.Spec{URL: url}, rec.handle,
		socket.WithReconnectDelay(10*time.Millisecond))
	require.NoError(t, err)

	sup.Close()
	assert.Equal(t, socket.StateClosedClean, sup.State())

	// Give a would-be reconnect loop time to misbehave.
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(accepts))

	events := rec.snapshot()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, socket.EventClosed, last.Type)
	assert.True(t, last.WasClean)
}

func TestServerCleanClose_NoReconnect(t *testing.T) {
	url, accepts, shutdown := newServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		conn.ReadMessage() // wait for the client's close response
		conn.Close()
	})
	defer shutdown()

	rec := &recorder{}
	sup, err := socket.Open(socket.Spec{URL: url}, rec.handle,
		socket.WithReconnectDelay(10*time.Millisecond))
	require.NoError(t, err)
	defer sup.Close()

	assert.Eventually(t, func() bool {
		return sup.State() == socket.StateClosedClean
	}, time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(accepts))
	assert.Equal(t, 1, rec.count(socket.EventClosed))
}

func TestClose_InterruptsStalledRedial(t *testing.T) {
	release := make(chan struct{})
	var conns int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&conns, 1) == 1 {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				t.Errorf("failed to upgrade: %v", err)
				return
			}
			// Drop without a close handshake to force a reconnect.
			conn.Close()
			return
		}
		// Stall the redial handshake: never answer the upgrade.
		<-release
	}))
	defer server.Close()
	defer close(release)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	sup, err := socket.Open(socket.Spec{URL: url}, (&recorder{}).handle,
		socket.WithReconnectDelay(10*time.Millisecond))
	require.NoError(t, err)

	// Wait until the redial is in flight against the stalled handler.
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&conns) == 2
	}, time.Second, 5*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		sup.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked while a redial handshake was in flight")
	}
	assert.Equal(t, socket.StateClosedClean, sup.State())
}

func TestAbnormalClose_ReconnectsOnce(t *testing.T) {
	var drops int32
	url, accepts, shutdown := newServer(t, func(conn *websocket.Conn, _ *http.Request) {
		if atomic.AddInt32(&drops, 1) == 1 {
			// Kill the connection without a close handshake.
			conn.Close()
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"after":"reconnect"}`))
		conn.ReadMessage()
	})
	defer shutdown()

	rec := &recorder{}
	sup, err := socket.Open(socket.Spec{URL: url}, rec.handle,
		socket.WithReconnectDelay(10*time.Millisecond))
	require.NoError(t, err)
	defer sup.Close()

	assert.Eventually(t, func() bool {
		frames := rec.frames()
		return len(frames) == 1 && frames[0] == `{"after":"reconnect"}`
	}, 2*time.Second, 10*time.Millisecond)

	// One abnormal closure, one replacement connection, a second open event.
	assert.EqualValues(t, 2, atomic.LoadInt32(accepts))
	assert.Equal(t, 2, rec.count(socket.EventOpen))

	var sawAbnormal bool
	for _, ev := range rec.snapshot() {
		if ev.Type == socket.EventClosed && !ev.WasClean {
			sawAbnormal = true
		}
	}
	assert.True(t, sawAbnormal)
	assert.Equal(t, socket.StateOpen, sup.State())
}
