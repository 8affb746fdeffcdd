package events_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/wifiwatch/go-wifiwatch/events"
)

const (
	alertFrame  = `{"type":"alert","data":{"id":1,"device_id":7,"alert_type":"new_device","severity":"warning","message":"New device detected"},"timestamp":"2026-08-29T10:00:00"}`
	deviceFrame = `{"type":"device_update","event":"device_seen","data":{"mac_address":"aa:bb:cc:dd:ee:ff","is_new":true},"timestamp":"2026-08-29T10:00:01"}`
	scanFrame   = `{"type":"scan_update","data":{"status":"completed","session_id":3,"total_devices":12,"new_devices":1},"timestamp":"2026-08-29T10:00:02"}`
)

// serverConn is one accepted websocket connection. The read loop answers
// keepalive pings; tests push frames through it and drop it to simulate
// network failure.
type serverConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (sc *serverConn) readLoop() {
	for {
		_, frame, err := sc.conn.ReadMessage()
		if err != nil {
			return
		}
		if string(frame) == "ping" {
			sc.mu.Lock()
			sc.conn.WriteMessage(websocket.TextMessage, []byte("pong"))
			sc.mu.Unlock()
		}
	}
}

func (sc *serverConn) push(t *testing.T, frame string) {
	t.Helper()
	sc.mu.Lock()
	defer sc.mu.Unlock()
	require.NoError(t, sc.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (sc *serverConn) drop() {
	sc.conn.Close()
}

type eventServer struct {
	srv       *httptest.Server
	connected chan *serverConn
}

func newEventServer(t *testing.T) *eventServer {
	t.Helper()
	es := &eventServer{connected: make(chan *serverConn, 8)}
	upgrader := websocket.Upgrader{}

	es.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{conn: conn}
		go sc.readLoop()
		es.connected <- sc
	}))
	t.Cleanup(es.srv.Close)
	return es
}

func (es *eventServer) url() string {
	return "ws" + strings.TrimPrefix(es.srv.URL, "http")
}

func (es *eventServer) waitConn(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-es.connected:
		return sc
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

func startChannel(t *testing.T, url string, options ...events.ChannelOption) *events.Channel {
	t.Helper()
	options = append([]events.ChannelOption{events.WithReconnectDelay(20 * time.Millisecond)}, options...)
	ch, err := events.NewChannel(url, options...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ch.Run(ctx)
	return ch
}

func waitMessage(t *testing.T, ch <-chan events.Message) events.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return events.Message{}
	}
}

func TestChannel_DeliversAlertsInRegistrationOrder(t *testing.T) {
	es := newEventServer(t)
	ch := startChannel(t, es.url())

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 1)

	ch.Subscribe(events.MessageAlert, func(events.Message) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
	})
	ch.Subscribe(events.MessageAlert, func(events.Message) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		done <- struct{}{}
	})

	conn := es.waitConn(t)
	conn.push(t, alertFrame)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestChannel_DecodesAlertPayload(t *testing.T) {
	es := newEventServer(t)
	ch := startChannel(t, es.url())

	received := make(chan events.Message, 1)
	ch.Subscribe(events.MessageAlert, func(msg events.Message) { received <- msg })

	es.waitConn(t).push(t, alertFrame)

	msg := waitMessage(t, received)
	alert, err := msg.Alert()
	require.NoError(t, err)
	require.Equal(t, int64(1), alert.ID)
	require.Equal(t, "new_device", alert.AlertType)
	require.Equal(t, "warning", alert.Severity)
	require.NotNil(t, alert.DeviceID)
	require.Equal(t, int64(7), *alert.DeviceID)
}

func TestChannel_ReconnectsAfterDrop(t *testing.T) {
	es := newEventServer(t)

	var states []events.State
	var statesMu sync.Mutex

	ch := startChannel(t, es.url())
	ch.OnStateChange(func(s events.State) {
		statesMu.Lock()
		states = append(states, s)
		statesMu.Unlock()
	})

	received := make(chan events.Message, 8)
	ch.Subscribe(events.MessageDeviceUpdate, func(msg events.Message) { received <- msg })

	first := es.waitConn(t)
	first.push(t, deviceFrame)
	waitMessage(t, received)

	first.drop()

	// The channel reconnects after the fixed delay; frames lost during the
	// gap are gone for good.
	second := es.waitConn(t)
	second.push(t, scanFrame)
	second.push(t, deviceFrame)

	msg := waitMessage(t, received)
	update, err := msg.DeviceUpdate()
	require.NoError(t, err)
	require.Equal(t, "aa:bb:cc:dd:ee:ff", update.MACAddress)
	require.Empty(t, received)

	require.Eventually(t, func() bool {
		statesMu.Lock()
		defer statesMu.Unlock()
		for _, s := range states {
			if s == events.StateClosed {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, events.StateOpen, ch.State())
}

func TestChannel_RetriesUntilCancelled(t *testing.T) {
	// A dead port never answers; the channel must keep trying without a cap
	// until the context ends it.
	ch, err := events.NewChannel("ws://127.0.0.1:1", events.WithReconnectDelay(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err = ch.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, events.StateClosed, ch.State())
	require.Error(t, ch.Err())
}

// A connection that stays up but never answers the keepalive counts as
// dropped once the read deadline passes, and the channel redials.
func TestChannel_SilentConnectionCountsAsDrop(t *testing.T) {
	connected := make(chan struct{}, 8)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connected <- struct{}{}
		// Swallow frames without ever answering the keepalive ping.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	ch, err := events.NewChannel("ws"+strings.TrimPrefix(srv.URL, "http"),
		events.WithReconnectDelay(10*time.Millisecond),
		events.WithKeepalive(20*time.Millisecond, 80*time.Millisecond),
	)
	require.NoError(t, err)

	var sawClosed atomic.Bool
	ch.OnStateChange(func(s events.State) {
		if s == events.StateClosed {
			sawClosed.Store(true)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ch.Run(ctx)

	for i := 0; i < 2; i++ {
		select {
		case <-connected:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for connection %d", i+1)
		}
	}
	require.True(t, sawClosed.Load(), "the silent connection must have been dropped")
}

func TestChannel_HandlerPanicDoesNotBlockOthers(t *testing.T) {
	es := newEventServer(t)
	ch := startChannel(t, es.url())

	var after atomic.Int64
	deviceReceived := make(chan events.Message, 1)

	ch.Subscribe(events.MessageAlert, func(events.Message) {
		panic("broken handler")
	})
	ch.Subscribe(events.MessageAlert, func(events.Message) {
		after.Add(1)
	})
	ch.Subscribe(events.MessageDeviceUpdate, func(msg events.Message) { deviceReceived <- msg })

	conn := es.waitConn(t)
	conn.push(t, alertFrame)
	conn.push(t, deviceFrame)

	waitMessage(t, deviceReceived)
	require.Equal(t, int64(1), after.Load())
	require.Equal(t, events.StateOpen, ch.State())
}

func TestChannel_UnknownTypeIgnored(t *testing.T) {
	es := newEventServer(t)
	ch := startChannel(t, es.url())

	received := make(chan events.Message, 2)
	ch.Subscribe(events.MessageAlert, func(msg events.Message) { received <- msg })

	conn := es.waitConn(t)
	conn.push(t, `{"type":"firmware_update","data":{},"timestamp":"2026-08-29T10:00:00"}`)
	conn.push(t, `not even json`)
	conn.push(t, alertFrame)

	msg := waitMessage(t, received)
	require.Equal(t, events.MessageAlert, msg.Type)
	require.Empty(t, received)
}

func TestChannel_Unsubscribe(t *testing.T) {
	es := newEventServer(t)
	ch := startChannel(t, es.url())

	var removed atomic.Int64
	received := make(chan events.Message, 1)

	unsubscribe := ch.Subscribe(events.MessageAlert, func(events.Message) { removed.Add(1) })
	ch.Subscribe(events.MessageAlert, func(msg events.Message) { received <- msg })
	unsubscribe()

	es.waitConn(t).push(t, alertFrame)

	waitMessage(t, received)
	require.Equal(t, int64(0), removed.Load())
}

type fakeAuthorizer struct {
	ok atomic.Bool
}

func (f *fakeAuthorizer) Authenticated() bool { return f.ok.Load() }

func TestChannel_WaitsForAuthentication(t *testing.T) {
	es := newEventServer(t)
	auth := &fakeAuthorizer{}

	startChannel(t, es.url(), events.WithAuthorizer(auth))

	select {
	case <-es.connected:
		t.Fatal("connected before authentication")
	case <-time.After(100 * time.Millisecond):
	}

	auth.ok.Store(true)
	es.waitConn(t)
}

func TestNewChannel_RequiresURL(t *testing.T) {
	_, err := events.NewChannel("")
	require.Error(t, err)
}
