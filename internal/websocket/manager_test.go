package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/wasmscope/internal/bus"
	"github.com/conneroisu/wasmscope/internal/testutils"
	"github.com/conneroisu/wasmscope/internal/types"
)

type busSource struct{ b *bus.Bus }

func (s busSource) SubscribeChanges() *bus.Subscription { return s.b.Subscribe() }

func newTestServer(t *testing.T, opts Options) (*bus.Bus, *StreamManager, *httptest.Server) {
	t.Helper()
	b := bus.New(bus.Options{QueueCapacity: 8})
	m := NewStreamManager(busSource{b}, opts)
	srv := httptest.NewServer(m)
	t.Cleanup(func() {
		b.Close()
		_ = m.Shutdown(context.Background())
		srv.Close()
	})
	return b, m, srv
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) bus.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var msg bus.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestStreamDeliversMessagesInOrder(t *testing.T) {
	b, m, srv := newTestServer(t, Options{})
	conn := dial(t, srv, nil)

	assert.Equal(t, bus.MessageConnected, readMessage(t, conn).Type)
	testutils.WaitFor(t, time.Second, func() bool { return m.GetConnectedClients() == 1 })

	b.Publish(types.ChangeEvent{Kind: types.ChangeAdded, Name: "a"})
	b.Publish(types.ChangeEvent{Kind: types.ChangeModified, Name: "a"})

	first := readMessage(t, conn)
	require.Equal(t, bus.MessageChange, first.Type)
	assert.Equal(t, types.ChangeAdded, first.Event.Kind)
	assert.Equal(t, "a", first.Event.Name)

	second := readMessage(t, conn)
	assert.Equal(t, types.ChangeModified, second.Event.Kind)
}

func TestStreamWireFormat(t *testing.T) {
	b, _, srv := newTestServer(t, Options{})
	conn := dial(t, srv, nil)
	readMessage(t, conn)

	b.Publish(types.ChangeEvent{Kind: types.ChangeRemoved, Name: "components/x"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "change", raw["type"])
	event := raw["event"].(map[string]interface{})
	assert.Equal(t, "components/x", event["component_name"])
	assert.Equal(t, "removed", event["kind"])
}

func TestStreamEndsWithDisconnecting(t *testing.T) {
	b, m, srv := newTestServer(t, Options{})
	conn := dial(t, srv, nil)
	readMessage(t, conn)

	b.Close()
	assert.Equal(t, bus.MessageDisconnecting, readMessage(t, conn).Type)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	testutils.WaitFor(t, time.Second, func() bool { return m.GetConnectedClients() == 0 })
}

func TestClientCloseUnsubscribes(t *testing.T) {
	b, m, srv := newTestServer(t, Options{})
	conn := dial(t, srv, nil)
	readMessage(t, conn)
	testutils.WaitFor(t, time.Second, func() bool { return b.SubscriberCount() == 1 })

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	testutils.WaitFor(t, 2*time.Second, func() bool {
		return b.SubscriberCount() == 0 && m.GetConnectedClients() == 0
	})
}

func TestOriginCheck(t *testing.T) {
	m := NewStreamManager(nil, Options{OriginPatterns: []string{"localhost:3000", "*.example.com"}})

	testCases := []struct {
		origin   string
		host     string
		expected bool
	}{
		{"", "localhost:8080", true},
		{"http://localhost:8080", "localhost:8080", true},
		{"http://localhost:3000", "localhost:8080", true},
		{"https://app.example.com", "localhost:8080", true},
		{"https://APP.Example.com", "localhost:8080", true},
		{"https://evil.com", "localhost:8080", false},
		{"https://example.com.evil.com", "localhost:8080", false},
		{"null", "localhost:8080", false},
		{"://bad", "localhost:8080", false},
	}
	for _, tc := range testCases {
		t.Run(tc.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws/changes", nil)
			r.Host = tc.host
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			assert.Equal(t, tc.expected, m.IsAllowedOrigin(r))
		})
	}
}

func TestRejectsForeignOrigin(t *testing.T) {
	_, _, srv := newTestServer(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.com"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPerIPConnectionLimit(t *testing.T) {
	_, m, srv := newTestServer(t, Options{MaxConnectionsPerIP: 1})
	conn := dial(t, srv, nil)
	readMessage(t, conn)
	testutils.WaitFor(t, time.Second, func() bool { return m.GetConnectedClients() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestShutdownRefusesNewStreams(t *testing.T) {
	_, m, srv := newTestServer(t, Options{})
	require.NoError(t, m.Shutdown(context.Background()))
	assert.True(t, m.IsShutdown())

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestShutdownTimeoutClosesStreams(t *testing.T) {
	_, m, srv := newTestServer(t, Options{})
	conn := dial(t, srv, nil)
	readMessage(t, conn)
	testutils.WaitFor(t, time.Second, func() bool { return m.GetConnectedClients() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Shutdown(ctx), context.DeadlineExceeded)
	assert.Equal(t, 0, m.GetConnectedClients())
}
