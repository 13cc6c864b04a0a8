package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charge_point/engine"
	"charge_point/transport"
)

type statusRecorder struct {
	changes   atomic.Int32
	connected atomic.Bool
}

func (s *statusRecorder) SetConnected(connected bool) {
	s.changes.Add(1)
	s.connected.Store(connected)
}

type plainDialer struct{}

func (plainDialer) Dial(ctx context.Context, backendURL string) (*transport.WebSocket, error) {
	return transport.Dial(ctx, backendURL, transport.Options{ChargePointId: "CP-1"})
}

// flakyServer closes the first drops connections right away and keeps the
// rest.
func flakyServer(t *testing.T, drops int32) (*httptest.Server, *atomic.Int32) {
	upgrader := websocket.Upgrader{Subprotocols: []string{transport.Subprotocol}}
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if connections.Add(1) <= drops {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server, &connections
}

func TestConnectionManagerRedials(t *testing.T) {
	server, connections := flakyServer(t, 1)
	e := newTestEngine(t)
	status := &statusRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cm := newConnectionManager(ctx, e, plainDialer{}, status, 20*time.Millisecond)

	backendURL := "ws" + strings.TrimPrefix(server.URL, "http")
	require.NoError(t, cm.Connect(context.Background(), backendURL))
	assert.Equal(t, backendURL, cm.BackendURL())

	require.Eventually(t, func() bool { return connections.Load() >= 2 && e.IsConnected() }, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, status.changes.Load(), int32(3))
	assert.ErrorIs(t, cm.Connect(context.Background(), backendURL), engine.ErrAlreadyConnected)
}

func TestConnectionManagerDialFailure(t *testing.T) {
	e := newTestEngine(t)
	cm := newConnectionManager(context.Background(), e, plainDialer{}, &statusRecorder{}, 0)

	err := cm.Connect(context.Background(), "ws://127.0.0.1:1")
	assert.Error(t, err)
	assert.False(t, e.IsConnected())
}

func TestDuplicateSessionKeepsConnectedStatus(t *testing.T) {
	server, _ := flakyServer(t, 0)
	e := newTestEngine(t)
	status := &statusRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cm := newConnectionManager(ctx, e, plainDialer{}, status, 0)

	backendURL := "ws" + strings.TrimPrefix(server.URL, "http")
	require.NoError(t, cm.Connect(context.Background(), backendURL))
	require.Eventually(t, e.IsConnected, time.Second, 10*time.Millisecond)

	ws, err := plainDialer{}.Dial(context.Background(), backendURL)
	require.NoError(t, err)
	cm.serve(ws)

	assert.True(t, e.IsConnected())
	assert.True(t, status.connected.Load())
}
