package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"charge_point/engine"
	"charge_point/transport"
)

// dialer opens a framed connection to the central system.
type dialer interface {
	Dial(ctx context.Context, backendURL string) (*transport.WebSocket, error)
}

// connectionStatus is told when a connection starts and stops being served.
type connectionStatus interface {
	SetConnected(connected bool)
}

// connectionManager keeps the engine connected to one central system and
// redials after a lost connection.
type connectionManager struct {
	ctx        context.Context
	engine     *engine.Engine
	dialer     dialer
	status     connectionStatus
	retryAfter time.Duration

	mu         sync.Mutex
	backendURL string
}

func newConnectionManager(ctx context.Context, e *engine.Engine, d dialer, status connectionStatus, retryAfter time.Duration) *connectionManager {
	return &connectionManager{ctx: ctx, engine: e, dialer: d, status: status, retryAfter: retryAfter}
}

func (cm *connectionManager) BackendURL() string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.backendURL
}

// Connect dials backendURL and serves the connection in the background.
func (cm *connectionManager) Connect(ctx context.Context, backendURL string) error {
	if cm.engine.IsConnected() {
		return engine.ErrAlreadyConnected
	}
	ws, err := cm.dialer.Dial(ctx, backendURL)
	if err != nil {
		return err
	}
	cm.mu.Lock()
	cm.backendURL = backendURL
	cm.mu.Unlock()
	go cm.serve(ws)
	return nil
}

func (cm *connectionManager) serve(ws engine.Transport) {
	id := cm.engine.Charger().Id
	for {
		cm.status.SetConnected(true)
		err := cm.engine.Run(cm.ctx, ws)
		if errors.Is(err, engine.ErrAlreadyConnected) {
			_ = ws.Close()
			return
		}
		cm.status.SetConnected(false)
		if cm.ctx.Err() != nil {
			return
		}
		logDefault(id, "connection").Warnf("connection lost: %v", err)
		if cm.retryAfter <= 0 {
			return
		}
		next := cm.redial()
		if next == nil {
			return
		}
		ws = next
	}
}

// redial retries every retryAfter until a connection is open or the manager
// stops.
func (cm *connectionManager) redial() engine.Transport {
	id := cm.engine.Charger().Id
	backendURL := cm.BackendURL()
	timer := time.NewTimer(cm.retryAfter)
	defer timer.Stop()
	for {
		select {
		case <-cm.ctx.Done():
			return nil
		case <-timer.C:
		}
		ws, err := cm.dialer.Dial(cm.ctx, backendURL)
		if err == nil {
			logDefault(id, "connection").Infof("reconnected to %v", backendURL)
			return ws
		}
		logDefault(id, "connection").Warnf("reconnect failed: %v", err)
		timer.Reset(cm.retryAfter)
	}
}
