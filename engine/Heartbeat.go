package engine

import (
	"context"
	"errors"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
)

// RunHeartbeat sends a Heartbeat every charger heartbeat interval while a
// connection is live. The interval is read again after every beat so a
// BootNotification or ChangeConfiguration takes effect on the next one.
func (e *Engine) RunHeartbeat(ctx context.Context) {
	timer := time.NewTimer(e.heartbeatInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if e.IsConnected() {
			_, err := e.Submit(ctx, core.HeartbeatFeatureName, nil, WithSuppress(true))
			if err != nil && !errors.Is(err, ErrNotConnected) {
				e.log.WithField("message", core.HeartbeatFeatureName).Warnf("heartbeat failed: %v", err)
			}
		}
		timer.Reset(e.heartbeatInterval())
	}
}

func (e *Engine) heartbeatInterval() time.Duration {
	e.charger.Lock()
	seconds := e.charger.HeartbeatInterval
	e.charger.Unlock()
	if seconds <= 0 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}
