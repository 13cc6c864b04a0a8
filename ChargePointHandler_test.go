package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charge_point/engine"
	"charge_point/protocol"
)

func TestTopicFor(t *testing.T) {
	assert.Equal(t, "boot.notification", topicFor(core.BootNotificationFeatureName))
	assert.Equal(t, "heartbeat", topicFor(core.HeartbeatFeatureName))
	assert.Equal(t, "diagnostics.status.notification", topicFor("DiagnosticsStatusNotification"))
	assert.Equal(t, "unknown", topicFor(""))
}

func TestOnMessagePublishesPayload(t *testing.T) {
	handler := NewChargePointHandler("CP-1", "evse")
	call, err := protocol.NewCall(core.NewBootNotificationRequest("Wallbox", "Acme"))
	require.NoError(t, err)
	frame, err := protocol.Encode(call)
	require.NoError(t, err)

	handler.OnMessage(engine.LogEntry{Time: time.Now(), Direction: engine.Outbound, MessageType: protocol.CALL, UniqueId: call.UniqueId, Action: call.Action, Message: frame})

	n := <-handler.NotificationChannel()
	assert.Equal(t, "evse.CP-1.boot.notification", n.Topic)
	data := n.Data.(map[string]interface{})
	assert.Equal(t, "CP-1", data["chargePointId"])
	assert.Equal(t, "Wallbox", data["chargePointModel"])
	assert.Equal(t, call.UniqueId, data["uniqueId"])
}

func TestOnMessageTagsResultsAndErrors(t *testing.T) {
	handler := NewChargePointHandler("CP-1", "")
	frame, err := protocol.Encode(protocol.NewCallError("42", protocol.GenericError, "busy", nil))
	require.NoError(t, err)

	handler.OnMessage(engine.LogEntry{Direction: engine.Inbound, MessageType: protocol.CALL_ERROR, UniqueId: "42", Action: core.AuthorizeFeatureName, Message: frame})

	n := <-handler.NotificationChannel()
	assert.Equal(t, "CP-1.authorize.error", n.Topic)
	bt, err := json.Marshal(n.Data)
	require.NoError(t, err)
	assert.Contains(t, string(bt), `"errorCode":"GenericError"`)
}

func TestOnExchangeOnlyPublishesCompletedExchanges(t *testing.T) {
	handler := NewChargePointHandler("CP-1", "evse")

	handler.OnExchange(engine.Exchange{Action: core.HeartbeatFeatureName, Phase: engine.PhaseCreated})
	handler.OnExchange(engine.Exchange{Action: core.HeartbeatFeatureName, Phase: engine.PhaseSent})
	handler.OnExchange(engine.Exchange{Action: core.HeartbeatFeatureName, Phase: engine.PhaseValidated})

	require.Len(t, handler.NotificationChannel(), 1)
	n := <-handler.NotificationChannel()
	assert.Equal(t, "evse.CP-1.exchange.heartbeat", n.Topic)
}

func TestPushDropsWhenFull(t *testing.T) {
	handler := NewChargePointHandler("CP-1", "evse")
	for i := 0; i < notificationBuffer+5; i++ {
		handler.OnExchange(engine.Exchange{Action: core.HeartbeatFeatureName, Phase: engine.PhaseValidated})
	}
	assert.Len(t, handler.NotificationChannel(), notificationBuffer)
}
