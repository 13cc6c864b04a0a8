package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"charge_point/engine"
	"charge_point/notifier"
	"charge_point/protocol"
)

const notificationBuffer = 256

// ChargePointHandler turns the traffic of the engine into notifications for
// the NATS notifier.
type ChargePointHandler struct {
	chargePointId string
	topicPrefix   string
	notification  chan notifier.Notification
}

func NewChargePointHandler(chargePointId string, topicPrefix string) *ChargePointHandler {
	return &ChargePointHandler{
		chargePointId: chargePointId,
		topicPrefix:   topicPrefix,
		notification:  make(chan notifier.Notification, notificationBuffer),
	}
}

func (handler *ChargePointHandler) NotificationChannel() chan notifier.Notification {
	return handler.notification
}

// Topic is <prefix>.<chargePointId>.<parts...>.
func (handler *ChargePointHandler) Topic(parts ...string) string {
	elements := []string{handler.chargePointId}
	if handler.topicPrefix != "" {
		elements = append([]string{handler.topicPrefix}, elements...)
	}
	return strings.Join(append(elements, parts...), ".")
}

func (handler *ChargePointHandler) OnMessage(entry engine.LogEntry) {
	data := make(map[string]interface{})

	message, err := protocol.Decode(entry.Message)
	if err == nil {
		switch msg := message.(type) {
		case *protocol.Call:
			_ = json.Unmarshal(msg.Payload, &data)
		case *protocol.CallResult:
			_ = json.Unmarshal(msg.Payload, &data)
		case *protocol.CallError:
			data["errorCode"] = msg.ErrorCode
			data["errorDescription"] = msg.ErrorDescription
		}
	}
	data["chargePointId"] = handler.chargePointId
	data["direction"] = entry.Direction
	data["uniqueId"] = entry.UniqueId

	parts := []string{topicFor(entry.Action)}
	switch entry.MessageType {
	case protocol.CALL_RESULT:
		parts = append(parts, "result")
	case protocol.CALL_ERROR:
		parts = append(parts, "error")
	}
	handler.push(notifier.Notification{Topic: handler.Topic(parts...), Data: data})
}

// OnExchange publishes outbound exchanges once they are complete.
func (handler *ChargePointHandler) OnExchange(exchange engine.Exchange) {
	if exchange.Phase != engine.PhaseValidated && !exchange.Suppressed {
		return
	}
	handler.push(notifier.Notification{
		Topic: handler.Topic("exchange", topicFor(exchange.Action)),
		Data:  exchange,
	})
}

func (handler *ChargePointHandler) push(n notifier.Notification) {
	select {
	case handler.notification <- n:
	default:
		logDefault(handler.chargePointId, n.Topic).Warn("notification dropped, channel full")
	}
}

// topicFor turns an action name into a topic element: BootNotification
// becomes boot.notification.
func topicFor(action string) string {
	if action == "" {
		return "unknown"
	}
	var b strings.Builder
	for i, r := range action {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('.')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Utility functions

func logDefault(chargePointId string, feature string) *logrus.Entry {
	return log.WithFields(logrus.Fields{"client": chargePointId, "message": feature})
}

func describe(exchange *engine.Exchange) string {
	if exchange == nil {
		return "no exchange"
	}
	return fmt.Sprintf("%v %v (%v)", exchange.Action, exchange.UniqueId, exchange.Phase)
}
