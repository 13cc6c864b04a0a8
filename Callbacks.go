package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"

	"charge_point/common"
	"charge_point/engine"
	"charge_point/httpapi"
	notifier "charge_point/notifier/nats"
)

// NATS command actions
const (
	BOOT_NOTIFICATION               = "boot.notification"
	AUTHORIZE                       = "authorize"
	HEARTBEAT                       = "heartbeat"
	METER_VALUES                    = "meter.values"
	START_TRANSACTION               = "start.transaction"
	STOP_TRANSACTION                = "stop.transaction"
	STATUS_NOTIFICATION             = "status.notification"
	DATA_TRANSFER                   = "data.transfer"
	DIAGNOSTICS_STATUS_NOTIFICATION = "diagnostics.status.notification"
	FIRMWARE_STATUS_NOTIFICATION    = "firmware.status.notification"
	IS_UP                           = "is.up"
	WHOAMI                          = "whoami"
	HISTORY                         = "history"
)

var outboundCommands = map[string]string{
	BOOT_NOTIFICATION:               core.BootNotificationFeatureName,
	AUTHORIZE:                       core.AuthorizeFeatureName,
	HEARTBEAT:                       core.HeartbeatFeatureName,
	METER_VALUES:                    core.MeterValuesFeatureName,
	START_TRANSACTION:               core.StartTransactionFeatureName,
	STOP_TRANSACTION:                core.StopTransactionFeatureName,
	STATUS_NOTIFICATION:             core.StatusNotificationFeatureName,
	DATA_TRANSFER:                   core.DataTransferFeatureName,
	DIAGNOSTICS_STATUS_NOTIFICATION: firmware.DiagnosticsStatusNotificationFeatureName,
	FIRMWARE_STATUS_NOTIFICATION:    firmware.FirmwareStatusNotificationFeatureName,
}

// Callbacks are the NATS command functions of the charge point.
type Callbacks struct {
	engine  *engine.Engine
	timeout time.Duration
}

func NewCallbacks(e *engine.Engine, timeout time.Duration) *Callbacks {
	return &Callbacks{engine: e, timeout: timeout}
}

func (cb *Callbacks) Register(n interface{ AddHandler(string, notifier.Function) }) {
	for command, action := range outboundCommands {
		n.AddHandler(command, cb.Submit(action))
	}
	n.AddHandler(IS_UP, cb.IsUp)
	n.AddHandler(WHOAMI, cb.WhoAmI)
	n.AddHandler(HISTORY, cb.History)
}

// own answers with an error when the command is meant for another charge
// point.
func (cb *Callbacks) own(chargePointID string, responseChannel chan common.Response) bool {
	if chargePointID == cb.engine.Charger().Id {
		return true
	}
	responseChannel <- common.NewErrorResponse("command.charge.point.unknown",
		fmt.Sprintf("This is charge point %v, not %v", cb.engine.Charger().Id, chargePointID))
	return false
}

// Submit returns the command function sending action with the command payload
// as arguments.
func (cb *Callbacks) Submit(action string) notifier.Function {
	return func(chargePointID string, payload []byte, responseChannel chan common.Response) {
		if !cb.own(chargePointID, responseChannel) {
			return
		}
		var args common.Args
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &args); err != nil {
				responseChannel <- common.NewErrorResponse("command.payload.not.valid",
					fmt.Sprintf("Invalid arguments for %v: %v", action, err))
				return
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), cb.timeout)
		defer cancel()
		exchange, err := cb.engine.Submit(ctx, action, args)
		if err != nil {
			logDefault(chargePointID, action).Errorf("error on request: %v", err)
		} else {
			logDefault(chargePointID, action).Infof("command completed: %v", describe(exchange))
		}
		responseChannel <- httpapi.ResponseFor(exchange, err)
	}
}

func (cb *Callbacks) IsUp(chargePointID string, payload []byte, responseChannel chan common.Response) {
	if !cb.own(chargePointID, responseChannel) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cb.timeout)
	defer cancel()
	responseChannel <- common.Response{Payload: map[string]bool{"is_up": cb.engine.IsConnectionLive(ctx)}}
}

func (cb *Callbacks) WhoAmI(chargePointID string, payload []byte, responseChannel chan common.Response) {
	if !cb.own(chargePointID, responseChannel) {
		return
	}
	responseChannel <- common.Response{Payload: cb.engine.Charger().Snapshot()}
}

func (cb *Callbacks) History(chargePointID string, payload []byte, responseChannel chan common.Response) {
	if !cb.own(chargePointID, responseChannel) {
		return
	}
	responseChannel <- common.Response{Payload: cb.engine.ExchangeLog()}
}
