package actions

import (
	"errors"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"

	"charge_point/common"
	"charge_point/model"
	"charge_point/registry"
)

// triggerable are the messages the charge point can send on request.
var triggerable = map[string]bool{
	core.BootNotificationFeatureName:                  true,
	core.HeartbeatFeatureName:                         true,
	core.MeterValuesFeatureName:                       true,
	core.StatusNotificationFeatureName:                true,
	firmware.DiagnosticsStatusNotificationFeatureName: true,
	firmware.FirmwareStatusNotificationFeatureName:    true,
}

type RemoteTriggerProfileActions struct{}

func InitializeRemoteTriggerProfileActions() *RemoteTriggerProfileActions {
	return &RemoteTriggerProfileActions{}
}

func (this *RemoteTriggerProfileActions) Register(r *registry.Registry) error {
	return errors.Join(
		r.AddCallHandler(remotetrigger.TriggerMessageFeatureName, this.OnTriggerMessage),
		r.AddFollowUp(remotetrigger.TriggerMessageFeatureName, this.AfterTriggerMessage),
	)
}

func (this *RemoteTriggerProfileActions) OnTriggerMessage(charger *model.Charger, request ocpp.Request) (ocpp.Response, error) {
	req, ok := request.(*remotetrigger.TriggerMessageRequest)
	if !ok {
		return nil, unexpected(remotetrigger.TriggerMessageFeatureName, request)
	}
	if !charger.Features.RemoteTrigger || !triggerable[string(req.RequestedMessage)] {
		logDefault(charger.Id, remotetrigger.TriggerMessageFeatureName).Infof("trigger of %v not implemented", req.RequestedMessage)
		return remotetrigger.NewTriggerMessageConfirmation(remotetrigger.TriggerMessageStatusNotImplemented), nil
	}
	if req.ConnectorId != nil && *req.ConnectorId != 0 {
		if _, err := charger.Connector(*req.ConnectorId); err != nil {
			return remotetrigger.NewTriggerMessageConfirmation(remotetrigger.TriggerMessageStatusRejected), nil
		}
	}
	return remotetrigger.NewTriggerMessageConfirmation(remotetrigger.TriggerMessageStatusAccepted), nil
}

// AfterTriggerMessage sends the requested message once the trigger was
// accepted.
func (this *RemoteTriggerProfileActions) AfterTriggerMessage(charger *model.Charger, ctx registry.FollowUpContext) (ocpp.Request, error) {
	req, ok := ctx.Request.(*remotetrigger.TriggerMessageRequest)
	if !ok {
		return nil, unexpected(remotetrigger.TriggerMessageFeatureName, ctx.Request)
	}
	conf, ok := ctx.Response.(*remotetrigger.TriggerMessageConfirmation)
	if !ok || conf.Status != remotetrigger.TriggerMessageStatusAccepted {
		return nil, nil
	}
	args := common.Args{}
	if req.ConnectorId != nil {
		args["connector_id"] = *req.ConnectorId
	}
	return ctx.Build(string(req.RequestedMessage), args)
}
