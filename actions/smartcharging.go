package actions

import (
	"errors"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/smartcharging"

	"charge_point/model"
	"charge_point/protocol"
	"charge_point/registry"
)

type SmartChargingProfileActions struct{}

func InitializeSmartChargingProfileActions() *SmartChargingProfileActions {
	return &SmartChargingProfileActions{}
}

func (this *SmartChargingProfileActions) Register(r *registry.Registry) error {
	return errors.Join(
		r.AddCallHandler(smartcharging.SetChargingProfileFeatureName, this.OnSetChargingProfile),
		r.AddCallHandler(smartcharging.ClearChargingProfileFeatureName, this.OnClearChargingProfile),
		r.AddCallHandler(smartcharging.GetCompositeScheduleFeatureName, this.OnGetCompositeSchedule),
	)
}

func (this *SmartChargingProfileActions) OnSetChargingProfile(charger *model.Charger, request ocpp.Request) (ocpp.Response, error) {
	req, ok := request.(*smartcharging.SetChargingProfileRequest)
	if !ok {
		return nil, unexpected(smartcharging.SetChargingProfileFeatureName, request)
	}
	if !charger.Features.SmartCharging {
		return nil, protocol.NewError(protocol.NotSupported, "smart charging is not supported")
	}
	if req.ConnectorId != 0 {
		if _, err := charger.Connector(req.ConnectorId); err != nil {
			return smartcharging.NewSetChargingProfileConfirmation(smartcharging.ChargingProfileStatusRejected), nil
		}
	}
	charger.SetChargingProfile(req.ConnectorId, req.ChargingProfile)
	logDefault(charger.Id, smartcharging.SetChargingProfileFeatureName).Infof("charging profile set on connector %v", req.ConnectorId)
	return smartcharging.NewSetChargingProfileConfirmation(smartcharging.ChargingProfileStatusAccepted), nil
}

func (this *SmartChargingProfileActions) OnClearChargingProfile(charger *model.Charger, request ocpp.Request) (ocpp.Response, error) {
	return nil, protocol.NewError(protocol.NotSupported, "clearing charging profiles is not supported")
}

func (this *SmartChargingProfileActions) OnGetCompositeSchedule(charger *model.Charger, request ocpp.Request) (ocpp.Response, error) {
	return nil, protocol.NewError(protocol.NotSupported, "composite schedules are not supported")
}
