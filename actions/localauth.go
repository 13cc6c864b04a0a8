package actions

import (
	"errors"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/localauth"

	"charge_point/model"
	"charge_point/protocol"
	"charge_point/registry"
)

type LocalAuthProfileActions struct{}

func InitializeLocalAuthProfileActions() *LocalAuthProfileActions {
	return &LocalAuthProfileActions{}
}

func (this *LocalAuthProfileActions) Register(r *registry.Registry) error {
	return errors.Join(
		r.AddCallHandler(localauth.GetLocalListVersionFeatureName, this.OnGetLocalListVersion),
		r.AddCallHandler(localauth.SendLocalListFeatureName, this.OnSendLocalList),
	)
}

func (this *LocalAuthProfileActions) OnGetLocalListVersion(charger *model.Charger, request ocpp.Request) (ocpp.Response, error) {
	if !charger.Features.LocalAuthManagement {
		return nil, protocol.NewError(protocol.NotSupported, "local authorization list is not supported")
	}
	return localauth.NewGetLocalListVersionConfirmation(charger.LocalListVersion()), nil
}

func (this *LocalAuthProfileActions) OnSendLocalList(charger *model.Charger, request ocpp.Request) (ocpp.Response, error) {
	req, ok := request.(*localauth.SendLocalListRequest)
	if !ok {
		return nil, unexpected(localauth.SendLocalListFeatureName, request)
	}
	if !charger.Features.LocalAuthManagement {
		return localauth.NewSendLocalListConfirmation(localauth.UpdateStatusNotSupported), nil
	}
	full := req.UpdateType == localauth.UpdateTypeFull
	if !full && req.ListVersion <= charger.LocalListVersion() {
		return localauth.NewSendLocalListConfirmation(localauth.UpdateStatusVersionMismatch), nil
	}
	charger.UpdateLocalList(req.ListVersion, full, req.LocalAuthorizationList)
	logDefault(charger.Id, localauth.SendLocalListFeatureName).Infof("local list updated to version %v", req.ListVersion)
	return localauth.NewSendLocalListConfirmation(localauth.UpdateStatusAccepted), nil
}
