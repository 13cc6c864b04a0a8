package actions

import (
	"errors"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"

	"charge_point/common"
	"charge_point/model"
	"charge_point/registry"
)

// FirmwareProfileActions only reports diagnostics and firmware status; the
// charge point never downloads anything.
type FirmwareProfileActions struct{}

func InitializeFirmwareProfileActions() *FirmwareProfileActions {
	return &FirmwareProfileActions{}
}

func (this *FirmwareProfileActions) Register(r *registry.Registry) error {
	return errors.Join(
		r.AddBuilder(firmware.DiagnosticsStatusNotificationFeatureName, this.DiagnosticsStatusNotification),
		r.AddBuilder(firmware.FirmwareStatusNotificationFeatureName, this.FirmwareStatusNotification),
	)
}

func (this *FirmwareProfileActions) DiagnosticsStatusNotification(charger *model.Charger, args common.Args) (ocpp.Request, error) {
	return &firmware.DiagnosticsStatusNotificationRequest{
		Status: firmware.DiagnosticsStatus(args.String("status", "Idle")),
	}, nil
}

func (this *FirmwareProfileActions) FirmwareStatusNotification(charger *model.Charger, args common.Args) (ocpp.Request, error) {
	return &firmware.FirmwareStatusNotificationRequest{
		Status: firmware.FirmwareStatus(args.String("status", "Idle")),
	}, nil
}
