package actions

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/sirupsen/logrus"

	"charge_point/common"
	"charge_point/model"
	"charge_point/protocol"
	"charge_point/registry"
)

func logDefault(chargePointId string, feature string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"client": chargePointId, "message": feature})
}

func unexpected(feature string, value interface{}) error {
	return protocol.NewError(protocol.InternalError, fmt.Sprintf("unexpected %T for %v", value, feature))
}

// Modules returns every feature module of the charge point.
func Modules() []registry.Module {
	return []registry.Module{
		InitializeCoreProfileActions(),
		InitializeRemoteTriggerProfileActions(),
		InitializeSmartChargingProfileActions(),
		InitializeLocalAuthProfileActions(),
		InitializeReservationProfileActions(),
		InitializeFirmwareProfileActions(),
	}
}

// claim marks the StartTransaction built for an accepted remote start, which
// may use the connector held for it.
type claim struct{}

const remoteStartClaim = "remote_start_claim"

type CoreProfileActions struct{}

func InitializeCoreProfileActions() *CoreProfileActions {
	return &CoreProfileActions{}
}

func (this *CoreProfileActions) Register(r *registry.Registry) error {
	return errors.Join(
		r.AddBuilder(core.BootNotificationFeatureName, this.BootNotification),
		r.AddBuilder(core.HeartbeatFeatureName, this.Heartbeat),
		r.AddBuilder(core.StatusNotificationFeatureName, this.StatusNotification),
		r.AddBuilder(core.AuthorizeFeatureName, this.Authorize),
		r.AddBuilder(core.StartTransactionFeatureName, this.StartTransaction),
		r.AddBuilder(core.StopTransactionFeatureName, this.StopTransaction),
		r.AddBuilder(core.MeterValuesFeatureName, this.MeterValues),
		r.AddBuilder(core.DataTransferFeatureName, this.DataTransfer),

		r.AddResponseHandler(core.BootNotificationFeatureName, this.OnBootNotificationConfirmation),
		r.AddResponseHandler(core.HeartbeatFeatureName, this.OnHeartbeatConfirmation),
		r.AddResponseHandler(core.StatusNotificationFeatureName, this.OnStatusNotificationConfirmation),
		r.AddResponseHandler(core.AuthorizeFeatureName, this.OnAuthorizeConfirmation),
		r.AddResponseHandler(core.StartTransactionFeatureName, this.OnStartTransactionConfirmation),
		r.AddResponseHandler(core.StopTransactionFeatureName, this.OnStopTransactionConfirmation),
		r.AddResponseHandler(core.MeterValuesFeatureName, this.OnMeterValuesConfirmation),

		r.AddCallHandler(core.ChangeConfigurationFeatureName, this.OnChangeConfiguration),
		r.AddCallHandler(core.GetConfigurationFeatureName, this.OnGetConfiguration),
		r.AddCallHandler(core.RemoteStartTransactionFeatureName, this.OnRemoteStartTransaction),
		r.AddCallHandler(core.RemoteStopTransactionFeatureName, this.OnRemoteStopTransaction),
		r.AddCallHandler(core.ResetFeatureName, this.OnReset),
		r.AddCallHandler(core.ChangeAvailabilityFeatureName, this.OnChangeAvailability),
		r.AddCallHandler(core.UnlockConnectorFeatureName, this.OnUnlockConnector),
		r.AddCallHandler(core.ClearCacheFeatureName, this.OnClearCache),
		r.AddCallHandler(core.DataTransferFeatureName, this.OnDataTransfer),

		r.AddFollowUp(core.RemoteStartTransactionFeatureName, this.AfterRemoteStartTransaction),
		r.AddFollowUp(core.RemoteStopTransactionFeatureName, this.AfterRemoteStopTransaction),
		r.AddFollowUp(core.ResetFeatureName, this.AfterReset),
		r.AddFollowUp(core.ChangeAvailabilityFeatureName, this.AfterChangeAvailability),
	)
}

// ------------- Outbound builders -------------

func (this *CoreProfileActions) BootNotification(charger *model.Charger, args common.Args) (ocpp.Request, error) {
	return &core.BootNotificationRequest{
		ChargePointModel:        args.String("model", charger.Model),
		ChargePointVendor:       args.String("vendor", charger.Vendor),
		FirmwareVersion:         args.String("firmware", ""),
		ChargePointSerialNumber: args.String("serial_number", ""),
	}, nil
}

func (this *CoreProfileActions) Heartbeat(charger *model.Charger, args common.Args) (ocpp.Request, error) {
	return core.NewHeartbeatRequest(), nil
}

func (this *CoreProfileActions) StatusNotification(charger *model.Charger, args common.Args) (ocpp.Request, error) {
	connectorId := args.Int("connector_id", 0)
	if connectorId != 0 {
		if _, err := charger.Connector(connectorId); err != nil {
			return nil, err
		}
	}
	return &core.StatusNotificationRequest{
		ConnectorId: connectorId,
		ErrorCode:   core.ChargePointErrorCode(args.String("error", string(core.NoError))),
		Status:      core.ChargePointStatus(args.String("status", string(core.ChargePointStatusAvailable))),
		Info:        args.String("info", ""),
		Timestamp:   types.NewDateTime(time.Now()),
	}, nil
}

func (this *CoreProfileActions) Authorize(charger *model.Charger, args common.Args) (ocpp.Request, error) {
	return &core.AuthorizeRequest{IdTag: args.String("rfid", charger.DefaultIdTag)}, nil
}

func (this *CoreProfileActions) StartTransaction(charger *model.Charger, args common.Args) (ocpp.Request, error) {
	connectorId := args.Int("connector_id", 1)
	connector, err := charger.Connector(connectorId)
	if err != nil {
		return nil, err
	}
	idTag := args.String("rfid", charger.DefaultIdTag)
	_, remoteStart := args[remoteStartClaim].(claim)
	held := remoteStart && connector.IsClaimed() && connector.Transaction.IdTag == idTag
	if connector.HasTransactionInProgress() && !held {
		return nil, fmt.Errorf("connector %v is currently busy: %w", connectorId, model.ErrTransactionInProgress)
	}
	return &core.StartTransactionRequest{
		ConnectorId: connectorId,
		IdTag:       idTag,
		MeterStart:  args.Int("meter_start", 0),
		Timestamp:   types.NewDateTime(time.Now()),
	}, nil
}

func (this *CoreProfileActions) StopTransaction(charger *model.Charger, args common.Args) (ocpp.Request, error) {
	if !args.Has("transaction_id") {
		return nil, fmt.Errorf("connector %v: %w", args.Int("connector_id", 1), model.ErrNoTransaction)
	}
	return &core.StopTransactionRequest{
		TransactionId: args.Int("transaction_id", 0),
		IdTag:         args.String("rfid", ""),
		MeterStop:     args.Int("meter_stop", 0),
		Reason:        core.Reason(args.String("reason", string(core.ReasonLocal))),
		Timestamp:     types.NewDateTime(time.Now()),
	}, nil
}

func (this *CoreProfileActions) MeterValues(charger *model.Charger, args common.Args) (ocpp.Request, error) {
	connectorId := args.Int("connector_id", 1)
	if _, err := charger.Connector(connectorId); err != nil {
		return nil, err
	}
	var sampled []types.SampledValue
	if args.Has("voltage") {
		sampled = append(sampled, types.SampledValue{Value: args.String("voltage", "0"), Measurand: types.Measurand("Voltage"), Unit: types.UnitOfMeasure("V")})
	}
	if args.Has("current") {
		sampled = append(sampled, types.SampledValue{Value: args.String("current", "0"), Measurand: types.Measurand("Current.Import"), Unit: types.UnitOfMeasure("A")})
	}
	if args.Has("energy") || len(sampled) == 0 {
		sampled = append(sampled, types.SampledValue{Value: args.String("energy", "0"), Measurand: types.Measurand("Energy.Active.Import.Register"), Unit: types.UnitOfMeasure("Wh")})
	}
	request := &core.MeterValuesRequest{
		ConnectorId: connectorId,
		MeterValue:  []types.MeterValue{{Timestamp: types.NewDateTime(time.Now()), SampledValue: sampled}},
	}
	if args.Has("transaction_id") {
		transactionId := args.Int("transaction_id", 0)
		request.TransactionId = &transactionId
	}
	return request, nil
}

func (this *CoreProfileActions) DataTransfer(charger *model.Charger, args common.Args) (ocpp.Request, error) {
	request := &core.DataTransferRequest{
		VendorId:  args.String("vendor_id", charger.Vendor),
		MessageId: args.String("message_id", ""),
	}
	if args.Has("data") {
		request.Data = args["data"]
	}
	return request, nil
}

// ------------- Response handlers -------------

func (this *CoreProfileActions) OnBootNotificationConfirmation(charger *model.Charger, request ocpp.Request, response ocpp.Response) error {
	req, ok := request.(*core.BootNotificationRequest)
	if !ok {
		return unexpected(core.BootNotificationFeatureName, request)
	}
	conf, ok := response.(*core.BootNotificationConfirmation)
	if !ok {
		return unexpected(core.BootNotificationFeatureName, response)
	}
	charger.Registration = conf.Status
	charger.Model = req.ChargePointModel
	charger.Vendor = req.ChargePointVendor
	if conf.Interval > 0 {
		charger.SetHeartbeatInterval(conf.Interval)
	}
	logDefault(charger.Id, core.BootNotificationFeatureName).Infof("registration %v, heartbeat every %vs", conf.Status, charger.HeartbeatInterval)
	return nil
}

func (this *CoreProfileActions) OnHeartbeatConfirmation(charger *model.Charger, request ocpp.Request, response ocpp.Response) error {
	conf, ok := response.(*core.HeartbeatConfirmation)
	if !ok {
		return unexpected(core.HeartbeatFeatureName, response)
	}
	charger.LastHeartbeat = time.Now()
	if conf.CurrentTime != nil {
		charger.LastHeartbeat = conf.CurrentTime.Time
	}
	return nil
}

func (this *CoreProfileActions) OnStatusNotificationConfirmation(charger *model.Charger, request ocpp.Request, response ocpp.Response) error {
	req, ok := request.(*core.StatusNotificationRequest)
	if !ok {
		return unexpected(core.StatusNotificationFeatureName, request)
	}
	if req.ConnectorId == 0 {
		charger.Status = req.Status
		charger.ErrorCode = req.ErrorCode
		return nil
	}
	connector, err := charger.Connector(req.ConnectorId)
	if err != nil {
		return err
	}
	connector.SetStatus(req.Status, req.ErrorCode)
	return nil
}

func (this *CoreProfileActions) OnAuthorizeConfirmation(charger *model.Charger, request ocpp.Request, response ocpp.Response) error {
	req, ok := request.(*core.AuthorizeRequest)
	if !ok {
		return unexpected(core.AuthorizeFeatureName, request)
	}
	conf, ok := response.(*core.AuthorizeConfirmation)
	if !ok {
		return unexpected(core.AuthorizeFeatureName, response)
	}
	if conf.IdTagInfo != nil {
		charger.RememberIdTag(req.IdTag, conf.IdTagInfo.Status)
	}
	return nil
}

func (this *CoreProfileActions) OnStartTransactionConfirmation(charger *model.Charger, request ocpp.Request, response ocpp.Response) error {
	req, ok := request.(*core.StartTransactionRequest)
	if !ok {
		return unexpected(core.StartTransactionFeatureName, request)
	}
	conf, ok := response.(*core.StartTransactionConfirmation)
	if !ok {
		return unexpected(core.StartTransactionFeatureName, response)
	}
	connector, err := charger.Connector(req.ConnectorId)
	if err != nil {
		return err
	}
	if conf.IdTagInfo != nil {
		charger.RememberIdTag(req.IdTag, conf.IdTagInfo.Status)
		if conf.IdTagInfo.Status != types.AuthorizationStatusAccepted {
			connector.Release()
			return fmt.Errorf("transaction %v not authorized: %v", conf.TransactionId, conf.IdTagInfo.Status)
		}
	}
	if err := connector.Attach(model.NewTransaction(conf.TransactionId, req.IdTag, req.MeterStart)); err != nil {
		return err
	}
	logDefault(charger.Id, core.StartTransactionFeatureName).Infof("started transaction %v on connector %v", conf.TransactionId, req.ConnectorId)
	return nil
}

func (this *CoreProfileActions) OnStopTransactionConfirmation(charger *model.Charger, request ocpp.Request, response ocpp.Response) error {
	req, ok := request.(*core.StopTransactionRequest)
	if !ok {
		return unexpected(core.StopTransactionFeatureName, request)
	}
	connector, ok := charger.ConnectorByTransaction(req.TransactionId)
	if !ok {
		return fmt.Errorf("transaction %v: %w", req.TransactionId, model.ErrNoTransaction)
	}
	transaction, err := connector.Detach()
	if err != nil {
		return err
	}
	transaction.Finish(req.MeterStop)
	logDefault(charger.Id, core.StopTransactionFeatureName).Infof("stopped transaction %v, consumed %v Wh", transaction.Id, transaction.MeterStop-transaction.MeterStart)
	return nil
}

func (this *CoreProfileActions) OnMeterValuesConfirmation(charger *model.Charger, request ocpp.Request, response ocpp.Response) error {
	req, ok := request.(*core.MeterValuesRequest)
	if !ok {
		return unexpected(core.MeterValuesFeatureName, request)
	}
	connector, err := charger.Connector(req.ConnectorId)
	if err != nil || connector.Transaction == nil {
		return err
	}
	var voltage, current float64
	for _, value := range req.MeterValue {
		for _, sampled := range value.SampledValue {
			reading, err := strconv.ParseFloat(sampled.Value, 64)
			if err != nil {
				continue
			}
			switch string(sampled.Measurand) {
			case "Voltage":
				voltage = reading
			case "Current.Import":
				current = reading
			}
		}
	}
	connector.Transaction.CurrentConsumption = voltage * current
	return nil
}

// ------------- Inbound calls -------------

func (this *CoreProfileActions) OnChangeConfiguration(charger *model.Charger, request ocpp.Request) (ocpp.Response, error) {
	req, ok := request.(*core.ChangeConfigurationRequest)
	if !ok {
		return nil, unexpected(core.ChangeConfigurationFeatureName, request)
	}
	status := core.ConfigurationStatusAccepted
	err := charger.SetConfiguration(req.Key, req.Value)
	switch {
	case errors.Is(err, model.ErrUnknownKey):
		status = core.ConfigurationStatusNotSupported
	case err != nil:
		status = core.ConfigurationStatusRejected
	}
	logDefault(charger.Id, core.ChangeConfigurationFeatureName).Infof("%v=%v %v", req.Key, req.Value, status)
	return core.NewChangeConfigurationConfirmation(status), nil
}

func (this *CoreProfileActions) OnGetConfiguration(charger *model.Charger, request ocpp.Request) (ocpp.Response, error) {
	req, ok := request.(*core.GetConfigurationRequest)
	if !ok {
		return nil, unexpected(core.GetConfigurationFeatureName, request)
	}
	known, unknown := charger.Configuration(req.Key)
	confirmation := core.NewGetConfigurationConfirmation(known)
	confirmation.UnknownKey = unknown
	return confirmation, nil
}

func (this *CoreProfileActions) remoteStartConnector(charger *model.Charger, req *core.RemoteStartTransactionRequest) (*model.Connector, bool) {
	if req.ConnectorId == nil {
		return charger.FreeConnector()
	}
	connector, err := charger.Connector(*req.ConnectorId)
	if err != nil || !connector.IsFree() {
		return nil, false
	}
	return connector, true
}

func (this *CoreProfileActions) OnRemoteStartTransaction(charger *model.Charger, request ocpp.Request) (ocpp.Response, error) {
	req, ok := request.(*core.RemoteStartTransactionRequest)
	if !ok {
		return nil, unexpected(core.RemoteStartTransactionFeatureName, request)
	}
	connector, ok := this.remoteStartConnector(charger, req)
	if !ok || connector.Claim(req.IdTag) != nil {
		return core.NewRemoteStartTransactionConfirmation(types.RemoteStartStopStatusRejected), nil
	}
	logDefault(charger.Id, core.RemoteStartTransactionFeatureName).Infof("connector %v held for %v", connector.Id, req.IdTag)
	return core.NewRemoteStartTransactionConfirmation(types.RemoteStartStopStatusAccepted), nil
}

func (this *CoreProfileActions) AfterRemoteStartTransaction(charger *model.Charger, ctx registry.FollowUpContext) (ocpp.Request, error) {
	req, ok := ctx.Request.(*core.RemoteStartTransactionRequest)
	if !ok {
		return nil, unexpected(core.RemoteStartTransactionFeatureName, ctx.Request)
	}
	conf, ok := ctx.Response.(*core.RemoteStartTransactionConfirmation)
	if !ok || conf.Status != types.RemoteStartStopStatusAccepted {
		return nil, nil
	}
	connector, ok := charger.ConnectorClaimedBy(req.IdTag)
	if req.ConnectorId != nil {
		connector, ok = nil, false
		if c, err := charger.Connector(*req.ConnectorId); err == nil && c.IsClaimed() {
			connector, ok = c, true
		}
	}
	if !ok {
		return nil, nil
	}
	if ctx.OnFailure != nil {
		ctx.OnFailure(func(charger *model.Charger, err error) {
			logDefault(charger.Id, core.RemoteStartTransactionFeatureName).Warnf("connector %v released: %v", connector.Id, err)
			connector.Release()
		})
	}
	return ctx.Build(core.StartTransactionFeatureName, common.Args{"connector_id": connector.Id, "rfid": req.IdTag, remoteStartClaim: claim{}})
}

func (this *CoreProfileActions) OnRemoteStopTransaction(charger *model.Charger, request ocpp.Request) (ocpp.Response, error) {
	req, ok := request.(*core.RemoteStopTransactionRequest)
	if !ok {
		return nil, unexpected(core.RemoteStopTransactionFeatureName, request)
	}
	if _, ok := charger.ConnectorByTransaction(req.TransactionId); !ok {
		return core.NewRemoteStopTransactionConfirmation(types.RemoteStartStopStatusRejected), nil
	}
	return core.NewRemoteStopTransactionConfirmation(types.RemoteStartStopStatusAccepted), nil
}

func (this *CoreProfileActions) AfterRemoteStopTransaction(charger *model.Charger, ctx registry.FollowUpContext) (ocpp.Request, error) {
	req, ok := ctx.Request.(*core.RemoteStopTransactionRequest)
	if !ok {
		return nil, unexpected(core.RemoteStopTransactionFeatureName, ctx.Request)
	}
	conf, ok := ctx.Response.(*core.RemoteStopTransactionConfirmation)
	if !ok || conf.Status != types.RemoteStartStopStatusAccepted {
		return nil, nil
	}
	connector, ok := charger.ConnectorByTransaction(req.TransactionId)
	if !ok {
		return nil, nil
	}
	return ctx.Build(core.StopTransactionFeatureName, common.Args{"connector_id": connector.Id, "reason": string(core.ReasonRemote)})
}

func (this *CoreProfileActions) OnReset(charger *model.Charger, request ocpp.Request) (ocpp.Response, error) {
	req, ok := request.(*core.ResetRequest)
	if !ok {
		return nil, unexpected(core.ResetFeatureName, request)
	}
	logDefault(charger.Id, core.ResetFeatureName).Infof("%v reset requested", req.Type)
	return core.NewResetConfirmation(core.ResetStatusAccepted), nil
}

func (this *CoreProfileActions) AfterReset(charger *model.Charger, ctx registry.FollowUpContext) (ocpp.Request, error) {
	conf, ok := ctx.Response.(*core.ResetConfirmation)
	if !ok || conf.Status != core.ResetStatusAccepted {
		return nil, nil
	}
	charger.Registration = ""
	return ctx.Build(core.BootNotificationFeatureName, nil)
}

func (this *CoreProfileActions) OnChangeAvailability(charger *model.Charger, request ocpp.Request) (ocpp.Response, error) {
	req, ok := request.(*core.ChangeAvailabilityRequest)
	if !ok {
		return nil, unexpected(core.ChangeAvailabilityFeatureName, request)
	}
	operative := req.Type == core.AvailabilityTypeOperative
	connectors := charger.Connectors
	if req.ConnectorId != 0 {
		connector, err := charger.Connector(req.ConnectorId)
		if err != nil {
			return core.NewChangeAvailabilityConfirmation(core.AvailabilityStatusRejected), nil
		}
		connectors = []*model.Connector{connector}
	}
	status := core.AvailabilityStatusAccepted
	for _, connector := range connectors {
		if connector.HasTransactionInProgress() && !operative {
			status = core.AvailabilityStatusScheduled
		}
		connector.SetOperative(operative)
	}
	if req.ConnectorId == 0 {
		charger.Status = core.ChargePointStatusAvailable
		if !operative {
			charger.Status = core.ChargePointStatusUnavailable
		}
	}
	return core.NewChangeAvailabilityConfirmation(status), nil
}

func (this *CoreProfileActions) AfterChangeAvailability(charger *model.Charger, ctx registry.FollowUpContext) (ocpp.Request, error) {
	req, ok := ctx.Request.(*core.ChangeAvailabilityRequest)
	if !ok {
		return nil, unexpected(core.ChangeAvailabilityFeatureName, ctx.Request)
	}
	conf, ok := ctx.Response.(*core.ChangeAvailabilityConfirmation)
	if !ok || conf.Status != core.AvailabilityStatusAccepted {
		return nil, nil
	}
	return ctx.Build(core.StatusNotificationFeatureName, common.Args{"connector_id": req.ConnectorId})
}

func (this *CoreProfileActions) OnUnlockConnector(charger *model.Charger, request ocpp.Request) (ocpp.Response, error) {
	req, ok := request.(*core.UnlockConnectorRequest)
	if !ok {
		return nil, unexpected(core.UnlockConnectorFeatureName, request)
	}
	if _, err := charger.Connector(req.ConnectorId); err != nil {
		return core.NewUnlockConnectorConfirmation(core.UnlockStatusNotSupported), nil
	}
	return core.NewUnlockConnectorConfirmation(core.UnlockStatusUnlocked), nil
}

func (this *CoreProfileActions) OnClearCache(charger *model.Charger, request ocpp.Request) (ocpp.Response, error) {
	charger.ClearIdTagCache()
	return core.NewClearCacheConfirmation(core.ClearCacheStatusAccepted), nil
}

func (this *CoreProfileActions) OnDataTransfer(charger *model.Charger, request ocpp.Request) (ocpp.Response, error) {
	req, ok := request.(*core.DataTransferRequest)
	if !ok {
		return nil, unexpected(core.DataTransferFeatureName, request)
	}
	logDefault(charger.Id, core.DataTransferFeatureName).Infof("data transfer from vendor %v", req.VendorId)
	return core.NewDataTransferConfirmation(core.DataTransferStatusUnknownVendorId), nil
}
