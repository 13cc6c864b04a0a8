package actions

import (
	"errors"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/reservation"

	"charge_point/model"
	"charge_point/protocol"
	"charge_point/registry"
)

type ReservationProfileActions struct{}

func InitializeReservationProfileActions() *ReservationProfileActions {
	return &ReservationProfileActions{}
}

func (this *ReservationProfileActions) Register(r *registry.Registry) error {
	return errors.Join(
		r.AddCallHandler(reservation.ReserveNowFeatureName, this.OnReserveNow),
		r.AddCallHandler(reservation.CancelReservationFeatureName, this.OnCancelReservation),
	)
}

func (this *ReservationProfileActions) OnReserveNow(charger *model.Charger, request ocpp.Request) (ocpp.Response, error) {
	req, ok := request.(*reservation.ReserveNowRequest)
	if !ok {
		return nil, unexpected(reservation.ReserveNowFeatureName, request)
	}
	if !charger.Features.Reservation {
		return nil, protocol.NewError(protocol.NotSupported, "reservations are not supported")
	}
	if req.ExpiryDate != nil && req.ExpiryDate.Before(time.Now()) {
		return reservation.NewReserveNowConfirmation(reservation.ReservationStatusRejected), nil
	}
	connector, err := charger.Connector(req.ConnectorId)
	switch {
	case err != nil:
		return reservation.NewReserveNowConfirmation(reservation.ReservationStatusRejected), nil
	case connector.Status == core.ChargePointStatusFaulted:
		return reservation.NewReserveNowConfirmation(reservation.ReservationStatusFaulted), nil
	case !connector.Operative:
		return reservation.NewReserveNowConfirmation(reservation.ReservationStatusUnavailable), nil
	case connector.HasTransactionInProgress() || (connector.ReservationId != 0 && connector.ReservationId != req.ReservationId):
		return reservation.NewReserveNowConfirmation(reservation.ReservationStatusOccupied), nil
	}
	connector.ReservationId = req.ReservationId
	connector.Status = core.ChargePointStatusReserved
	logDefault(charger.Id, reservation.ReserveNowFeatureName).Infof("connector %v reserved for %v", connector.Id, req.IdTag)
	return reservation.NewReserveNowConfirmation(reservation.ReservationStatusAccepted), nil
}

func (this *ReservationProfileActions) OnCancelReservation(charger *model.Charger, request ocpp.Request) (ocpp.Response, error) {
	req, ok := request.(*reservation.CancelReservationRequest)
	if !ok {
		return nil, unexpected(reservation.CancelReservationFeatureName, request)
	}
	if !charger.Features.Reservation {
		return nil, protocol.NewError(protocol.NotSupported, "reservations are not supported")
	}
	connector, ok := charger.ConnectorByReservation(req.ReservationId)
	if !ok {
		return reservation.NewCancelReservationConfirmation(reservation.CancelReservationStatusRejected), nil
	}
	connector.ReservationId = 0
	connector.Status = core.ChargePointStatusAvailable
	return reservation.NewCancelReservationConfirmation(reservation.CancelReservationStatusAccepted), nil
}
