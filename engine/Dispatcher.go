package engine

import (
	"errors"
	"fmt"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/sirupsen/logrus"

	"charge_point/protocol"
	"charge_point/registry"
)

// dispatch processes one frame read from the connection.
func (e *Engine) dispatch(s *session, frame []byte) {
	message, err := protocol.Decode(frame)
	if err != nil {
		e.log.Warnf("dropping frame: %v", err)
		var decodeErr *protocol.DecodeError
		if errors.As(err, &decodeErr) && decodeErr.UniqueId != "" && decodeErr.MessageTypeId == protocol.CALL {
			e.reply(s, protocol.NewCallError(decodeErr.UniqueId, protocol.FormationViolation, decodeErr.Reason, nil))
		}
		return
	}

	switch msg := message.(type) {
	case *protocol.Call:
		e.record(Inbound, msg, msg.Action)
		e.handleCall(s, msg)
	case *protocol.CallResult:
		action, _ := s.correlator.PendingAction(msg.UniqueId)
		msg.Action = action
		e.record(Inbound, msg, action)
		if err := protocol.Validate(msg, e.version); err != nil {
			e.log.WithFields(logrus.Fields{"message": action, "uniqueId": msg.UniqueId}).Warnf("invalid call result: %v", err)
			s.correlator.Fail(msg.UniqueId, err)
			return
		}
		s.correlator.Resolve(msg)
	case *protocol.CallError:
		action, _ := s.correlator.PendingAction(msg.UniqueId)
		e.record(Inbound, msg, action)
		if err := protocol.Validate(msg, e.version); err != nil {
			s.correlator.Fail(msg.UniqueId, err)
			return
		}
		s.correlator.Resolve(msg)
	}
}

func (e *Engine) handleCall(s *session, call *protocol.Call) {
	log := e.log.WithFields(logrus.Fields{"message": call.Action, "uniqueId": call.UniqueId})

	request, err := e.version.ParseRequest(call.Action, call.Payload)
	if err != nil {
		code, _ := protocol.ErrorFrom(err)
		log.Warnf("invalid call: %v", err)
		e.metrics.ObserveInbound(call.Action, string(code))
		e.reply(s, protocol.NewCallError(call.UniqueId, code, err.Error(), nil))
		return
	}

	handler, err := e.registry.CallHandler(call.Action)
	if err != nil {
		log.Warnf("%v", ErrNoHandler)
		e.metrics.ObserveInbound(call.Action, string(protocol.NotSupported))
		e.reply(s, protocol.NewCallError(call.UniqueId, protocol.NotSupported, fmt.Sprintf("%v is not supported", call.Action), nil))
		return
	}

	response, err := e.invoke(call, handler, request)
	if err != nil {
		code, description := protocol.ErrorFrom(err)
		var details interface{}
		var protocolErr *protocol.Error
		if errors.As(err, &protocolErr) {
			details = protocolErr.Details
		}
		log.Infof("answering with %v: %v", code, description)
		e.metrics.ObserveInbound(call.Action, string(code))
		e.reply(s, protocol.NewCallError(call.UniqueId, code, description, details))
		return
	}

	result, err := protocol.NewCallResult(call.UniqueId, response)
	if err != nil {
		log.Errorf("encoding response: %v", err)
		e.reply(s, protocol.NewCallError(call.UniqueId, protocol.InternalError, err.Error(), nil))
		return
	}
	e.metrics.ObserveInbound(call.Action, "ok")
	if !e.reply(s, result) {
		return
	}
	e.followUp(s, call, request, response)
}

// invoke runs an inbound call handler under the charger lock. A panic in the
// handler becomes an InternalError.
func (e *Engine) invoke(call *protocol.Call, handler registry.CallHandlerFunc, request ocpp.Request) (response ocpp.Response, err error) {
	e.charger.Lock()
	defer e.charger.Unlock()
	defer func() {
		if r := recover(); r != nil {
			e.log.WithFields(logrus.Fields{"message": call.Action, "uniqueId": call.UniqueId}).Errorf("call handler panicked: %v", r)
			response, err = nil, protocol.NewError(protocol.InternalError, fmt.Sprintf("handler failed: %v", r))
		}
	}()
	response, err = handler(e.charger, request)
	if err == nil && response == nil {
		err = protocol.NewError(protocol.InternalError, "handler returned no response")
	}
	return response, err
}

func (e *Engine) reply(s *session, message protocol.Message) bool {
	if err := s.correlator.Reply(s.ctx, message); err != nil {
		e.log.WithField("uniqueId", message.GetUniqueId()).Errorf("reply not sent: %v", err)
		return false
	}
	return true
}
