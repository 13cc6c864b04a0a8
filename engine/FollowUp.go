package engine

import (
	"fmt"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/sirupsen/logrus"

	"charge_point/common"
	"charge_point/model"
	"charge_point/protocol"
	"charge_point/registry"
)

// followUp runs the follow-up handler of an answered call and sends the
// request it returns as a new outbound call. The send is detached from the
// dispatcher, which must keep reading to receive its response.
func (e *Engine) followUp(s *session, call *protocol.Call, request ocpp.Request, response ocpp.Response) {
	log := e.log.WithFields(logrus.Fields{"message": call.Action, "uniqueId": call.UniqueId})

	fn, err := e.registry.FollowUp(call.Action)
	if err != nil {
		return
	}

	var undo func(*model.Charger, error)
	ctx := registry.FollowUpContext{
		Call:      call,
		Request:   request,
		Response:  response,
		OnFailure: func(fn func(*model.Charger, error)) { undo = fn },
	}
	next, err := e.runFollowUp(fn, ctx)
	if err != nil {
		log.Warnf("follow-up failed: %v", err)
		e.undoFollowUp(undo, err)
		return
	}
	if next == nil {
		log.Debug("no follow-up call")
		return
	}

	outbound, err := e.newCall(next)
	if err != nil {
		log.Warnf("invalid follow-up %v: %v", next.GetFeatureName(), err)
		e.undoFollowUp(undo, err)
		return
	}

	e.followUps.Add(1)
	go func() {
		defer e.followUps.Done()
		exchange, err := e.send(s.ctx, s, outbound, next, true, true)
		if err == nil && exchange.Suppressed {
			err = fmt.Errorf("%v answered with a CallError", outbound.Action)
		}
		if err != nil {
			log.Warnf("follow-up %v not completed: %v", outbound.Action, err)
			e.undoFollowUp(undo, err)
			return
		}
		log.Infof("follow-up %v completed in phase %v", exchange.Action, exchange.Phase)
	}()
}

func (e *Engine) undoFollowUp(fn func(*model.Charger, error), err error) {
	if fn == nil {
		return
	}
	e.charger.Lock()
	defer e.charger.Unlock()
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("follow-up cleanup panicked: %v", r)
		}
	}()
	fn(e.charger, err)
}

func (e *Engine) runFollowUp(fn registry.FollowUpFunc, ctx registry.FollowUpContext) (next ocpp.Request, err error) {
	e.charger.Lock()
	defer e.charger.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("follow-up handler panicked: %v", r)
		}
	}()
	ctx.Build = func(action string, args common.Args) (ocpp.Request, error) {
		return e.build(action, args)
	}
	return fn(e.charger, ctx)
}
