package registry

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/sirupsen/logrus"

	"charge_point/common"
	"charge_point/model"
	"charge_point/protocol"
)

type Role int

const (
	OutboundBuilder Role = iota
	InboundCallHandler
	InboundResponseHandler
	FollowUp
)

func (r Role) String() string {
	switch r {
	case OutboundBuilder:
		return "OutboundBuilder"
	case InboundCallHandler:
		return "InboundCallHandler"
	case InboundResponseHandler:
		return "InboundResponseHandler"
	case FollowUp:
		return "FollowUp"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

var (
	ErrNotFound    = errors.New("handler not found")
	ErrSealed      = errors.New("registry is sealed")
	ErrWrongType   = errors.New("handler does not match role")
	ErrInvalidRole = errors.New("invalid role")
)

// BuilderFunc builds the request of an outbound call from the caller
// arguments already merged with the charger state.
type BuilderFunc func(charger *model.Charger, args common.Args) (ocpp.Request, error)

// CallHandlerFunc answers a call received from the central system. Returning
// a *protocol.Error answers with a CallError carrying its code.
type CallHandlerFunc func(charger *model.Charger, request ocpp.Request) (ocpp.Response, error)

// ResponseHandlerFunc applies the response of an outbound call to the charger.
type ResponseHandlerFunc func(charger *model.Charger, request ocpp.Request, response ocpp.Response) error

// FollowUpContext is what a follow-up handler sees of the exchange that just
// completed.
type FollowUpContext struct {
	Call     *protocol.Call
	Request  ocpp.Request
	Response ocpp.Response
	// Build runs the outbound builder registered for action.
	Build func(action string, args common.Args) (ocpp.Request, error)
	// OnFailure registers fn to run under the charger lock when the follow-up
	// call is not built, not answered or its response is not applied.
	OnFailure func(fn func(charger *model.Charger, err error))
}

// FollowUpFunc returns the request of a new outbound call, or nil when there
// is nothing to send.
type FollowUpFunc func(charger *model.Charger, ctx FollowUpContext) (ocpp.Request, error)

type key struct {
	action string
	role   Role
}

// Registry routes (action, role) pairs to handlers. Handlers are registered
// during start up; after Seal lookups are lock free.
type Registry struct {
	handlers map[key]interface{}
	sealed   atomic.Bool
	log      *logrus.Entry
}

func New(log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{handlers: map[key]interface{}{}, log: log.WithField("component", "registry")}
}

// Register stores handler for (action, role). The last registration wins.
func (r *Registry) Register(action string, role Role, handler interface{}) error {
	if r.sealed.Load() {
		return fmt.Errorf("register %v %v: %w", action, role, ErrSealed)
	}
	switch role {
	case OutboundBuilder:
		handler, ok := asBuilder(handler)
		if !ok {
			return fmt.Errorf("register %v %v: %w", action, role, ErrWrongType)
		}
		r.store(action, role, handler)
	case InboundCallHandler:
		handler, ok := asCallHandler(handler)
		if !ok {
			return fmt.Errorf("register %v %v: %w", action, role, ErrWrongType)
		}
		r.store(action, role, handler)
	case InboundResponseHandler:
		handler, ok := asResponseHandler(handler)
		if !ok {
			return fmt.Errorf("register %v %v: %w", action, role, ErrWrongType)
		}
		r.store(action, role, handler)
	case FollowUp:
		handler, ok := asFollowUp(handler)
		if !ok {
			return fmt.Errorf("register %v %v: %w", action, role, ErrWrongType)
		}
		r.store(action, role, handler)
	default:
		return fmt.Errorf("register %v: %w", action, ErrInvalidRole)
	}
	return nil
}

func (r *Registry) store(action string, role Role, handler interface{}) {
	k := key{action, role}
	if _, exists := r.handlers[k]; exists {
		r.log.WithFields(logrus.Fields{"message": action, "role": role.String()}).Warn("overwriting registered handler")
	}
	r.handlers[k] = handler
}

func asBuilder(handler interface{}) (BuilderFunc, bool) {
	switch h := handler.(type) {
	case BuilderFunc:
		return h, h != nil
	case func(*model.Charger, common.Args) (ocpp.Request, error):
		return h, h != nil
	}
	return nil, false
}

func asCallHandler(handler interface{}) (CallHandlerFunc, bool) {
	switch h := handler.(type) {
	case CallHandlerFunc:
		return h, h != nil
	case func(*model.Charger, ocpp.Request) (ocpp.Response, error):
		return h, h != nil
	}
	return nil, false
}

func asResponseHandler(handler interface{}) (ResponseHandlerFunc, bool) {
	switch h := handler.(type) {
	case ResponseHandlerFunc:
		return h, h != nil
	case func(*model.Charger, ocpp.Request, ocpp.Response) error:
		return h, h != nil
	}
	return nil, false
}

func asFollowUp(handler interface{}) (FollowUpFunc, bool) {
	switch h := handler.(type) {
	case FollowUpFunc:
		return h, h != nil
	case func(*model.Charger, FollowUpContext) (ocpp.Request, error):
		return h, h != nil
	}
	return nil, false
}

func (r *Registry) AddBuilder(action string, fn BuilderFunc) error {
	return r.Register(action, OutboundBuilder, fn)
}

func (r *Registry) AddCallHandler(action string, fn CallHandlerFunc) error {
	return r.Register(action, InboundCallHandler, fn)
}

func (r *Registry) AddResponseHandler(action string, fn ResponseHandlerFunc) error {
	return r.Register(action, InboundResponseHandler, fn)
}

func (r *Registry) AddFollowUp(action string, fn FollowUpFunc) error {
	return r.Register(action, FollowUp, fn)
}

// Seal makes the registry read only.
func (r *Registry) Seal() {
	r.sealed.Store(true)
}

func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Lookup returns the handler for (action, role) or ErrNotFound.
func (r *Registry) Lookup(action string, role Role) (interface{}, error) {
	handler, ok := r.handlers[key{action, role}]
	if !ok {
		return nil, fmt.Errorf("%v %v: %w", action, role, ErrNotFound)
	}
	return handler, nil
}

func (r *Registry) Builder(action string) (BuilderFunc, error) {
	handler, err := r.Lookup(action, OutboundBuilder)
	if err != nil {
		return nil, err
	}
	return handler.(BuilderFunc), nil
}

func (r *Registry) CallHandler(action string) (CallHandlerFunc, error) {
	handler, err := r.Lookup(action, InboundCallHandler)
	if err != nil {
		return nil, err
	}
	return handler.(CallHandlerFunc), nil
}

func (r *Registry) ResponseHandler(action string) (ResponseHandlerFunc, error) {
	handler, err := r.Lookup(action, InboundResponseHandler)
	if err != nil {
		return nil, err
	}
	return handler.(ResponseHandlerFunc), nil
}

func (r *Registry) FollowUp(action string) (FollowUpFunc, error) {
	handler, err := r.Lookup(action, FollowUp)
	if err != nil {
		return nil, err
	}
	return handler.(FollowUpFunc), nil
}

// Actions lists the actions that have a handler for role.
func (r *Registry) Actions(role Role) []string {
	var actions []string
	for k := range r.handlers {
		if k.role == role {
			actions = append(actions, k.action)
		}
	}
	return actions
}

// Module is a feature module contributing handlers to a registry.
type Module interface {
	Register(r *Registry) error
}

func (r *Registry) Install(modules ...Module) error {
	for _, module := range modules {
		if err := module.Register(r); err != nil {
			return err
		}
	}
	return nil
}
