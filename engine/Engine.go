package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/sirupsen/logrus"

	"charge_point/common"
	"charge_point/model"
	"charge_point/protocol"
	"charge_point/registry"
)

const DefaultResponseTimeout = 30 * time.Second

type Phase int

const (
	PhaseCreated Phase = iota + 1
	PhaseSent
	PhaseValidated
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseSent:
		return "sent"
	case PhaseValidated:
		return "validated"
	}
	return "none"
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Exchange is the outcome of an outbound call, tagged with the last phase it
// reached.
type Exchange struct {
	Action     string        `json:"action"`
	UniqueId   string        `json:"uniqueId,omitempty"`
	Phase      Phase         `json:"phase"`
	Request    ocpp.Request  `json:"request,omitempty"`
	Response   ocpp.Response `json:"response,omitempty"`
	Skipped    bool          `json:"skipped,omitempty"`
	Suppressed bool          `json:"suppressed,omitempty"`
	FollowUp   bool          `json:"followUp,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Observer is notified of every message and of every phase change of an
// outbound exchange. Implementations must be safe for concurrent use.
type Observer interface {
	OnMessage(entry LogEntry)
	OnExchange(exchange Exchange)
}

// Recorder collects engine metrics.
type Recorder interface {
	ObserveCall(action string, result string, elapsed time.Duration)
	ObserveInbound(action string, outcome string)
	ObserveMessage(direction string, messageType string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveCall(string, string, time.Duration) {}
func (noopRecorder) ObserveInbound(string, string)             {}
func (noopRecorder) ObserveMessage(string, string)             {}

type Options struct {
	Version            *protocol.Version
	ResponseTimeout    time.Duration
	SuppressCallErrors bool
	Log                *logrus.Entry
	Metrics            Recorder
	Observers          []Observer
}

type SubmitOption func(*submitOptions)

type submitOptions struct {
	suppress bool
}

// WithSuppress turns a CallError answer into an empty, successful exchange.
func WithSuppress(suppress bool) SubmitOption {
	return func(o *submitOptions) {
		o.suppress = suppress
	}
}

type session struct {
	transport  Transport
	correlator *Correlator
	ctx        context.Context
	cancel     context.CancelFunc
}

// Engine runs the OCPP exchange of one charge point over one connection.
type Engine struct {
	charger  *model.Charger
	registry *registry.Registry
	version  *protocol.Version
	timeout  time.Duration
	suppress bool
	log      *logrus.Entry
	metrics  Recorder

	observers []Observer
	history   *ExchangeLog

	mu      sync.RWMutex
	session *session

	followUps sync.WaitGroup
}

func New(charger *model.Charger, reg *registry.Registry, opts Options) *Engine {
	if opts.Version == nil {
		opts.Version = protocol.V16
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = DefaultResponseTimeout
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Metrics == nil {
		opts.Metrics = noopRecorder{}
	}
	reg.Seal()
	return &Engine{
		charger:   charger,
		registry:  reg,
		version:   opts.Version,
		timeout:   opts.ResponseTimeout,
		suppress:  opts.SuppressCallErrors,
		log:       opts.Log.WithField("client", charger.Id),
		metrics:   opts.Metrics,
		observers: opts.Observers,
		history:   NewExchangeLog(),
	}
}

func (e *Engine) Charger() *model.Charger {
	return e.charger
}

// AddObserver must be called before Run.
func (e *Engine) AddObserver(observer Observer) {
	e.observers = append(e.observers, observer)
}

// Run serves one connection until it closes or ctx is done. It is the only
// reader of transport.
func (e *Engine) Run(ctx context.Context, transport Transport) error {
	s, err := e.open(ctx, transport)
	if err != nil {
		return err
	}
	defer e.close(s)

	stop := context.AfterFunc(ctx, func() {
		_ = transport.Close()
	})
	defer stop()

	e.log.Info("connected to central system")
	for {
		frame, err := transport.ReadFrame(s.ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrConnectionClosed) {
				e.log.Info("connection closed by central system")
				return ErrConnectionClosed
			}
			return fmt.Errorf("read frame: %w", err)
		}
		e.dispatch(s, frame)
	}
}

func (e *Engine) open(ctx context.Context, transport Transport) (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		return nil, ErrAlreadyConnected
	}
	s := &session{transport: transport}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.correlator = NewCorrelator(transport, e.timeout, e.log)
	s.correlator.onWrite = func(message protocol.Message, action string) {
		e.record(Outbound, message, action)
	}
	e.session = s
	return s, nil
}

func (e *Engine) close(s *session) {
	e.mu.Lock()
	if e.session == s {
		e.session = nil
	}
	e.mu.Unlock()
	s.correlator.Close()
	s.cancel()
	_ = s.transport.Close()
}

func (e *Engine) current() *session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}

// IsConnected reports whether a connection is being served.
func (e *Engine) IsConnected() bool {
	return e.current() != nil
}

// IsConnectionLive checks the connection with a transport level ping.
func (e *Engine) IsConnectionLive(ctx context.Context) bool {
	s := e.current()
	if s == nil {
		return false
	}
	return s.transport.Ping(ctx) == nil
}

// ExchangeLog returns every message exchanged so far, oldest first.
func (e *Engine) ExchangeLog() []LogEntry {
	return e.history.Entries()
}

// Wait blocks until every detached follow-up call has finished.
func (e *Engine) Wait() {
	e.followUps.Wait()
}

func (e *Engine) record(direction Direction, message protocol.Message, action string) {
	entry := newLogEntry(direction, message, action)
	e.history.Append(entry)
	e.metrics.ObserveMessage(string(direction), message.GetMessageTypeId().String())
	for _, observer := range e.observers {
		observer.OnMessage(entry)
	}
}

func (e *Engine) notify(exchange *Exchange) {
	for _, observer := range e.observers {
		observer.OnExchange(*exchange)
	}
}

// BuildOutboundCall builds the call for action from args merged with the
// charger state. It fails with ErrNoBuilder when the action has no builder.
func (e *Engine) BuildOutboundCall(action string, args common.Args) (*protocol.Call, ocpp.Request, error) {
	e.charger.Lock()
	request, err := e.build(action, args)
	e.charger.Unlock()
	if err != nil {
		return nil, nil, err
	}
	call, err := e.newCall(request)
	if err != nil {
		return nil, nil, err
	}
	return call, request, nil
}

// build runs the builder of action. The caller holds the charger lock.
func (e *Engine) build(action string, args common.Args) (request ocpp.Request, err error) {
	builder, lookupErr := e.registry.Builder(action)
	if lookupErr != nil {
		return nil, fmt.Errorf("%v: %w", action, ErrNoBuilder)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("builder %v panicked: %v", action, r)
		}
	}()
	request, err = builder(e.charger, e.charger.PayloadData(action, args))
	if err != nil {
		return nil, fmt.Errorf("build %v: %w", action, err)
	}
	if request == nil {
		return nil, fmt.Errorf("builder %v returned no request", action)
	}
	return request, nil
}

// newCall wraps request with a fresh unique id and validates it.
func (e *Engine) newCall(request ocpp.Request) (*protocol.Call, error) {
	call, err := protocol.NewCall(request)
	if err != nil {
		return nil, err
	}
	if err := protocol.Validate(call, e.version); err != nil {
		return nil, err
	}
	return call, nil
}

// Submit builds and sends an outbound call and applies its response to the
// charger. An action without builder yields a skipped exchange.
func (e *Engine) Submit(ctx context.Context, action string, args common.Args, opts ...SubmitOption) (*Exchange, error) {
	options := submitOptions{suppress: e.suppress}
	for _, opt := range opts {
		opt(&options)
	}

	call, request, err := e.BuildOutboundCall(action, args)
	if errors.Is(err, ErrNoBuilder) {
		e.log.WithField("message", action).Warn("no outbound builder, call skipped")
		e.metrics.ObserveCall(action, "skipped", 0)
		return &Exchange{Action: action, Skipped: true}, nil
	}
	if err != nil {
		e.metrics.ObserveCall(action, "invalid", 0)
		return &Exchange{Action: action}, err
	}

	s := e.current()
	if s == nil {
		e.metrics.ObserveCall(action, "not_connected", 0)
		return &Exchange{Action: action, UniqueId: call.UniqueId, Request: request}, ErrNotConnected
	}
	return e.send(ctx, s, call, request, options.suppress, false)
}

func (e *Engine) send(ctx context.Context, s *session, call *protocol.Call, request ocpp.Request, suppress bool, followUp bool) (*Exchange, error) {
	exchange := &Exchange{
		Action:   call.Action,
		UniqueId: call.UniqueId,
		Request:  request,
		Phase:    PhaseCreated,
		FollowUp: followUp,
	}
	e.notify(exchange)

	start := time.Now()
	result, err := s.correlator.Send(ctx, call, suppress)
	exchange.Duration = time.Since(start)
	if err != nil {
		e.metrics.ObserveCall(call.Action, Outcome(err), exchange.Duration)
		return exchange, err
	}
	exchange.Phase = PhaseSent
	if result == nil {
		exchange.Suppressed = true
		e.notify(exchange)
		e.metrics.ObserveCall(call.Action, "suppressed", exchange.Duration)
		return exchange, nil
	}
	e.notify(exchange)

	response, err := e.version.ParseResponse(call.Action, result.Payload)
	if err != nil {
		e.metrics.ObserveCall(call.Action, "invalid", exchange.Duration)
		return exchange, err
	}
	exchange.Response = response
	exchange.Phase = PhaseValidated
	e.metrics.ObserveCall(call.Action, "ok", exchange.Duration)

	if err := e.applyResponse(call, request, response); err != nil {
		e.notify(exchange)
		return exchange, err
	}
	e.notify(exchange)
	return exchange, nil
}

// applyResponse runs the response handler of the call's action under the
// charger lock.
func (e *Engine) applyResponse(call *protocol.Call, request ocpp.Request, response ocpp.Response) (err error) {
	handler, lookupErr := e.registry.ResponseHandler(call.Action)
	if lookupErr != nil {
		e.log.WithField("message", call.Action).Debug("no response handler")
		return nil
	}
	e.charger.Lock()
	defer e.charger.Unlock()
	defer func() {
		if r := recover(); r != nil {
			e.log.WithFields(logrus.Fields{"message": call.Action, "uniqueId": call.UniqueId}).Errorf("response handler panicked: %v", r)
			err = fmt.Errorf("response handler %v panicked: %v", call.Action, r)
		}
	}()
	if err := handler(e.charger, request, response); err != nil {
		e.log.WithFields(logrus.Fields{"message": call.Action, "uniqueId": call.UniqueId}).Warnf("response not applied: %v", err)
		return fmt.Errorf("apply %v response: %w", call.Action, err)
	}
	return nil
}
