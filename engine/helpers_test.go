package engine

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"charge_point/actions"
	"charge_point/model"
	"charge_point/protocol"
	"charge_point/registry"
)

func quietLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// pipeTransport connects the engine to a fake central system in memory.
type pipeTransport struct {
	inbound  chan []byte
	outbound chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newPipe() *pipeTransport {
	return &pipeTransport{
		inbound:  make(chan []byte, 64),
		outbound: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (p *pipeTransport) WriteFrame(ctx context.Context, frame []byte) error {
	select {
	case <-p.closed:
		return ErrConnectionClosed
	default:
	}
	select {
	case p.outbound <- frame:
		return nil
	case <-p.closed:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.inbound:
		return frame, nil
	case <-p.closed:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeTransport) Ping(ctx context.Context) error {
	select {
	case <-p.closed:
		return ErrConnectionClosed
	default:
		return nil
	}
}

func (p *pipeTransport) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

type answerFunc func(call *protocol.Call) protocol.Message

// centralSystem answers the calls of the charge point and records what it
// sees.
type centralSystem struct {
	t    *testing.T
	pipe *pipeTransport

	mu      sync.Mutex
	answers map[string]answerFunc
	delay   time.Duration

	calls   chan *protocol.Call
	replies chan protocol.Message

	outstanding    atomic.Int32
	maxOutstanding atomic.Int32
}

func newCentralSystem(t *testing.T, pipe *pipeTransport) *centralSystem {
	cs := &centralSystem{
		t:       t,
		pipe:    pipe,
		answers: map[string]answerFunc{},
		calls:   make(chan *protocol.Call, 128),
		replies: make(chan protocol.Message, 128),
	}
	cs.answer(core.HeartbeatFeatureName, core.NewHeartbeatConfirmation(types.NewDateTime(time.Now())))
	cs.answer(core.BootNotificationFeatureName, core.NewBootNotificationConfirmation(types.NewDateTime(time.Now()), 120, core.RegistrationStatusAccepted))
	cs.answer(core.StatusNotificationFeatureName, core.NewStatusNotificationConfirmation())
	cs.answer(core.AuthorizeFeatureName, core.NewAuthorizationConfirmation(types.NewIdTagInfo(types.AuthorizationStatusAccepted)))
	cs.answer(core.StartTransactionFeatureName, core.NewStartTransactionConfirmation(types.NewIdTagInfo(types.AuthorizationStatusAccepted), 5))
	cs.answer(core.StopTransactionFeatureName, core.NewStopTransactionConfirmation())
	go cs.run()
	return cs
}

func (cs *centralSystem) answer(action string, response ocpp.Response) {
	cs.answerWith(action, func(call *protocol.Call) protocol.Message {
		result, err := protocol.NewCallResult(call.UniqueId, response)
		require.NoError(cs.t, err)
		return result
	})
}

func (cs *centralSystem) answerWith(action string, fn answerFunc) {
	cs.mu.Lock()
	cs.answers[action] = fn
	cs.mu.Unlock()
}

func (cs *centralSystem) silence(action string) {
	cs.answerWith(action, nil)
}

func (cs *centralSystem) setDelay(delay time.Duration) {
	cs.mu.Lock()
	cs.delay = delay
	cs.mu.Unlock()
}

func (cs *centralSystem) run() {
	for {
		var frame []byte
		select {
		case frame = <-cs.pipe.outbound:
		case <-cs.pipe.closed:
			return
		}
		message, err := protocol.Decode(frame)
		if err != nil {
			cs.t.Errorf("charge point sent a malformed frame %s: %v", frame, err)
			continue
		}
		call, ok := message.(*protocol.Call)
		if !ok {
			cs.replies <- message
			continue
		}
		current := cs.outstanding.Add(1)
		for {
			seen := cs.maxOutstanding.Load()
			if current <= seen || cs.maxOutstanding.CompareAndSwap(seen, current) {
				break
			}
		}
		cs.calls <- call

		cs.mu.Lock()
		fn := cs.answers[call.Action]
		delay := cs.delay
		cs.mu.Unlock()
		if fn == nil {
			cs.outstanding.Add(-1)
			continue
		}
		go func() {
			time.Sleep(delay)
			answer := fn(call)
			cs.outstanding.Add(-1)
			cs.send(answer)
		}()
	}
}

func (cs *centralSystem) send(message protocol.Message) {
	frame, err := protocol.Encode(message)
	require.NoError(cs.t, err)
	cs.sendRaw(frame)
}

func (cs *centralSystem) sendRaw(frame []byte) {
	select {
	case cs.pipe.inbound <- frame:
	case <-cs.pipe.closed:
	}
}

func (cs *centralSystem) call(t *testing.T, request ocpp.Request) *protocol.Call {
	call, err := protocol.NewCall(request)
	require.NoError(t, err)
	cs.send(call)
	return call
}

func (cs *centralSystem) nextCall(t *testing.T) *protocol.Call {
	select {
	case call := <-cs.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("no call from the charge point")
	}
	return nil
}

func (cs *centralSystem) nextReply(t *testing.T) protocol.Message {
	select {
	case reply := <-cs.replies:
		return reply
	case <-time.After(2 * time.Second):
		t.Fatal("no reply from the charge point")
	}
	return nil
}

func (cs *centralSystem) noCall(t *testing.T, wait time.Duration) {
	select {
	case call := <-cs.calls:
		t.Fatalf("unexpected call %v", call.Action)
	case <-time.After(wait):
	}
}

type testSetup struct {
	engine  *Engine
	charger *model.Charger
	pipe    *pipeTransport
	cs      *centralSystem
	done    chan error
	cancel  context.CancelFunc
}

func newTestCharger() *model.Charger {
	charger := model.NewCharger("CP-TEST", 2, model.DefaultFeatures())
	charger.Model = "Wallbox"
	charger.Vendor = "Acme"
	return charger
}

func newTestRegistry(t *testing.T, modules ...registry.Module) *registry.Registry {
	r := registry.New(quietLog())
	if modules == nil {
		modules = actions.Modules()
	}
	require.NoError(t, r.Install(modules...))
	return r
}

func startEngine(t *testing.T, r *registry.Registry, opts Options) *testSetup {
	charger := newTestCharger()
	if opts.Log == nil {
		opts.Log = quietLog()
	}
	if opts.ResponseTimeout == 0 {
		opts.ResponseTimeout = 2 * time.Second
	}
	e := New(charger, r, opts)
	pipe := newPipe()
	cs := newCentralSystem(t, pipe)

	ctx, cancel := context.WithCancel(context.Background())
	setup := &testSetup{engine: e, charger: charger, pipe: pipe, cs: cs, done: make(chan error, 1), cancel: cancel}
	go func() {
		setup.done <- e.Run(ctx, pipe)
	}()
	require.Eventually(t, e.IsConnected, time.Second, 5*time.Millisecond)
	t.Cleanup(func() {
		cancel()
		select {
		case <-setup.done:
		case <-time.After(time.Second):
		}
	})
	return setup
}
