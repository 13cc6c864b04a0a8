package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"charge_point/protocol"
)

type outcome struct {
	result    *protocol.CallResult
	callError *protocol.CallError
	err       error
}

type pendingCall struct {
	uniqueId  string
	action    string
	createdAt time.Time
	result    chan outcome
}

// Correlator sends calls one at a time and matches responses to them. The
// send permit is handed out in request order.
type Correlator struct {
	transport Transport
	timeout   time.Duration
	permit    *semaphore.Weighted
	writeMu   sync.Mutex

	mu      sync.Mutex
	pending map[string]*pendingCall

	ctx    context.Context
	cancel context.CancelFunc

	onWrite func(protocol.Message, string)
	log     *logrus.Entry
}

func NewCorrelator(transport Transport, timeout time.Duration, log *logrus.Entry) *Correlator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Correlator{
		transport: transport,
		timeout:   timeout,
		permit:    semaphore.NewWeighted(1),
		pending:   map[string]*pendingCall{},
		ctx:       ctx,
		cancel:    cancel,
		onWrite:   func(protocol.Message, string) {},
		log:       log,
	}
}

func (c *Correlator) closed() bool {
	return c.ctx.Err() != nil
}

// Send writes call and waits for its response. With suppress set a CallError
// answer yields (nil, nil) instead of a *RemoteRejection.
func (c *Correlator) Send(ctx context.Context, call *protocol.Call, suppress bool) (*protocol.CallResult, error) {
	if c.closed() {
		return nil, ErrNotConnected
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	if err := c.permit.Acquire(ctx, 1); err != nil {
		if c.closed() {
			return nil, ErrNotConnected
		}
		return nil, err
	}
	defer c.permit.Release(1)

	if c.closed() {
		return nil, ErrNotConnected
	}

	pending := &pendingCall{
		uniqueId:  call.UniqueId,
		action:    call.Action,
		createdAt: time.Now(),
		result:    make(chan outcome, 1),
	}
	c.mu.Lock()
	c.pending[call.UniqueId] = pending
	c.mu.Unlock()

	if err := c.write(ctx, call, call.Action); err != nil {
		c.remove(call.UniqueId)
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case out := <-pending.result:
		switch {
		case out.err != nil:
			return nil, out.err
		case out.callError != nil:
			if suppress {
				c.log.WithFields(logrus.Fields{"message": call.Action, "uniqueId": call.UniqueId}).
					Debugf("call error suppressed: %v", out.callError)
				return nil, nil
			}
			return nil, &RemoteRejection{
				Code:        out.callError.ErrorCode,
				Description: out.callError.ErrorDescription,
				Details:     out.callError.ErrorDetails,
			}
		}
		return out.result, nil
	case <-timer.C:
		c.remove(call.UniqueId)
		return nil, &TimeoutError{UniqueId: call.UniqueId, Action: call.Action, Elapsed: time.Since(pending.createdAt)}
	case <-ctx.Done():
		c.remove(call.UniqueId)
		if c.closed() {
			return nil, ErrNotConnected
		}
		return nil, ctx.Err()
	}
}

// Reply writes a message that expects no answer. It does not take the send
// permit.
func (c *Correlator) Reply(ctx context.Context, message protocol.Message) error {
	if c.closed() {
		return ErrNotConnected
	}
	return c.write(ctx, message, "")
}

func (c *Correlator) write(ctx context.Context, message protocol.Message, action string) error {
	frame, err := protocol.Encode(message)
	if err != nil {
		return fmt.Errorf("encode %v: %w", message.GetUniqueId(), err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.transport.WriteFrame(ctx, frame); err != nil {
		return fmt.Errorf("write %v: %w", message.GetUniqueId(), err)
	}
	c.onWrite(message, action)
	return nil
}

func (c *Correlator) remove(uniqueId string) (*pendingCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending, ok := c.pending[uniqueId]
	if ok {
		delete(c.pending, uniqueId)
	}
	return pending, ok
}

// PendingAction returns the action of an outstanding call.
func (c *Correlator) PendingAction(uniqueId string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending, ok := c.pending[uniqueId]
	if !ok {
		return "", false
	}
	return pending.action, true
}

// Outstanding returns the number of calls waiting for a response.
func (c *Correlator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Resolve hands a CallResult or CallError to the caller waiting for it.
// Responses to unknown or expired calls are discarded.
func (c *Correlator) Resolve(message protocol.Message) bool {
	pending, ok := c.remove(message.GetUniqueId())
	if !ok {
		c.log.WithField("uniqueId", message.GetUniqueId()).Warnf("discarding %v for unknown or expired call", message.GetMessageTypeId())
		return false
	}
	switch msg := message.(type) {
	case *protocol.CallResult:
		pending.result <- outcome{result: msg}
	case *protocol.CallError:
		pending.result <- outcome{callError: msg}
	default:
		pending.result <- outcome{err: fmt.Errorf("unexpected %v as response", message.GetMessageTypeId())}
	}
	return true
}

// Fail resolves an outstanding call with err.
func (c *Correlator) Fail(uniqueId string, err error) bool {
	pending, ok := c.remove(uniqueId)
	if !ok {
		return false
	}
	pending.result <- outcome{err: err}
	return true
}

// Close fails every waiting caller and makes later sends fail fast.
func (c *Correlator) Close() {
	c.cancel()
	c.mu.Lock()
	pending := c.pending
	c.pending = map[string]*pendingCall{}
	c.mu.Unlock()
	for _, p := range pending {
		p.result <- outcome{err: ErrNotConnected}
	}
}

func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}
