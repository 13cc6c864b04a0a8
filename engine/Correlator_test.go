package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charge_point/protocol"
)

func heartbeatCall(t *testing.T) *protocol.Call {
	call, err := protocol.NewCall(core.NewHeartbeatRequest())
	require.NoError(t, err)
	return call
}

func readCall(t *testing.T, pipe *pipeTransport) *protocol.Call {
	select {
	case frame := <-pipe.outbound:
		message, err := protocol.Decode(frame)
		require.NoError(t, err)
		call, ok := message.(*protocol.Call)
		require.True(t, ok)
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("nothing written")
	}
	return nil
}

func TestCorrelatorSerializesCalls(t *testing.T) {
	pipe := newPipe()
	c := NewCorrelator(pipe, 2*time.Second, quietLog())

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Send(context.Background(), heartbeatCall(t), false)
			assert.NoError(t, err)
		}()
	}

	for i := 0; i < n; i++ {
		call := readCall(t, pipe)
		assert.Equal(t, 1, c.Outstanding())
		select {
		case frame := <-pipe.outbound:
			t.Fatalf("second call written while one is outstanding: %s", frame)
		case <-time.After(10 * time.Millisecond):
		}
		require.True(t, c.Resolve(&protocol.CallResult{UniqueId: call.UniqueId, Payload: json.RawMessage(`{}`)}))
	}
	wg.Wait()
	assert.Equal(t, 0, c.Outstanding())
}

func TestCorrelatorPermitIsFIFO(t *testing.T) {
	pipe := newPipe()
	c := NewCorrelator(pipe, 2*time.Second, quietLog())

	first := heartbeatCall(t)
	go c.Send(context.Background(), first, false)
	require.Equal(t, first.UniqueId, readCall(t, pipe).UniqueId)

	var queued []string
	for i := 0; i < 5; i++ {
		call := heartbeatCall(t)
		queued = append(queued, call.UniqueId)
		go c.Send(context.Background(), call, false)
		time.Sleep(20 * time.Millisecond)
	}

	c.Resolve(&protocol.CallResult{UniqueId: first.UniqueId, Payload: json.RawMessage(`{}`)})
	var order []string
	for range queued {
		call := readCall(t, pipe)
		order = append(order, call.UniqueId)
		c.Resolve(&protocol.CallResult{UniqueId: call.UniqueId, Payload: json.RawMessage(`{}`)})
	}
	assert.Equal(t, queued, order)
}

func TestCorrelatorTimeoutPurgesPendingCall(t *testing.T) {
	pipe := newPipe()
	c := NewCorrelator(pipe, 50*time.Millisecond, quietLog())
	call := heartbeatCall(t)

	start := time.Now()
	_, err := c.Send(context.Background(), call, false)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, call.UniqueId, timeoutErr.UniqueId)
	assert.Equal(t, core.HeartbeatFeatureName, timeoutErr.Action)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, c.Outstanding())

	assert.False(t, c.Resolve(&protocol.CallResult{UniqueId: call.UniqueId, Payload: json.RawMessage(`{}`)}))
}

func TestCorrelatorCallErrorPolicy(t *testing.T) {
	pipe := newPipe()
	c := NewCorrelator(pipe, time.Second, quietLog())

	for _, suppress := range []bool{false, true} {
		call := heartbeatCall(t)
		go func() {
			message, err := protocol.Decode(<-pipe.outbound)
			if err != nil {
				return
			}
			c.Resolve(&protocol.CallError{UniqueId: message.GetUniqueId(), ErrorCode: protocol.GenericError, ErrorDescription: "busy"})
		}()
		result, err := c.Send(context.Background(), call, suppress)
		assert.Nil(t, result)
		if suppress {
			assert.NoError(t, err)
			continue
		}
		var rejection *RemoteRejection
		require.ErrorAs(t, err, &rejection)
		assert.Equal(t, protocol.GenericError, rejection.Code)
		assert.Equal(t, "busy", rejection.Description)
	}
}

func TestCorrelatorCloseFailsWaitingCallers(t *testing.T) {
	pipe := newPipe()
	c := NewCorrelator(pipe, 5*time.Second, quietLog())

	errs := make(chan error, 2)
	go func() {
		_, err := c.Send(context.Background(), heartbeatCall(t), false)
		errs <- err
	}()
	readCall(t, pipe)
	go func() {
		_, err := c.Send(context.Background(), heartbeatCall(t), false)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)

	c.Close()
	assert.ErrorIs(t, <-errs, ErrNotConnected)
	assert.ErrorIs(t, <-errs, ErrNotConnected)

	_, err := c.Send(context.Background(), heartbeatCall(t), false)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.Reply(context.Background(), &protocol.CallResult{UniqueId: "x"}), ErrNotConnected)
}
