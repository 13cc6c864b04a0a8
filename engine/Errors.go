package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"charge_point/protocol"
)

var (
	ErrNotConnected = errors.New("not connected to the central system")
	ErrNoBuilder    = errors.New("no outbound builder registered")
	ErrNoHandler    = errors.New("no inbound handler registered")

	ErrAlreadyConnected = errors.New("engine already has a live connection")
)

// TimeoutError is returned when no response arrived for a call in time.
type TimeoutError struct {
	UniqueId string
	Action   string
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response to %v %v after %v", e.Action, e.UniqueId, e.Elapsed)
}

// RemoteRejection is returned when the central system answered a call with a
// CallError and call errors are not suppressed.
type RemoteRejection struct {
	Code        protocol.ErrorCode
	Description string
	Details     json.RawMessage
}

func (e *RemoteRejection) Error() string {
	return fmt.Sprintf("central system rejected the call: %v: %v", e.Code, e.Description)
}

// Outcome labels the error of a call: ok, timeout, rejected, not_connected,
// invalid or error.
func Outcome(err error) string {
	var rejection *RemoteRejection
	var validationErr *protocol.ValidationError
	switch {
	case err == nil:
		return "ok"
	case IsTimeout(err):
		return "timeout"
	case errors.As(err, &rejection):
		return "rejected"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.As(err, &validationErr):
		return "invalid"
	}
	return "error"
}
