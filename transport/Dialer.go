package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

var ErrBackendUnavailable = errors.New("central system unavailable, not dialing")

type DialerSettings struct {
	// MaxFailures consecutive failed dials open the circuit.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before a trial dial.
	OpenTimeout time.Duration
}

// Dialer opens websockets through a circuit breaker so a down central system
// is not hammered with connection attempts.
type Dialer struct {
	opts    Options
	breaker *gobreaker.CircuitBreaker
}

func NewDialer(opts Options, settings DialerSettings) *Dialer {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 3
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	log := opts.Log
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "central-system-dial",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("dial circuit changed state")
		},
	})
	return &Dialer{opts: opts, breaker: breaker}
}

func (d *Dialer) Dial(ctx context.Context, backendURL string) (*WebSocket, error) {
	result, err := d.breaker.Execute(func() (interface{}, error) {
		return Dial(ctx, backendURL, d.opts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return result.(*WebSocket), nil
}

// State reports the breaker state: closed, half-open or open.
func (d *Dialer) State() string {
	return d.breaker.State().String()
}
