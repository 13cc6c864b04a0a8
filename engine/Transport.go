package engine

import (
	"context"
	"errors"
)

var ErrConnectionClosed = errors.New("connection closed")

// Transport is a framed duplex connection to the central system. ReadFrame is
// only called by the dispatcher; WriteFrame is serialized by the engine.
type Transport interface {
	WriteFrame(ctx context.Context, frame []byte) error
	// ReadFrame blocks until a frame arrives. It fails with an error wrapping
	// ErrConnectionClosed once the connection is gone.
	ReadFrame(ctx context.Context) ([]byte, error)
	Ping(ctx context.Context) error
	Close() error
}
