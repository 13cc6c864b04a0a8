package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"charge_point/engine"
)

const (
	Subprotocol = "ocpp1.6"

	defaultHandshakeTimeout = 10 * time.Second
	defaultPingTimeout      = 5 * time.Second
	writeWait               = 10 * time.Second
)

var ErrPingTimeout = errors.New("no pong received")

// WebSocket is an OCPP-J connection to the central system. Frames are read by
// a single goroutine; writes are serialized.
type WebSocket struct {
	conn        *websocket.Conn
	log         *logrus.Entry
	pingTimeout time.Duration

	writeMu sync.Mutex
	frames  chan []byte
	pongs   chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.Mutex
	readErr   error
}

func newWebSocket(conn *websocket.Conn, pingTimeout time.Duration, log *logrus.Entry) *WebSocket {
	ws := &WebSocket{
		conn:        conn,
		log:         log,
		pingTimeout: pingTimeout,
		frames:      make(chan []byte),
		pongs:       make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		select {
		case ws.pongs <- struct{}{}:
		default:
		}
		return nil
	})
	go ws.readLoop()
	return ws
}

func (this *WebSocket) readLoop() {
	for {
		messageType, data, err := this.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				this.log.Warnf("websocket closed unexpectedly: %v", err)
			}
			this.fail(err)
			return
		}
		if messageType != websocket.TextMessage {
			this.log.Debugf("ignoring websocket message of type %v", messageType)
			continue
		}
		select {
		case this.frames <- data:
		case <-this.closed:
			return
		}
	}
}

func (this *WebSocket) fail(err error) {
	this.mu.Lock()
	if this.readErr == nil {
		this.readErr = err
	}
	this.mu.Unlock()
	this.closeOnce.Do(func() {
		close(this.closed)
		_ = this.conn.Close()
	})
}

func (this *WebSocket) closedErr() error {
	this.mu.Lock()
	defer this.mu.Unlock()
	if this.readErr != nil {
		return fmt.Errorf("%w: %v", engine.ErrConnectionClosed, this.readErr)
	}
	return engine.ErrConnectionClosed
}

func (this *WebSocket) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-this.frames:
		this.log.Debugf("received %s", frame)
		return frame, nil
	case <-this.closed:
		return nil, this.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (this *WebSocket) WriteFrame(ctx context.Context, frame []byte) error {
	select {
	case <-this.closed:
		return this.closedErr()
	default:
	}
	this.writeMu.Lock()
	defer this.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = this.conn.SetWriteDeadline(deadline)
	if err := this.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		this.fail(err)
		return this.closedErr()
	}
	this.log.Debugf("sent %s", frame)
	return nil
}

// Ping sends a websocket ping and waits for the pong.
func (this *WebSocket) Ping(ctx context.Context) error {
	select {
	case <-this.closed:
		return this.closedErr()
	case <-this.pongs:
	default:
	}
	if err := this.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	timer := time.NewTimer(this.pingTimeout)
	defer timer.Stop()
	select {
	case <-this.pongs:
		return nil
	case <-this.closed:
		return this.closedErr()
	case <-timer.C:
		return ErrPingTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (this *WebSocket) Close() error {
	select {
	case <-this.closed:
		return nil
	default:
	}
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = this.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
	this.fail(errors.New("closed by charge point"))
	return nil
}

// Options of a websocket connection to the central system.
type Options struct {
	ChargePointId    string
	Password         string
	HandshakeTimeout time.Duration
	PingTimeout      time.Duration
	Log              *logrus.Entry
}

// Endpoint joins the backend url and the charge point id.
func Endpoint(backendURL string, chargePointId string) string {
	return strings.TrimRight(backendURL, "/") + "/" + chargePointId
}

// Dial opens the websocket to <backendURL>/<chargePointId> with the ocpp1.6
// subprotocol.
func Dial(ctx context.Context, backendURL string, opts Options) (*WebSocket, error) {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	endpoint := Endpoint(backendURL, opts.ChargePointId)
	log := opts.Log.WithFields(logrus.Fields{"client": opts.ChargePointId, "url": endpoint})

	header := http.Header{}
	if opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.ChargePointId + ":" + opts.Password))
		header.Set("Authorization", "Basic "+credentials)
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}
	conn, response, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("connect to %v: %w (status %v)", endpoint, err, response.Status)
		}
		return nil, fmt.Errorf("connect to %v: %w", endpoint, err)
	}
	if conn.Subprotocol() != Subprotocol {
		log.Warnf("central system did not agree on subprotocol %v", Subprotocol)
	}
	log.Info("websocket connected")
	return newWebSocket(conn, opts.PingTimeout, log), nil
}
