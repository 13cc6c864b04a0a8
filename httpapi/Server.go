package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	"github.com/sirupsen/logrus"

	"charge_point/common"
	"charge_point/engine"
	"charge_point/model"
)

// ConnectFunc opens a connection to the central system at backendURL and
// serves it in the background.
type ConnectFunc func(ctx context.Context, backendURL string) error

type Server struct {
	Engine  *engine.Engine
	Connect ConnectFunc
	Metrics http.Handler
	Log     *logrus.Entry
	// CallTimeout bounds a request waiting for the central system.
	CallTimeout time.Duration
}

func NewServer(e *engine.Engine, connect ConnectFunc, metrics http.Handler, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{Engine: e, Connect: connect, Metrics: metrics, Log: log.WithField("component", "http"), CallTimeout: time.Minute}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/whoami", s.WhoAmI)
	r.Get("/is_up", s.IsUp)
	r.Get("/history", s.History)
	r.Post("/connect", s.ConnectBackend)

	r.Post("/bootnotification", s.submitQuery(core.BootNotificationFeatureName, "model", "vendor", "firmware", "serial_number"))
	r.Post("/authorize", s.submitQuery(core.AuthorizeFeatureName, "rfid"))
	r.Post("/heartbeat", s.submitQuery(core.HeartbeatFeatureName))
	r.Post("/meter_values", s.submitQuery(core.MeterValuesFeatureName, "connector_id", "voltage", "current", "energy"))
	r.Post("/start_transaction", s.submitQuery(core.StartTransactionFeatureName, "rfid", "connector_id", "meter_start"))
	r.Post("/status_notification", s.submitQuery(core.StatusNotificationFeatureName, "status", "connector_id", "error", "info"))
	r.Post("/stop_transaction", s.submitQuery(core.StopTransactionFeatureName, "connector_id", "meter_stop", "reason"))
	r.Post("/data_transfer", s.submitQuery(core.DataTransferFeatureName, "vendor_id", "message_id", "data"))
	r.Post("/diagnostics_status_notification", s.submitQuery(firmware.DiagnosticsStatusNotificationFeatureName, "status"))
	r.Post("/firmware_status_notification", s.submitQuery(firmware.FirmwareStatusNotificationFeatureName, "status"))
	r.Post("/actions/{action}", s.SubmitAction)

	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics)
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps the error of a submitted call to an HTTP status.
func StatusFor(err error) int {
	switch engine.Outcome(err) {
	case "ok":
		return http.StatusOK
	case "not_connected":
		return http.StatusServiceUnavailable
	case "timeout":
		return http.StatusGatewayTimeout
	case "rejected":
		return http.StatusBadGateway
	case "invalid":
		return http.StatusBadRequest
	}
	switch {
	case errors.Is(err, model.ErrTransactionInProgress), errors.Is(err, model.ErrNoTransaction):
		return http.StatusConflict
	case errors.Is(err, model.ErrUnknownConnector):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

// ErrorCode is the dotted error code reported to control clients.
func ErrorCode(err error) string {
	switch StatusFor(err) {
	case http.StatusServiceUnavailable:
		return "command.not.connected"
	case http.StatusGatewayTimeout:
		return "command.response.timeout"
	case http.StatusBadGateway:
		return "command.rejected"
	case http.StatusBadRequest:
		return "command.payload.not.valid"
	case http.StatusConflict, http.StatusNotFound:
		return "command.state.not.valid"
	}
	return "command.message.not.send"
}

// ResponseFor wraps the outcome of a submitted call into a common.Response.
func ResponseFor(exchange *engine.Exchange, err error) common.Response {
	if err != nil {
		return common.NewErrorResponse(ErrorCode(err), err.Error())
	}
	return common.Response{Payload: exchange}
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, action string, args common.Args) {
	ctx, cancel := context.WithTimeout(r.Context(), s.CallTimeout)
	defer cancel()

	exchange, err := s.Engine.Submit(ctx, action, args)
	response := ResponseFor(exchange, err)
	if err != nil {
		s.Log.WithField("message", action).Warnf("call failed: %v", err)
		writeJSON(w, StatusFor(err), response)
		return
	}
	if exchange.Skipped {
		writeJSON(w, http.StatusAccepted, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// submitQuery serves an outbound action with its args read from the query
// string.
func (s *Server) submitQuery(action string, keys ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		args := common.Args{}
		for _, key := range keys {
			if query.Has(key) {
				args[key] = query.Get(key)
			}
		}
		s.submit(w, r, action, args)
	}
}

// SubmitAction serves any outbound action with its args as a JSON object body.
func (s *Server) SubmitAction(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	args := common.Args{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			writeJSON(w, http.StatusBadRequest, common.NewErrorResponse("command.format.not.valid", "body must be a JSON object"))
			return
		}
	}
	s.submit(w, r, action, args)
}

func (s *Server) WhoAmI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, common.Response{Payload: s.Engine.Charger().Snapshot()})
}

func (s *Server) IsUp(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	writeJSON(w, http.StatusOK, common.Response{Payload: map[string]bool{"is_up": s.Engine.IsConnectionLive(ctx)}})
}

func (s *Server) History(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, common.Response{Payload: s.Engine.ExchangeLog()})
}

func (s *Server) ConnectBackend(w http.ResponseWriter, r *http.Request) {
	if s.Connect == nil {
		writeJSON(w, http.StatusNotImplemented, common.NewErrorResponse("command.connect.not.available", "connecting is not available"))
		return
	}
	backendURL := r.URL.Query().Get("backend_url")
	if backendURL == "" {
		writeJSON(w, http.StatusBadRequest, common.NewErrorResponse("command.payload.not.valid", "backend_url is required"))
		return
	}
	if err := s.Connect(r.Context(), backendURL); err != nil {
		s.Log.Warnf("connect to %v failed: %v", backendURL, err)
		writeJSON(w, http.StatusBadGateway, common.NewErrorResponse("command.connect.failed", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, common.Response{Payload: map[string]string{"backend_url": backendURL}})
}
