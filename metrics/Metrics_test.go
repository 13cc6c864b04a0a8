package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charge_point/engine"
)

var _ engine.Recorder = (*Metrics)(nil)

func TestObserveCall(t *testing.T) {
	m := New()

	m.ObserveCall("Heartbeat", "ok", 20*time.Millisecond)
	m.ObserveCall("Heartbeat", "ok", 30*time.Millisecond)
	m.ObserveCall("Heartbeat", "skipped", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CallsTotal.WithLabelValues("Heartbeat", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallsTotal.WithLabelValues("Heartbeat", "skipped")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.CallDuration))
}

func TestObserveMessagesAndInbound(t *testing.T) {
	m := New()

	m.ObserveMessage("out", "CALL")
	m.ObserveMessage("in", "CALL_RESULT")
	m.ObserveInbound("Reset", "ok")
	m.ObserveInbound("Reset", "NotSupported")
	m.SetConnected(true)

	assert.Equal(t, 2, testutil.CollectAndCount(m.MessagesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InboundCallsTotal.WithLabelValues("Reset", "NotSupported")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connected))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveCall("BootNotification", "timeout", time.Second)

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(recorder.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `evse_ocpp_calls_total{action="BootNotification",result="timeout"} 1`)
	assert.Contains(t, string(body), "evse_ocpp_call_duration_seconds_bucket")
}
