package notifier

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charge_point/common"
	"charge_point/notifier"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("nats server failed to start")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func newTestNotifier(t *testing.T, url string, notifications chan notifier.Notification) *natsChargePointNotifier {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	n := New(logrus.NewEntry(logger))
	n.SetTimeout(200 * time.Millisecond)
	n.SetChannel(notifications)
	n.AddHandler("heartbeat", func(chargePointId string, payload []byte, response chan common.Response) {
		response <- common.Response{Payload: map[string]interface{}{"chargePointId": chargePointId, "payload": json.RawMessage(payload)}}
	})
	n.AddHandler("stuck", func(string, []byte, chan common.Response) {})
	require.NoError(t, n.Start(url))
	t.Cleanup(n.Stop)
	return n
}

func request(t *testing.T, nc *nats.Conn, command interface{}) common.Response {
	data, err := json.Marshal(command)
	require.NoError(t, err)
	msg, err := nc.Request(DefaultRequestSubject, data, 2*time.Second)
	require.NoError(t, err)
	var response common.Response
	require.NoError(t, json.Unmarshal(msg.Data, &response))
	return response
}

func TestRequestReply(t *testing.T) {
	url := startTestServer(t)
	newTestNotifier(t, url, nil)
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	response := request(t, nc, common.Command{Action: "heartbeat", ChargePointId: "CP-1", Payload: map[string]interface{}{"x": 1.0}})
	require.Nil(t, response.Err)
	payload := response.Payload.(map[string]interface{})
	assert.Equal(t, "CP-1", payload["chargePointId"])
	assert.Equal(t, map[string]interface{}{"x": 1.0}, payload["payload"])
}

func TestRequestErrors(t *testing.T) {
	url := startTestServer(t)
	newTestNotifier(t, url, nil)
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	tests := []struct {
		name    string
		command interface{}
		code    string
	}{
		{"missing charge point", common.Command{Action: "heartbeat"}, "command.format.not.valid"},
		{"unknown action", common.Command{Action: "teleport", ChargePointId: "CP-1"}, "command.action.not.found"},
		{"timeout", common.Command{Action: "stuck", ChargePointId: "CP-1"}, "request.timeout"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			response := request(t, nc, tc.command)
			require.NotNil(t, response.Err)
			assert.Equal(t, tc.code, response.Err.Code)
		})
	}
}

func TestNotificationsArePublished(t *testing.T) {
	url := startTestServer(t)
	notifications := make(chan notifier.Notification, 1)
	newTestNotifier(t, url, notifications)
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	received := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("evse.CP-1.>", received)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	notifications <- notifier.Notification{Topic: "evse.CP-1.boot.notification", Data: map[string]string{"chargePointId": "CP-1"}}

	select {
	case msg := <-received:
		assert.Equal(t, "evse.CP-1.boot.notification", msg.Subject)
		assert.JSONEq(t, `{"chargePointId":"CP-1"}`, string(msg.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("notification not published")
	}
}
