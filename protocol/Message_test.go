package protocol

import (
	"encoding/json"
	"testing"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	messages := []Message{
		&Call{UniqueId: "1", Action: core.HeartbeatFeatureName, Payload: json.RawMessage(`{}`)},
		&Call{UniqueId: "2", Action: core.BootNotificationFeatureName, Payload: json.RawMessage(`{"chargePointModel":"m","chargePointVendor":"v"}`)},
		&CallResult{UniqueId: "3", Payload: json.RawMessage(`{"status":"Accepted"}`)},
		&CallError{UniqueId: "4", ErrorCode: NotSupported, ErrorDescription: "nope", ErrorDetails: json.RawMessage(`{}`)},
	}

	for _, message := range messages {
		raw, err := Encode(message)
		require.NoError(t, err)

		decoded, err := Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, message, decoded)
	}
}

func TestEncodeFillsEmptyPayload(t *testing.T) {
	raw, err := Encode(&Call{UniqueId: "abc", Action: core.HeartbeatFeatureName})
	require.NoError(t, err)
	assert.JSONEq(t, `[2,"abc","Heartbeat",{}]`, string(raw))
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		uniqueId string
	}{
		{"not json", `hello`, ""},
		{"not array", `{"a":1}`, ""},
		{"too short", `[2,"x"]`, ""},
		{"type not number", `["2","x","Heartbeat",{}]`, ""},
		{"id not string", `[2,5,"Heartbeat",{}]`, ""},
		{"unknown type", `[7,"x","Heartbeat",{}]`, "x"},
		{"call missing payload", `[2,"x","Heartbeat"]`, "x"},
		{"call action not string", `[2,"x",3,{}]`, "x"},
		{"result too long", `[3,"x",{},{}]`, "x"},
		{"error code not string", `[4,"x",1,"d",{}]`, "x"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, tc.uniqueId, decodeErr.UniqueId)
		})
	}
}

func TestNewCallUsesFeatureName(t *testing.T) {
	call, err := NewCall(core.NewBootNotificationRequest("model", "vendor"))
	require.NoError(t, err)
	assert.Equal(t, core.BootNotificationFeatureName, call.Action)
	assert.NotEmpty(t, call.UniqueId)

	other, err := NewCall(core.NewHeartbeatRequest())
	require.NoError(t, err)
	assert.NotEqual(t, call.UniqueId, other.UniqueId)
}
