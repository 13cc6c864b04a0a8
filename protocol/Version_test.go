package protocol

import (
	"encoding/json"
	"testing"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestV16Supports(t *testing.T) {
	assert.True(t, V16.Supports(core.BootNotificationFeatureName))
	assert.True(t, V16.Supports(remotetrigger.TriggerMessageFeatureName))
	assert.False(t, V16.Supports("TransactionEvent"))
	assert.Contains(t, V16.Actions(), core.HeartbeatFeatureName)
}

func TestParseRequest(t *testing.T) {
	request, err := V16.ParseRequest(remotetrigger.TriggerMessageFeatureName, json.RawMessage(`{"requestedMessage":"BootNotification"}`))
	require.NoError(t, err)

	trigger, ok := request.(*remotetrigger.TriggerMessageRequest)
	require.True(t, ok)
	assert.Equal(t, core.BootNotificationFeatureName, string(trigger.RequestedMessage))
}

func TestValidateCodes(t *testing.T) {
	tests := []struct {
		name    string
		message Message
		code    ErrorCode
	}{
		{"unknown action", &Call{UniqueId: "1", Action: "Teleport", Payload: json.RawMessage(`{}`)}, NotImplemented},
		{"payload not object", &Call{UniqueId: "1", Action: core.ResetFeatureName, Payload: json.RawMessage(`[1]`)}, FormationViolation},
		{"wrong type", &Call{UniqueId: "1", Action: core.ChangeConfigurationFeatureName, Payload: json.RawMessage(`{"key":1,"value":"x"}`)}, TypeConstraintViolation},
		{"missing required", &Call{UniqueId: "1", Action: core.ChangeConfigurationFeatureName, Payload: json.RawMessage(`{"value":"x"}`)}, OccurrenceConstraintViolation},
		{"bad enum", &Call{UniqueId: "1", Action: core.ResetFeatureName, Payload: json.RawMessage(`{"type":"Medium"}`)}, PropertyConstraintViolation},
		{"bad result", &CallResult{UniqueId: "1", Action: core.HeartbeatFeatureName, Payload: json.RawMessage(`{}`)}, OccurrenceConstraintViolation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.message, V16)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tc.code, validationErr.Code)
		})
	}
}

func TestValidateAcceptsValidMessages(t *testing.T) {
	assert.NoError(t, Validate(&Call{UniqueId: "1", Action: core.HeartbeatFeatureName, Payload: json.RawMessage(`{}`)}, V16))
	assert.NoError(t, Validate(&CallResult{UniqueId: "1", Payload: json.RawMessage(`{"anything":true}`)}, V16))
	assert.NoError(t, Validate(&CallError{UniqueId: "1", ErrorCode: GenericError}, V16))
}

func TestErrorFrom(t *testing.T) {
	code, description := ErrorFrom(NewError(NotSupported, "smart charging disabled"))
	assert.Equal(t, NotSupported, code)
	assert.Equal(t, "smart charging disabled", description)

	code, _ = ErrorFrom(assert.AnError)
	assert.Equal(t, InternalError, code)
}
