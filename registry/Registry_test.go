package registry

import (
	"testing"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charge_point/common"
	"charge_point/model"
)

func heartbeatBuilder(*model.Charger, common.Args) (ocpp.Request, error) {
	return core.NewHeartbeatRequest(), nil
}

func TestRegisterAndLookup(t *testing.T) {
	r := New(nil)

	require.NoError(t, r.Register(core.HeartbeatFeatureName, OutboundBuilder, heartbeatBuilder))
	require.NoError(t, r.AddCallHandler(core.ResetFeatureName, func(*model.Charger, ocpp.Request) (ocpp.Response, error) {
		return core.NewResetConfirmation(core.ResetStatusAccepted), nil
	}))

	builder, err := r.Builder(core.HeartbeatFeatureName)
	require.NoError(t, err)
	request, err := builder(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, core.HeartbeatFeatureName, request.GetFeatureName())

	_, err = r.CallHandler(core.ResetFeatureName)
	assert.NoError(t, err)

	_, err = r.Lookup(core.ResetFeatureName, FollowUp)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.FollowUp(core.ResetFeatureName)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterRejectsWrongShape(t *testing.T) {
	r := New(nil)

	err := r.Register(core.HeartbeatFeatureName, InboundCallHandler, heartbeatBuilder)
	assert.ErrorIs(t, err, ErrWrongType)

	err = r.Register(core.HeartbeatFeatureName, Role(42), heartbeatBuilder)
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestOverwriteIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := New(logrus.NewEntry(logger))

	require.NoError(t, r.AddBuilder(core.HeartbeatFeatureName, heartbeatBuilder))
	require.NoError(t, r.AddBuilder(core.HeartbeatFeatureName, func(*model.Charger, common.Args) (ocpp.Request, error) {
		return nil, nil
	}))

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	builder, err := r.Builder(core.HeartbeatFeatureName)
	require.NoError(t, err)
	request, _ := builder(nil, nil)
	assert.Nil(t, request)
}

func TestSealedRegistryIsReadOnly(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.AddBuilder(core.HeartbeatFeatureName, heartbeatBuilder))
	r.Seal()

	assert.True(t, r.Sealed())
	assert.ErrorIs(t, r.AddBuilder(core.BootNotificationFeatureName, heartbeatBuilder), ErrSealed)
	assert.Equal(t, []string{core.HeartbeatFeatureName}, r.Actions(OutboundBuilder))
}
