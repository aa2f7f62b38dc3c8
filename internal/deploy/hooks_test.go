package deploy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewapps-dev/rdeploy/internal/config"
	"github.com/reviewapps-dev/rdeploy/internal/deployerr"
)

func hostContext(name string) *StageContext {
	h := config.Host{Name: name, Host: "10.0.0.1"}
	return &StageContext{Stage: StageUpload, Host: &h, HostIndex: 0}
}

func TestBusExecuteWithoutHook(t *testing.T) {
	bus := NewBus(nil, nil, nil)
	assert.NoError(t, bus.Execute(context.Background(), BeforeBuild, &StageContext{Stage: StageBuild}))
}

func TestBusExecuteWrapsHookError(t *testing.T) {
	cause := errors.New("nope")
	bus := NewBus(Hooks{AfterUpload: func(context.Context, *StageContext) error { return cause }}, nil, nil)

	err := bus.Execute(context.Background(), AfterUpload, hostContext("web-1"))
	require.Error(t, err)
	var de *deployerr.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, deployerr.KindUnknown, de.Kind)
	assert.Equal(t, "web-1", de.Host)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, de.Message, "after_upload")
}

func TestBusExecuteRecoversPanic(t *testing.T) {
	bus := NewBus(Hooks{BeforeBuild: func(context.Context, *StageContext) error { panic("kaboom") }}, nil, nil)

	err := bus.Execute(context.Background(), BeforeBuild, &StageContext{Stage: StageBuild, HostIndex: -1})
	require.Error(t, err)
	assert.True(t, deployerr.Is(err, deployerr.KindUnknown))
	assert.ErrorContains(t, err, "kaboom")
}

func TestBusHandleWithoutErrorHook(t *testing.T) {
	bus := NewBus(nil, nil, nil)
	err := bus.Handle(context.Background(), errors.New("raw"), hostContext("web-1"), false)
	require.Error(t, err)
	assert.True(t, deployerr.Is(err, deployerr.KindUnknown))
	assert.ErrorContains(t, err, "[web-1]")
}

func TestBusHandleKeepsKind(t *testing.T) {
	bus := NewBus(nil, nil, nil)
	in := deployerr.New(deployerr.KindUpload, "lost")
	err := bus.Handle(context.Background(), in, hostContext("web-1"), true)
	assert.True(t, deployerr.Is(err, deployerr.KindUpload))
	assert.Empty(t, in.Host, "input error not mutated")
}

func TestBusHandleOffersContext(t *testing.T) {
	var got *ErrorContext
	bus := NewBus(nil, func(_ context.Context, ec *ErrorContext) bool {
		got = ec
		return true
	}, nil)

	sc := hostContext("web-1")
	sc.Attempt = 2
	err := bus.Handle(context.Background(), deployerr.New(deployerr.KindConnect, "refused"), sc, true)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CanRetry)
	assert.Equal(t, 2, got.Attempt)
	assert.Equal(t, StageUpload, got.Stage)
	assert.Equal(t, deployerr.KindConnect, got.Err.Kind)
	assert.Equal(t, "web-1", got.Err.Host)
}

func TestBusHandleNotHandled(t *testing.T) {
	bus := NewBus(nil, func(context.Context, *ErrorContext) bool { return false }, nil)
	err := bus.Handle(context.Background(), errors.New("x"), &StageContext{Stage: StageBuild}, false)
	assert.Error(t, err)
}

func TestBusHandlePanickingHook(t *testing.T) {
	bus := NewBus(nil, func(context.Context, *ErrorContext) bool { panic("bad hook") }, nil)
	err := bus.Handle(context.Background(), errors.New("x"), &StageContext{Stage: StageBuild}, false)
	assert.Error(t, err)
}

func TestBusHandleNil(t *testing.T) {
	called := false
	bus := NewBus(nil, func(context.Context, *ErrorContext) bool {
		called = true
		return false
	}, nil)
	assert.NoError(t, bus.Handle(context.Background(), nil, &StageContext{}, false))
	assert.False(t, called)
}

func TestHookPointString(t *testing.T) {
	assert.Equal(t, "before_build", BeforeBuild.String())
	assert.Equal(t, "after_cleanup", AfterCleanup.String())
	assert.Equal(t, "hook(99)", HookPoint(99).String())
}
