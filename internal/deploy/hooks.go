package deploy

import (
	"context"
	"fmt"

	"github.com/reviewapps-dev/rdeploy/internal/deployerr"
	"github.com/reviewapps-dev/rdeploy/internal/logging"
)

// HookPoint identifies where in the pipeline a hook runs.
type HookPoint int

const (
	BeforeBuild HookPoint = iota
	AfterBuild
	BeforeCompress
	AfterCompress
	BeforeConnect
	AfterConnect
	BeforeUpload
	AfterUpload
	BeforeDeploy
	AfterDeploy
	BeforeCleanup
	AfterCleanup
)

var hookPointNames = [...]string{
	BeforeBuild:    "before_build",
	AfterBuild:     "after_build",
	BeforeCompress: "before_compress",
	AfterCompress:  "after_compress",
	BeforeConnect:  "before_connect",
	AfterConnect:   "after_connect",
	BeforeUpload:   "before_upload",
	AfterUpload:    "after_upload",
	BeforeDeploy:   "before_deploy",
	AfterDeploy:    "after_deploy",
	BeforeCleanup:  "before_cleanup",
	AfterCleanup:   "after_cleanup",
}

func (p HookPoint) String() string {
	if p >= 0 && int(p) < len(hookPointNames) {
		return hookPointNames[p]
	}
	return fmt.Sprintf("hook(%d)", int(p))
}

// Hook is a user callback run at a HookPoint. Host-scoped hook points run
// once per host with sc.Host set.
type Hook func(ctx context.Context, sc *StageContext) error

type Hooks map[HookPoint]Hook

// ErrorContext is what the error hook sees.
type ErrorContext struct {
	*StageContext
	Err *deployerr.Error
	// CanRetry is true for stages with a retry budget (connect, upload).
	CanRetry bool
}

// ErrorHook decides whether err is handled. Returning true swallows the
// error; false lets it propagate.
type ErrorHook func(ctx context.Context, ec *ErrorContext) bool

// Bus dispatches hooks and routes failures through the error hook.
type Bus struct {
	hooks   Hooks
	onError ErrorHook
	log     *logging.DeployLogger
}

func NewBus(hooks Hooks, onError ErrorHook, log *logging.DeployLogger) *Bus {
	if log == nil {
		log = logging.Discard()
	}
	return &Bus{hooks: hooks, onError: onError, log: log}
}

// Execute runs the hook registered at point, if any. Errors and panics come
// back as KindUnknown, attributed to the context's host.
func (b *Bus) Execute(ctx context.Context, point HookPoint, sc *StageContext) (err error) {
	hook := b.hooks[point]
	if hook == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = hookError(point, sc, fmt.Errorf("panic: %v", r))
		}
	}()

	if hookErr := hook(ctx, sc); hookErr != nil {
		return hookError(point, sc, hookErr)
	}
	return nil
}

// callOverride runs a user-supplied stage override, turning a panic into an
// error so that only the calling host fails.
func callOverride(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s override panicked: %v", name, r)
		}
	}()
	return fn()
}

func hookError(point HookPoint, sc *StageContext, cause error) error {
	de := &deployerr.Error{
		Kind:    deployerr.KindUnknown,
		Message: fmt.Sprintf("%s hook failed in stage %s", point, sc.Stage),
		Cause:   cause,
	}
	return de.OnHost(sc.HostName())
}

// Handle classifies err and offers it to the error hook. It returns nil when
// the hook handled it, otherwise the classified error. A panicking error
// hook counts as not handled.
func (b *Bus) Handle(ctx context.Context, err error, sc *StageContext, canRetry bool) error {
	if err == nil {
		return nil
	}
	de := deployerr.Classify(err, deployerr.KindUnknown).OnHost(sc.HostName())
	if b.onError == nil {
		return de
	}
	if b.offer(ctx, &ErrorContext{StageContext: sc, Err: de, CanRetry: canRetry}) {
		b.log.Debug("error handled by hook: %v", de)
		return nil
	}
	return de
}

func (b *Bus) offer(ctx context.Context, ec *ErrorContext) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("error hook panicked: %v", r)
			handled = false
		}
	}()
	return b.onError(ctx, ec)
}

// hook runs a hook and its error handling in one step: nil when the hook
// succeeded or its failure was handled.
func (b *Bus) hook(ctx context.Context, point HookPoint, sc *StageContext) error {
	if err := b.Execute(ctx, point, sc); err != nil {
		return b.Handle(ctx, err, sc, false)
	}
	return nil
}
