package deploy

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/reviewapps-dev/rdeploy/internal/build"
	"github.com/reviewapps-dev/rdeploy/internal/deployerr"
	"github.com/reviewapps-dev/rdeploy/internal/logging"
	"github.com/reviewapps-dev/rdeploy/internal/prompt"
	"github.com/reviewapps-dev/rdeploy/internal/remote"
)

// BuildFunc runs the local build command.
type BuildFunc func(ctx context.Context, opts build.Options) error

type Pipeline struct {
	steps  []step
	dialer remote.Dialer
	gate   prompt.Gate
	log    *logging.DeployLogger
	build  BuildFunc
	now    func() time.Time
}

type Option func(*Pipeline)

func WithDialer(d remote.Dialer) Option { return func(p *Pipeline) { p.dialer = d } }

func WithLogger(l *logging.DeployLogger) Option { return func(p *Pipeline) { p.log = l } }

// WithGate sets the interactive gate. It is only consulted when the request
// is interactive.
func WithGate(g prompt.Gate) Option { return func(p *Pipeline) { p.gate = g } }

func WithBuild(fn BuildFunc) Option { return func(p *Pipeline) { p.build = fn } }

// WithClock sets the clock that dates backups.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		dialer: &remote.SSHDialer{},
		build:  build.Run,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logging.Discard()
	}
	p.AddStep(&buildStep{})
	p.AddStep(&compressStep{})
	p.AddStep(&hostsStep{})
	p.AddStep(&cleanupStep{})
	return p
}

func (p *Pipeline) AddStep(s step) {
	p.steps = append(p.steps, s)
}

// Deploy runs req with a fresh pipeline.
func Deploy(ctx context.Context, req *Request, opts ...Option) (*Summary, error) {
	return NewPipeline(opts...).Run(ctx, req)
}

// runState is everything one run shares between its steps.
type runState struct {
	req      *Request
	dialer   remote.Dialer
	gate     prompt.Gate
	log      *logging.DeployLogger
	bus      *Bus
	shell    *RemoteShell
	build    BuildFunc
	now      func() time.Time
	summary  *Summary
	sessions []*session

	// errs collects unhandled host failures for the caller.
	errs []error
}

// Run executes the stages in order. A nil error with a non-success outcome
// means the run ended on purpose: declined at a gate, or stopped by an
// error the error hook handled.
func (p *Pipeline) Run(ctx context.Context, in *Request) (*Summary, error) {
	if in == nil {
		return nil, deployerr.New(deployerr.KindConfig, "nil request")
	}
	req := in.normalized()

	runID := p.log.RunID()
	if runID == "" {
		runID = uuid.NewString()
	}
	summary := &Summary{RunID: runID, StartedAt: time.Now()}
	defer func() { summary.Elapsed = time.Since(summary.StartedAt) }()

	r := &runState{
		req:     &req,
		dialer:  p.dialer,
		gate:    p.gate,
		log:     p.log,
		bus:     NewBus(req.Hooks, req.OnError, p.log),
		shell:   NewRemoteShell(req.Hosts, p.dialer, req.RemoteWorkDir, p.log),
		build:   p.build,
		now:     p.now,
		summary: summary,
	}
	if req.Interactive && r.gate == nil {
		r.gate = prompt.NewTerminal(os.Stdin, os.Stderr)
	}
	defer r.teardown()

	sc := &StageContext{
		Stage:     StageValidate,
		StartedAt: time.Now(),
		HostIndex: -1,
		Request:   r.req,
		Logger:    r.log,
		Shell:     r.shell,
	}

	r.log.Stage(string(StageValidate))
	if err := Validate(r.req); err != nil {
		r.log.Error("%v", err)
		return r.abort(ctx, err, sc)
	}

	for _, s := range p.steps {
		sc = sc.at(s.Stage())

		if g, ok := s.(gated); ok && req.Interactive {
			if title, details, ask := g.Question(r); ask {
				yes, err := r.gate.Confirm(ctx, title, details)
				if err != nil && !prompt.IsAborted(err) {
					return summary, err
				}
				if !yes || err != nil {
					r.log.Warn("%s declined, stopping", s.Name())
					summary.Outcome = OutcomeDeclined
					summary.StoppedAt = s.Stage()
					return summary, nil
				}
			}
		}

		r.log.Stage(s.Name())
		if err := s.Run(ctx, r, sc); err != nil {
			r.log.Error("%s: %v", s.Name(), err)
			return r.abort(ctx, err, sc)
		}
	}

	if summary.Outcome == OutcomeFailed && len(r.errs) > 0 {
		var all *multierror.Error
		for _, err := range r.errs {
			all = multierror.Append(all, err)
		}
		return summary, all.ErrorOrNil()
	}
	return summary, nil
}

// abort ends the run at a pipeline-wide stage. A handled error ends it
// quietly.
func (r *runState) abort(ctx context.Context, err error, sc *StageContext) (*Summary, error) {
	r.summary.StoppedAt = sc.Stage
	r.summary.Outcome = OutcomeAborted
	if err, handled := r.settle(ctx, err, sc, false); !handled {
		return r.summary, err
	}
	r.log.Warn("%s error handled, stopping", sc.Stage)
	return r.summary, nil
}

// settle routes err through the error hook unless a hook failure already
// went that way. It returns the classified error and whether it was handled.
func (r *runState) settle(ctx context.Context, err error, sc *StageContext, canRetry bool) (error, bool) {
	var se *stepError
	if errors.As(err, &se) {
		return se.err, false
	}
	if unhandled := r.bus.Handle(ctx, err, sc, canRetry); unhandled != nil {
		return unhandled, false
	}
	return deployerr.Classify(err, deployerr.KindUnknown).OnHost(sc.HostName()), true
}

// stepError carries an error that has been through the bus already.
type stepError struct{ err error }

func (e *stepError) Error() string { return e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// hook runs a hook. An unhandled failure comes back marked so that it is
// not offered to the error hook a second time.
func (r *runState) hook(ctx context.Context, point HookPoint, sc *StageContext) error {
	if err := r.bus.hook(ctx, point, sc); err != nil {
		return &stepError{err: err}
	}
	return nil
}

// soft offers a non-fatal error to the error hook and logs it when unhandled.
func (r *runState) soft(ctx context.Context, err error, sc *StageContext, log *logging.DeployLogger) {
	if unhandled := r.bus.Handle(ctx, err, sc, false); unhandled != nil {
		log.Warn("%v", unhandled)
	}
}

// teardown closes every opened session once.
func (r *runState) teardown() {
	for _, s := range r.sessions {
		if s != nil {
			s.close()
		}
	}
}
