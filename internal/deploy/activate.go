package deploy

import (
	"context"
	"fmt"
	"strings"

	"github.com/reviewapps-dev/rdeploy/internal/deployerr"
	"github.com/reviewapps-dev/rdeploy/internal/remote"
)

// activate runs the activation command (or the override) on a ready session.
func (r *runState) activate(ctx context.Context, s *session, sc *StageContext) error {
	if r.req.Activate != nil {
		err := callOverride("activate", func() error { return r.req.Activate(ctx, sc, s.conn) })
		if err != nil {
			return deployerr.Classify(err, deployerr.KindActivate).OnHost(sc.HostName())
		}
		return nil
	}

	cmd := r.req.activationCommand()
	s.log.Log("activating %s", r.req.ActivationDir)
	s.log.Debug("shell: %s", cmd)

	res, err := s.conn.Shell(ctx, cmd)
	return classifyActivation(sc.HostName(), res, err)
}

// classifyActivation turns a shell result into nil or a KindActivate error
// carrying the captured stderr.
func classifyActivation(host string, res *remote.Result, err error) error {
	fail := func(msg string, cause error) error {
		return (&deployerr.Error{Kind: deployerr.KindActivate, Message: msg, Cause: cause}).OnHost(host)
	}
	switch {
	case err != nil:
		return fail("shell failed", err)
	case res == nil:
		return fail("shell returned no result", nil)
	case res.ExitMissing:
		return fail("channel closed without an exit status"+stderrSuffix(res), nil)
	case res.ExitCode != 0:
		return fail(fmt.Sprintf("command exited %d%s", res.ExitCode, stderrSuffix(res)), nil)
	}
	return nil
}

func stderrSuffix(res *remote.Result) string {
	if s := strings.TrimSpace(res.Stderr); s != "" {
		return ": " + s
	}
	return ""
}
