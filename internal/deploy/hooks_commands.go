package deploy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/reviewapps-dev/rdeploy/internal/build"
	"github.com/reviewapps-dev/rdeploy/internal/health"
)

// ParseHookPoint looks a hook point up by its config name.
func ParseHookPoint(name string) (HookPoint, bool) {
	for p, n := range hookPointNames {
		if n == name {
			return HookPoint(p), true
		}
	}
	return 0, false
}

// onHost reports whether hooks at p run once per host.
func (p HookPoint) onHost() bool {
	return p >= BeforeConnect && p <= AfterDeploy
}

// CommandHooks turns shell commands keyed by hook point name into Hooks.
// Commands at per-host points run on that host through the remote shell;
// the others run locally in the project directory. run executes local
// commands; nil means build.Run.
func CommandHooks(cmds map[string][]string, run BuildFunc) (Hooks, error) {
	if run == nil {
		run = build.Run
	}
	hooks := Hooks{}

	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)

	var unknown []string
	for _, name := range names {
		point, ok := ParseHookPoint(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if len(cmds[name]) == 0 {
			continue
		}
		hooks[point] = commandHook(point, append([]string(nil), cmds[name]...), run)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown hook point(s): %s", strings.Join(unknown, ", "))
	}
	return hooks, nil
}

func commandHook(point HookPoint, cmds []string, run BuildFunc) Hook {
	return func(ctx context.Context, sc *StageContext) error {
		sc.Logger.Log("running %d %s hook(s)", len(cmds), point)
		for i, cmd := range cmds {
			sc.Logger.Log("  [%d/%d] %s", i+1, len(cmds), cmd)
			var err error
			if point.onHost() {
				err = runRemoteHook(ctx, sc, cmd)
			} else {
				err = runLocalHook(ctx, sc, cmd, run)
			}
			if err != nil {
				return fmt.Errorf("hook %q failed: %w", cmd, err)
			}
		}
		return nil
	}
}

func runRemoteHook(ctx context.Context, sc *StageContext, cmd string) error {
	res, err := sc.Shell.Spawn(ctx, cmd)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("exited %d", res.ExitCode)
	}
	return nil
}

func runLocalHook(ctx context.Context, sc *StageContext, cmd string, run BuildFunc) error {
	out := sc.Logger.Writer()
	defer out.Close()
	return run(ctx, build.Options{
		Command: cmd,
		Dir:     sc.Request.ProjectDir,
		Stdout:  out,
		Stderr:  out,
	})
}

// Chain runs hooks in order and stops at the first error. Nil hooks are
// skipped.
func Chain(hooks ...Hook) Hook {
	return func(ctx context.Context, sc *StageContext) error {
		for _, h := range hooks {
			if h == nil {
				continue
			}
			if err := h(ctx, sc); err != nil {
				return err
			}
		}
		return nil
	}
}

// HealthHook polls url after a host is activated. "{host}" in url is
// replaced by the host address.
func HealthHook(url string, timeout, interval time.Duration) Hook {
	return func(ctx context.Context, sc *StageContext) error {
		target := url
		if sc.Host != nil {
			target = strings.ReplaceAll(url, "{host}", sc.Host.Host)
		}
		sc.Logger.Log("waiting for health check %s (timeout=%s, interval=%s)", target, timeout, interval)
		if err := health.Check(ctx, target, timeout, interval); err != nil {
			return err
		}
		sc.Logger.Success("healthy")
		return nil
	}
}
