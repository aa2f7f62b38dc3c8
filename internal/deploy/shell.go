package deploy

import (
	"context"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/reviewapps-dev/rdeploy/internal/config"
	"github.com/reviewapps-dev/rdeploy/internal/deployerr"
	"github.com/reviewapps-dev/rdeploy/internal/logging"
	"github.com/reviewapps-dev/rdeploy/internal/remote"
)

// RemoteShell runs ad-hoc commands on the request's hosts. Every call opens
// and closes its own connection; it never borrows a pipeline session.
type RemoteShell struct {
	hosts     []config.Host
	dialer    remote.Dialer
	workDir   string
	hostIndex int
	log       *logging.DeployLogger
}

func NewRemoteShell(hosts []config.Host, dialer remote.Dialer, workDir string, log *logging.DeployLogger) *RemoteShell {
	if log == nil {
		log = logging.Discard()
	}
	return &RemoteShell{hosts: hosts, dialer: dialer, workDir: workDir, hostIndex: -1, log: log}
}

// forHost returns a copy that targets host i unless a call says otherwise.
func (s *RemoteShell) forHost(i int) *RemoteShell {
	cp := *s
	cp.hostIndex = i
	return &cp
}

type shellOptions struct {
	host int
	cwd  string
}

type ShellOption func(*shellOptions)

// OnHost targets the host at index i of the request.
func OnHost(i int) ShellOption {
	return func(o *shellOptions) { o.host = i }
}

// InDir runs the command from dir instead of the request's work dir.
func InDir(dir string) ShellOption {
	return func(o *shellOptions) { o.cwd = dir }
}

func (s *RemoteShell) resolve(opts []ShellOption) (config.Host, shellOptions, error) {
	o := shellOptions{host: -1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cwd == "" {
		o.cwd = s.workDir
	}
	if o.cwd == "" {
		o.cwd = "/"
	}

	if len(s.hosts) == 0 {
		return config.Host{}, o, deployerr.New(deployerr.KindConnect, "no hosts configured for remote shell")
	}
	idx := o.host
	if idx < 0 {
		idx = s.hostIndex
	}
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.hosts) {
		return config.Host{}, o, deployerr.Newf(deployerr.KindConnect, "no host at index %d", idx)
	}
	return s.hosts[idx], o, nil
}

// Exec runs cmd from the working directory and returns its output. A
// non-zero exit is reported in the result, not as an error.
func (s *RemoteShell) Exec(ctx context.Context, cmd string, opts ...ShellOption) (*remote.Result, error) {
	return s.run(ctx, cmd, opts, false)
}

// Spawn is Exec that also records the command's output lines in the log.
func (s *RemoteShell) Spawn(ctx context.Context, cmd string, opts ...ShellOption) (*remote.Result, error) {
	return s.run(ctx, cmd, opts, true)
}

func (s *RemoteShell) run(ctx context.Context, cmd string, opts []ShellOption, echo bool) (*remote.Result, error) {
	host, o, err := s.resolve(opts)
	if err != nil {
		return nil, err
	}
	log := s.log.WithHost(host.DisplayName())
	full := shellquote.Join("cd", o.cwd) + " && " + cmd
	log.Log("exec: %s", full)

	var res *remote.Result
	err = remote.WithConn(ctx, s.dialer, host, func(c remote.Conn) error {
		var execErr error
		if res, execErr = c.Exec(ctx, full); execErr != nil {
			return deployerr.Wrap(deployerr.KindActivate, execErr, "exec")
		}
		return nil
	})
	if err != nil {
		return nil, deployerr.Classify(err, deployerr.KindConnect).OnHost(host.DisplayName())
	}

	if echo {
		for _, line := range splitLines(res.Stdout) {
			log.Log("%s", line)
		}
		for _, line := range splitLines(res.Stderr) {
			log.Warn("%s", line)
		}
	}
	if res.OK() {
		log.Debug("exec ok")
	} else {
		log.Warn("exec exited %d", res.ExitCode)
	}
	return res, nil
}

// SFTP runs task against the target host's file system.
func (s *RemoteShell) SFTP(ctx context.Context, task func(remote.FileSystem) error, opts ...ShellOption) error {
	host, _, err := s.resolve(opts)
	if err != nil {
		return err
	}
	return remote.WithConn(ctx, s.dialer, host, func(c remote.Conn) error {
		return task(c)
	})
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
