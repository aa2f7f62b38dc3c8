package deploy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reviewapps-dev/rdeploy/internal/config"
	"github.com/reviewapps-dev/rdeploy/internal/logging"
	"github.com/reviewapps-dev/rdeploy/internal/remote/remotetest"
)

const (
	testRemoteArchive = "/home/deploy/dist.tar.gz"
	testActivationDir = "/srv/www/app"
	testBackupDir     = "/home/deploy/backups"
)

type harness struct {
	t      *testing.T
	dialer *remotetest.Dialer
	req    *Request
	log    *logging.DeployLogger
}

func newHarness(t *testing.T, hosts ...string) *harness {
	t.Helper()
	dir := t.TempDir()
	dist := filepath.Join(dir, "dist")
	require.NoError(t, os.MkdirAll(filepath.Join(dist, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "index.html"), []byte("<html></html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "assets", "app.js"), []byte("console.log(1)"), 0o644))

	req := NewRequest()
	for _, name := range hosts {
		req.Hosts = append(req.Hosts, config.Host{Name: name, Host: name, User: "deploy"})
	}
	req.SkipBuild = true
	req.ProjectDir = dir
	req.DistDir = dist
	req.ArchivePath = filepath.Join(dir, "dist.tar.gz")
	req.RemoteArchivePath = testRemoteArchive
	req.ActivationDir = testActivationDir
	req.RetryDelay = time.Millisecond

	return &harness{t: t, dialer: remotetest.NewDialer(), req: req, log: logging.Discard()}
}

func (h *harness) host(name string) *remotetest.Host {
	return h.dialer.Host(name)
}

func (h *harness) run(opts ...Option) (*Summary, error) {
	h.t.Helper()
	base := []Option{WithDialer(h.dialer), WithLogger(h.log)}
	return Deploy(context.Background(), h.req, append(base, opts...)...)
}

// recorder collects hook invocations from concurrent hosts.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) hook(point HookPoint) Hook {
	return func(_ context.Context, sc *StageContext) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		name := point.String()
		if host := sc.HostName(); host != "" {
			name = host + ":" + name
		}
		r.calls = append(r.calls, name)
		return nil
	}
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type gateFunc func(title string) bool

func (g gateFunc) Confirm(_ context.Context, title string, _ []string) (bool, error) {
	return g(title), nil
}

func result(t *testing.T, s *Summary, host string) HostResult {
	t.Helper()
	for _, r := range s.Hosts {
		if r.Host == host {
			return r
		}
	}
	t.Fatalf("no result for %s", host)
	return HostResult{}
}
