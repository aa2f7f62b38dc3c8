package deploy

import (
	"testing"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewapps-dev/rdeploy/internal/config"
)

func TestRequestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Hosts = []config.Host{{Host: "a"}}
	cfg.Local.DistDir = "/p/dist"
	cfg.Local.ArchivePath = "/p/dist.tar.gz"
	cfg.Remote.ArchivePath = "/tmp/dist.tar.gz"
	cfg.Remote.ActivationDir = "/srv/app"
	cfg.Remote.BackupDir = "/srv/backups"
	cfg.Upload.MaxParallel = 4
	cfg.Mode.Concurrent = false

	r := RequestFromConfig(cfg)
	assert.Equal(t, cfg.Hosts, r.Hosts)
	assert.Equal(t, "npm run build", r.BuildCommand)
	assert.Equal(t, 5, r.MaxBackupCount)
	assert.Equal(t, 3, r.RetryCount)
	assert.Equal(t, 300*time.Millisecond, r.RetryDelay)
	assert.Equal(t, 4, r.MaxParallel)
	assert.False(t, r.Concurrent)
	assert.True(t, r.RemoveArchive)

	cfg.Hosts[0].Host = "changed"
	assert.Equal(t, "a", r.Hosts[0].Host, "hosts are copied")
}

func TestNormalizedDefaults(t *testing.T) {
	n := Request{RetryCount: 0, RetryDelay: -time.Second, RemoteArchivePath: `C:\x\..\dist.tar.gz`}.normalized()
	assert.Equal(t, DefaultRetryCount, n.RetryCount)
	assert.Zero(t, n.RetryDelay)
	assert.Equal(t, "/", n.RemoteWorkDir)
	assert.Equal(t, DefaultBuildCommand, n.BuildCommand)
	assert.Equal(t, "C:/dist.tar.gz", n.RemoteArchivePath)
}

func TestDefaultActivateCommand(t *testing.T) {
	assert.Equal(t,
		"cd / && rm -rf /srv/app && mkdir -p /srv/app && tar -xzf /tmp/d.tar.gz -C /srv/app && rm -rf /tmp/d.tar.gz && exit",
		DefaultActivateCommand("/", "/srv/app", "/tmp/d.tar.gz"))

	cmd := DefaultActivateCommand("/home/me", "/srv/my app", "/tmp/d.tar.gz")
	assert.Contains(t, cmd, "rm -rf '/srv/my app'")
}

func TestDefaultActivateCommandQuotesHostileNames(t *testing.T) {
	dir := "/srv/$(touch pwned)/it's"
	archive := "/tmp/a b;rm -rf ~.tar.gz"
	words, err := shellquote.Split(DefaultActivateCommand("/", dir, archive))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"cd", "/",
		"&&", "rm", "-rf", dir,
		"&&", "mkdir", "-p", dir,
		"&&", "tar", "-xzf", archive, "-C", dir,
		"&&", "rm", "-rf", archive,
		"&&", "exit",
	}, words)
}

func TestActivationCommandOverride(t *testing.T) {
	r := &Request{ActivateCommand: "deploy.sh"}
	assert.Equal(t, "deploy.sh", r.activationCommand())
}
