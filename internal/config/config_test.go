package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tomlConfig = `
[build]
command = "pnpm build"

[local]
dist_dir = "dist"
archive_path = "out/dist.tar.gz"

[remote]
archive_path = "/home/deploy/dist.tar.gz"
activation_dir = "/srv/www/app"
backup_dir = "/home/deploy/backups"
max_backup_count = 7

[upload]
retry_count = 4
retry_delay = "1s"

[mode]
concurrent = false

[health]
url = "http://{host}/up"

[hooks]
after_deploy = ["systemctl reload nginx"]

[[hosts]]
name = "web-1"
host = "10.0.0.1"
user = "deploy"
private_key = "keys/id_ed25519"

[[hosts]]
host = "10.0.0.2"
port = 2222
user = "deploy"
`

const yamlConfig = `
hosts:
  - name: edge
    host: edge.example.com
    user: root
    agent: true
local:
  dist_dir: /abs/dist
  archive_path: /abs/dist.tar.gz
  remove_archive: false
remote:
  archive_path: /tmp/dist.tar.gz
  activation_dir: /var/www/site
upload:
  retry_delay: 50ms
  max_parallel: 2
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "deploy.toml", tomlConfig)
	dir := filepath.Dir(path)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pnpm build", cfg.Build.Command)
	assert.Equal(t, dir, cfg.Build.ProjectDir)
	assert.Equal(t, filepath.Join(dir, "dist"), cfg.Local.DistDir)
	assert.Equal(t, filepath.Join(dir, "out/dist.tar.gz"), cfg.Local.ArchivePath)
	assert.True(t, cfg.Local.RemoveArchive, "default kept when key absent")
	assert.Equal(t, 7, cfg.Remote.MaxBackupCount)
	assert.Equal(t, "/", cfg.Remote.WorkDir)
	assert.Equal(t, 4, cfg.Upload.RetryCount)
	assert.Equal(t, time.Second, cfg.Upload.RetryDelay.Duration)
	assert.False(t, cfg.Mode.Concurrent)
	assert.Equal(t, "http://{host}/up", cfg.Health.URL)
	assert.Equal(t, 30*time.Second, cfg.Health.Timeout.Duration)
	assert.Equal(t, []string{"systemctl reload nginx"}, cfg.Hooks["after_deploy"])

	require.Len(t, cfg.Hosts, 2)
	assert.Equal(t, "web-1", cfg.Hosts[0].DisplayName())
	assert.Equal(t, filepath.Join(dir, "keys/id_ed25519"), cfg.Hosts[0].PrivateKey)
	assert.Equal(t, "10.0.0.1:22", cfg.Hosts[0].Addr())
	assert.Equal(t, "10.0.0.2", cfg.Hosts[1].DisplayName())
	assert.Equal(t, "10.0.0.2:2222", cfg.Hosts[1].Addr())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "deploy.yaml", yamlConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Hosts, 1)
	assert.True(t, cfg.Hosts[0].Agent)
	assert.Equal(t, 22, cfg.Hosts[0].Port)
	assert.Equal(t, "/abs/dist", cfg.Local.DistDir)
	assert.False(t, cfg.Local.RemoveArchive)
	assert.Equal(t, 50*time.Millisecond, cfg.Upload.RetryDelay.Duration)
	assert.Equal(t, 2, cfg.Upload.MaxParallel)
	assert.Equal(t, 3, cfg.Upload.RetryCount)
	assert.True(t, cfg.Mode.Concurrent)
	assert.Equal(t, "npm run build", cfg.Build.Command)
}

func TestLoadEnvSecrets(t *testing.T) {
	t.Setenv("RDEPLOY_PASSWORD", "s3cret")
	t.Setenv("RDEPLOY_KEY_PASSPHRASE", "phrase")
	path := writeFile(t, "deploy.toml", tomlConfig)

	cfg, err := Load(path)
	require.NoError(t, err)
	for _, h := range cfg.Hosts {
		assert.Equal(t, "s3cret", h.Password)
		assert.Equal(t, "phrase", h.Passphrase)
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "deploy.json", "{}"))
	assert.ErrorContains(t, err, "unsupported format")

	_, err = Load(writeFile(t, "deploy.toml", "[upload]\nretry_delay = \"soon\"\n"))
	assert.Error(t, err)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Upload, cfg.Upload)
}
