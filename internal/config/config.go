package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Hosts  []Host       `toml:"hosts" yaml:"hosts"`
	Build  BuildConfig  `toml:"build" yaml:"build"`
	Local  LocalConfig  `toml:"local" yaml:"local"`
	Remote RemoteConfig `toml:"remote" yaml:"remote"`
	Upload UploadConfig `toml:"upload" yaml:"upload"`
	Mode   ModeConfig   `toml:"mode" yaml:"mode"`
	Stream StreamConfig `toml:"stream" yaml:"stream"`
	Notify NotifyConfig `toml:"notify" yaml:"notify"`
	Log    LogConfig    `toml:"log" yaml:"log"`
	Health HealthConfig `toml:"health" yaml:"health"`

	// Shell commands keyed by hook point name ("after_deploy", ...).
	Hooks map[string][]string `toml:"hooks" yaml:"hooks"`

	// Path the config was loaded from (not from the file itself)
	Path string `toml:"-" yaml:"-"`
}

type Host struct {
	Name                  string `toml:"name" yaml:"name"`
	Host                  string `toml:"host" yaml:"host"`
	Port                  int    `toml:"port" yaml:"port"`
	User                  string `toml:"user" yaml:"user"`
	Password              string `toml:"password" yaml:"password"`
	PrivateKey            string `toml:"private_key" yaml:"private_key"` // path to a PEM key
	Passphrase            string `toml:"passphrase" yaml:"passphrase"`
	Agent                 bool   `toml:"agent" yaml:"agent"`
	KeyringService        string `toml:"keyring_service" yaml:"keyring_service"`
	KnownHosts            string `toml:"known_hosts" yaml:"known_hosts"`
	InsecureIgnoreHostKey bool   `toml:"insecure_ignore_host_key" yaml:"insecure_ignore_host_key"`
}

// DisplayName is the name used in logs and summaries.
func (h Host) DisplayName() string {
	if h.Name != "" {
		return h.Name
	}
	return h.Host
}

func (h Host) Addr() string {
	port := h.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(h.Host, strconv.Itoa(port))
}

type BuildConfig struct {
	Command    string `toml:"command" yaml:"command"`
	Skip       bool   `toml:"skip" yaml:"skip"`
	ProjectDir string `toml:"project_dir" yaml:"project_dir"`
}

type LocalConfig struct {
	DistDir       string `toml:"dist_dir" yaml:"dist_dir"`
	ArchivePath   string `toml:"archive_path" yaml:"archive_path"`
	RemoveArchive bool   `toml:"remove_archive" yaml:"remove_archive"`
}

type RemoteConfig struct {
	ArchivePath     string `toml:"archive_path" yaml:"archive_path"`
	ActivationDir   string `toml:"activation_dir" yaml:"activation_dir"`
	BackupDir       string `toml:"backup_dir" yaml:"backup_dir"`
	MaxBackupCount  int    `toml:"max_backup_count" yaml:"max_backup_count"`
	WorkDir         string `toml:"work_dir" yaml:"work_dir"`
	ActivateCommand string `toml:"activate_command" yaml:"activate_command"`
}

type UploadConfig struct {
	RetryCount  int      `toml:"retry_count" yaml:"retry_count"`
	RetryDelay  Duration `toml:"retry_delay" yaml:"retry_delay"`
	MaxParallel int      `toml:"max_parallel" yaml:"max_parallel"`
}

type ModeConfig struct {
	Interactive bool `toml:"interactive" yaml:"interactive"`
	Concurrent  bool `toml:"concurrent" yaml:"concurrent"`
}

type StreamConfig struct {
	Listen string `toml:"listen" yaml:"listen"`
	Token  string `toml:"token" yaml:"token"`
}

type NotifyConfig struct {
	URL string `toml:"url" yaml:"url"`
}

// HealthConfig enables an HTTP check after each host is activated. "{host}"
// in URL is replaced by the host address.
type HealthConfig struct {
	URL      string   `toml:"url" yaml:"url"`
	Timeout  Duration `toml:"timeout" yaml:"timeout"`
	Interval Duration `toml:"interval" yaml:"interval"`
}

type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// Duration decodes "300ms"-style strings from both TOML and YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() *Config {
	return &Config{
		Build: BuildConfig{
			Command: "npm run build",
		},
		Local: LocalConfig{
			RemoveArchive: true,
		},
		Remote: RemoteConfig{
			MaxBackupCount: 5,
			WorkDir:        "/",
		},
		Upload: UploadConfig{
			RetryCount: 3,
			RetryDelay: Duration{300 * time.Millisecond},
		},
		Mode: ModeConfig{
			Concurrent: true,
		},
		Log: LogConfig{
			Level: "info",
		},
		Health: HealthConfig{
			Timeout:  Duration{30 * time.Second},
			Interval: Duration{2 * time.Second},
		},
	}
}

// Load reads a .toml or .yml/.yaml file over the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		cfg.applyEnv()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported format %q (use .toml or .yaml)", filepath.Ext(path))
	}

	cfg.Path = path
	cfg.resolvePaths(filepath.Dir(path))
	cfg.applyEnv()
	return cfg, nil
}

// resolvePaths makes local paths relative to the config file's directory.
func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		p = expandHome(p)
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	c.Local.DistDir = abs(c.Local.DistDir)
	c.Local.ArchivePath = abs(c.Local.ArchivePath)
	if c.Build.ProjectDir == "" {
		c.Build.ProjectDir = base
	} else {
		c.Build.ProjectDir = abs(c.Build.ProjectDir)
	}
	for i := range c.Hosts {
		c.Hosts[i].PrivateKey = abs(c.Hosts[i].PrivateKey)
		c.Hosts[i].KnownHosts = abs(c.Hosts[i].KnownHosts)
	}
}

// applyEnv fills secrets that should not live in the file.
func (c *Config) applyEnv() {
	password := os.Getenv("RDEPLOY_PASSWORD")
	passphrase := os.Getenv("RDEPLOY_KEY_PASSPHRASE")
	for i := range c.Hosts {
		h := &c.Hosts[i]
		if h.Port == 0 {
			h.Port = 22
		}
		if h.Password == "" && password != "" {
			h.Password = password
		}
		if h.Passphrase == "" && passphrase != "" {
			h.Passphrase = passphrase
		}
	}
	if lvl := os.Getenv("RDEPLOY_LOG_LEVEL"); lvl != "" {
		c.Log.Level = lvl
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
