package deploy

import (
	"context"
	"path"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/reviewapps-dev/rdeploy/internal/config"
	"github.com/reviewapps-dev/rdeploy/internal/remote"
)

const (
	DefaultRetryCount     = 3
	DefaultRetryDelay     = 300 * time.Millisecond
	DefaultMaxBackupCount = 5
	DefaultBuildCommand   = "npm run build"
)

// UploadFunc replaces the archive transfer inside each upload attempt.
type UploadFunc func(ctx context.Context, sc *StageContext, conn remote.Conn) error

// ActivateFunc replaces the activation command for one host.
type ActivateFunc func(ctx context.Context, sc *StageContext, conn remote.Conn) error

// Request describes one deploy run. It is copied when the run starts;
// changing it afterwards has no effect on that run.
type Request struct {
	Hosts []config.Host

	BuildCommand string
	ProjectDir   string
	SkipBuild    bool

	DistDir       string
	ArchivePath   string
	RemoveArchive bool

	RemoteArchivePath string
	ActivationDir     string
	BackupDir         string // empty disables backups
	MaxBackupCount    int    // <= 0 keeps every backup
	RemoteWorkDir     string
	ActivateCommand   string // empty uses DefaultActivateCommand

	RetryCount  int
	RetryDelay  time.Duration
	Concurrent  bool
	MaxParallel int // caps concurrent hosts; 0 means no cap
	Interactive bool

	Hooks    Hooks
	OnError  ErrorHook
	Upload   UploadFunc
	Activate ActivateFunc
}

// NewRequest returns a request with the documented defaults filled in.
func NewRequest() *Request {
	return &Request{
		BuildCommand:   DefaultBuildCommand,
		RemoveArchive:  true,
		MaxBackupCount: DefaultMaxBackupCount,
		RemoteWorkDir:  "/",
		RetryCount:     DefaultRetryCount,
		RetryDelay:     DefaultRetryDelay,
		Concurrent:     true,
	}
}

// RequestFromConfig maps a loaded config file onto a request. Hooks and
// overrides are left for the caller.
func RequestFromConfig(cfg *config.Config) *Request {
	return &Request{
		Hosts:             append([]config.Host(nil), cfg.Hosts...),
		BuildCommand:      cfg.Build.Command,
		ProjectDir:        cfg.Build.ProjectDir,
		SkipBuild:         cfg.Build.Skip,
		DistDir:           cfg.Local.DistDir,
		ArchivePath:       cfg.Local.ArchivePath,
		RemoveArchive:     cfg.Local.RemoveArchive,
		RemoteArchivePath: cfg.Remote.ArchivePath,
		ActivationDir:     cfg.Remote.ActivationDir,
		BackupDir:         cfg.Remote.BackupDir,
		MaxBackupCount:    cfg.Remote.MaxBackupCount,
		RemoteWorkDir:     cfg.Remote.WorkDir,
		ActivateCommand:   cfg.Remote.ActivateCommand,
		RetryCount:        cfg.Upload.RetryCount,
		RetryDelay:        cfg.Upload.RetryDelay.Duration,
		MaxParallel:       cfg.Upload.MaxParallel,
		Concurrent:        cfg.Mode.Concurrent,
		Interactive:       cfg.Mode.Interactive,
	}
}

// normalized returns a copy with zero values defaulted and remote paths in
// slash form.
func (r Request) normalized() Request {
	r.Hosts = append([]config.Host(nil), r.Hosts...)
	if r.RetryCount <= 0 {
		r.RetryCount = DefaultRetryCount
	}
	if r.RetryDelay < 0 {
		r.RetryDelay = 0
	}
	if r.RemoteWorkDir == "" {
		r.RemoteWorkDir = "/"
	}
	if r.BuildCommand == "" {
		r.BuildCommand = DefaultBuildCommand
	}
	r.RemoteArchivePath = cleanRemote(r.RemoteArchivePath)
	r.ActivationDir = cleanRemote(r.ActivationDir)
	r.BackupDir = cleanRemote(r.BackupDir)
	r.RemoteWorkDir = cleanRemote(r.RemoteWorkDir)
	return r
}

func cleanRemote(p string) string {
	if p == "" {
		return ""
	}
	return path.Clean(remote.ToUnixPath(p))
}

// activationCommand is the script written to each host's shell.
func (r *Request) activationCommand() string {
	if r.ActivateCommand != "" {
		return r.ActivateCommand
	}
	return DefaultActivateCommand(r.RemoteWorkDir, r.ActivationDir, r.RemoteArchivePath)
}

// DefaultActivateCommand clears dir, unpacks archive into it, removes the
// archive and exits the shell.
func DefaultActivateCommand(cwd, dir, archive string) string {
	return shellquote.Join("cd", cwd) +
		" && " + shellquote.Join("rm", "-rf", dir) +
		" && " + shellquote.Join("mkdir", "-p", dir) +
		" && " + shellquote.Join("tar", "-xzf", archive, "-C", dir) +
		" && " + shellquote.Join("rm", "-rf", archive) +
		" && exit"
}
