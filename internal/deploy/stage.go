package deploy

import (
	"time"

	"github.com/reviewapps-dev/rdeploy/internal/archive"
	"github.com/reviewapps-dev/rdeploy/internal/config"
	"github.com/reviewapps-dev/rdeploy/internal/logging"
	"github.com/reviewapps-dev/rdeploy/internal/remote"
)

type Stage string

const (
	StageValidate Stage = "validate"
	StageBuild    Stage = "build"
	StageCompress Stage = "compress"
	StageConnect  Stage = "connect"
	StageUpload   Stage = "upload"
	StageBackup   Stage = "backup"
	StageActivate Stage = "activate"
	StageCleanup  Stage = "cleanup"
)

// hostScoped reports whether a failure in s only concerns one host.
func (s Stage) hostScoped() bool {
	switch s {
	case StageConnect, StageUpload, StageBackup, StageActivate:
		return true
	}
	return false
}

// StageContext is handed to hooks, overrides and the error hook.
type StageContext struct {
	Stage     Stage
	StartedAt time.Time

	// Host is nil and HostIndex -1 for pipeline-wide stages.
	Host      *config.Host
	HostIndex int
	Attempt   int

	Request *Request
	Logger  *logging.DeployLogger
	Shell   *RemoteShell

	// Conn is the host's connection once connected. Hooks must not close it.
	Conn remote.Conn

	// Archive is set once the compress stage has run.
	Archive *archive.Result
}

// HostName is the display name of the context's host, or "".
func (sc *StageContext) HostName() string {
	if sc == nil || sc.Host == nil {
		return ""
	}
	return sc.Host.DisplayName()
}

// at returns a copy of sc moved to another stage.
func (sc *StageContext) at(stage Stage) *StageContext {
	cp := *sc
	cp.Stage = stage
	cp.StartedAt = time.Now()
	return &cp
}
