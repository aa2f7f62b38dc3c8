// Package backup keeps a dated copy of each deployed archive on the remote
// host and rotates old copies out.
package backup

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/reviewapps-dev/rdeploy/internal/deployerr"
	"github.com/reviewapps-dev/rdeploy/internal/logging"
	"github.com/reviewapps-dev/rdeploy/internal/remote"
)

type Method string

const (
	MethodSkipped Method = "skipped" // today's backup already existed
	MethodCopy    Method = "copy"    // remote cp of the uploaded archive
	MethodUpload  Method = "upload"  // local archive sent again
	MethodFailed  Method = "failed"
)

type Result struct {
	Path   string
	Method Method
	Pruned []string
	// PruneFailed maps backup names to the error that kept them alive.
	PruneFailed map[string]error
}

type Manager struct {
	Dir      string
	MaxCount int
	Log      *logging.DeployLogger

	// Now picks the backup's date. Defaults to time.Now.
	Now func() time.Time
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Manager) log() *logging.DeployLogger {
	if m.Log != nil {
		return m.Log
	}
	return logging.Discard()
}

// Run stores today's backup of the deployed archive. remoteArchive is the
// just-uploaded copy on the host; localArchive is sent again when the
// remote copy cannot be made. Every error returned is KindBackup, which is
// soft: the caller logs it and carries on.
func (m *Manager) Run(ctx context.Context, conn remote.Conn, localArchive, remoteArchive string) (*Result, error) {
	log := m.log()
	target := path.Join(m.Dir, FileName(m.now()))
	res := &Result{Path: target, Method: MethodFailed}

	if err := m.ensureDir(conn); err != nil {
		return res, err
	}

	if _, err := conn.Stat(target); err == nil {
		log.Warn("backup %s already exists, skipping", target)
		res.Method = MethodSkipped
		return res, nil
	} else if !os.IsNotExist(err) {
		return res, deployerr.Wrap(deployerr.KindBackup, err, "stat "+target)
	}

	copyErr := m.copyRemote(ctx, conn, remoteArchive, target)
	if copyErr == nil {
		res.Method = MethodCopy
	} else {
		log.Debug("remote copy failed, uploading instead: %v", copyErr)
		if err := conn.Put(ctx, localArchive, target, log.Progress("backup")); err != nil {
			return res, deployerr.Wrap(deployerr.KindBackup, err, fmt.Sprintf("store %s (copy: %v)", target, copyErr))
		}
		res.Method = MethodUpload
	}
	log.Success("backup stored at %s (%s)", target, res.Method)

	pruned, err := Prune(conn, m.Dir, m.MaxCount)
	if err != nil {
		log.Warn("could not list %s for pruning: %v", m.Dir, err)
		return res, nil
	}
	res.Pruned = pruned.Deleted
	res.PruneFailed = pruned.Failed
	for _, name := range pruned.Deleted {
		log.Log("removed old backup %s", name)
	}
	for name, err := range pruned.Failed {
		log.Warn("could not remove old backup %s: %v", name, err)
	}
	return res, nil
}

func (m *Manager) ensureDir(conn remote.Conn) error {
	info, err := conn.Stat(m.Dir)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return deployerr.Newf(deployerr.KindBackup, "backup path %s exists and is not a directory", m.Dir)
	case !os.IsNotExist(err):
		return deployerr.Wrap(deployerr.KindBackup, err, "stat "+m.Dir)
	}
	if err := conn.MkdirAll(m.Dir); err != nil {
		return deployerr.Wrap(deployerr.KindBackup, err, "create "+m.Dir)
	}
	return nil
}

func (m *Manager) copyRemote(ctx context.Context, conn remote.Conn, src, dst string) error {
	if _, err := conn.Stat(src); err != nil {
		return err
	}
	res, err := conn.Exec(ctx, shellquote.Join("cp", "-f", src, dst))
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("cp exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}
