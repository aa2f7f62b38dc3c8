package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewapps-dev/rdeploy/internal/config"
	"github.com/reviewapps-dev/rdeploy/internal/deployerr"
	"github.com/reviewapps-dev/rdeploy/internal/remote"
	"github.com/reviewapps-dev/rdeploy/internal/remote/remotetest"
)

var today = time.Date(2024, 5, 10, 14, 0, 0, 0, time.Local)

const (
	backupDir     = "/home/deploy/backups"
	remoteArchive = "/home/deploy/dist.tar.gz"
)

type fixture struct {
	host  *remotetest.Host
	conn  remote.Conn
	local string
	mgr   *Manager
}

func newFixture(t *testing.T, maxCount int) *fixture {
	t.Helper()
	local := filepath.Join(t.TempDir(), "dist.tar.gz")
	require.NoError(t, os.WriteFile(local, []byte("archive"), 0o644))

	d := remotetest.NewDialer()
	h := d.Host("web")
	h.Now = func() time.Time { return today }
	conn, err := d.Dial(context.Background(), config.Host{Host: "web"})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &fixture{
		host:  h,
		conn:  conn,
		local: local,
		mgr:   &Manager{Dir: backupDir, MaxCount: maxCount, Now: func() time.Time { return today }},
	}
}

func (f *fixture) run(t *testing.T) (*Result, error) {
	t.Helper()
	return f.mgr.Run(context.Background(), f.conn, f.local, remoteArchive)
}

func TestRunCopiesUploadedArchive(t *testing.T) {
	f := newFixture(t, 5)
	f.host.WriteFile(remoteArchive, []byte("uploaded"), today)

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, MethodCopy, res.Method)
	assert.Equal(t, backupDir+"/2024-05-10.tar.gz", res.Path)
	assert.True(t, f.host.IsDir(backupDir))

	data, ok := f.host.ReadFile(res.Path)
	require.True(t, ok)
	assert.Equal(t, "uploaded", string(data))
	assert.Zero(t, f.host.Puts())
}

func TestRunCopiesPathsWithSpaces(t *testing.T) {
	f := newFixture(t, 5)
	f.mgr.Dir = "/home/deploy/my backups"
	src := "/home/deploy/it's here.tar.gz"
	f.host.WriteFile(src, []byte("uploaded"), today)

	res, err := f.mgr.Run(context.Background(), f.conn, f.local, src)
	require.NoError(t, err)
	assert.Equal(t, MethodCopy, res.Method)
	assert.Equal(t, "/home/deploy/my backups/2024-05-10.tar.gz", res.Path)

	data, ok := f.host.ReadFile(res.Path)
	require.True(t, ok)
	assert.Equal(t, "uploaded", string(data))
	assert.Zero(t, f.host.Puts())
}

func TestRunSkipsWhenTodayExists(t *testing.T) {
	f := newFixture(t, 5)
	f.host.WriteFile(remoteArchive, []byte("uploaded"), today)
	f.host.WriteFile(backupDir+"/2024-05-10.tar.gz", []byte("morning"), today.Add(-time.Hour))

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, MethodSkipped, res.Method)

	data, _ := f.host.ReadFile(backupDir + "/2024-05-10.tar.gz")
	assert.Equal(t, "morning", string(data), "existing backup untouched")
	assert.Empty(t, f.host.Commands())
	assert.Zero(t, f.host.Puts())
}

func TestRunFallsBackToUploadWhenCopyFails(t *testing.T) {
	f := newFixture(t, 5)
	f.host.WriteFile(remoteArchive, []byte("uploaded"), today)
	f.host.CopyExitCode = 1

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, MethodUpload, res.Method)
	data, _ := f.host.ReadFile(res.Path)
	assert.Equal(t, "archive", string(data))
	assert.Equal(t, 1, f.host.Puts())
}

func TestRunFallsBackToUploadWhenRemoteSourceMissing(t *testing.T) {
	f := newFixture(t, 5)

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, MethodUpload, res.Method)
	assert.Empty(t, f.host.Commands(), "no cp attempted without a source")
}

func TestRunSoftFailsWhenBothPathsFail(t *testing.T) {
	f := newFixture(t, 5)
	f.host.CopyExitCode = 1
	f.host.PutFailures = 1
	f.host.WriteFile(remoteArchive, []byte("uploaded"), today)

	res, err := f.run(t)
	require.Error(t, err)
	assert.True(t, deployerr.Is(err, deployerr.KindBackup))
	assert.Equal(t, deployerr.SeveritySoft, deployerr.KindOf(err).Severity())
	assert.Equal(t, MethodFailed, res.Method)
}

func TestRunRejectsFileAsBackupDir(t *testing.T) {
	f := newFixture(t, 5)
	f.host.WriteFile(backupDir, []byte("oops"), today)

	_, err := f.run(t)
	require.Error(t, err)
	assert.ErrorContains(t, err, "not a directory")
}

func TestRunPrunesOldest(t *testing.T) {
	f := newFixture(t, 3)
	f.host.WriteFile(remoteArchive, []byte("uploaded"), today)
	for i := 1; i <= 4; i++ {
		day := today.AddDate(0, 0, -i)
		f.host.WriteFile(backupDir+"/"+FileName(day), nil, day)
	}
	f.host.WriteFile(backupDir+"/notes.txt", nil, today.AddDate(-1, 0, 0))

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-06.tar.gz", "2024-05-07.tar.gz"}, res.Pruned)
	assert.Equal(t, []string{
		backupDir + "/2024-05-08.tar.gz",
		backupDir + "/2024-05-09.tar.gz",
		backupDir + "/2024-05-10.tar.gz",
		backupDir + "/notes.txt",
	}, filesUnder(f.host, backupDir))
}

func TestRunPruneFailureIsRecorded(t *testing.T) {
	f := newFixture(t, 1)
	f.host.WriteFile(remoteArchive, []byte("uploaded"), today)
	old := backupDir + "/2024-01-01.tar.gz"
	f.host.WriteFile(old, nil, today.AddDate(0, -4, 0))
	f.host.RemoveErr = map[string]error{old: errors.New("permission denied")}

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Empty(t, res.Pruned)
	assert.Contains(t, res.PruneFailed, "2024-01-01.tar.gz")
}

func TestRunWithoutLimitKeepsEverything(t *testing.T) {
	f := newFixture(t, 0)
	f.host.WriteFile(remoteArchive, []byte("uploaded"), today)
	for i := 1; i <= 10; i++ {
		day := today.AddDate(0, 0, -i)
		f.host.WriteFile(backupDir+"/"+FileName(day), nil, day)
	}

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Empty(t, res.Pruned)
	assert.Len(t, filesUnder(f.host, backupDir), 11)
}

func filesUnder(h *remotetest.Host, dir string) []string {
	var out []string
	for _, p := range h.Files() {
		if filepath.Dir(p) == dir {
			out = append(out, p)
		}
	}
	return out
}

func TestFileName(t *testing.T) {
	for _, day := range []time.Time{today, time.Date(1999, 12, 31, 23, 59, 0, 0, time.UTC)} {
		name := FileName(day)
		assert.Regexp(t, namePattern, name, fmt.Sprint(day))
	}
}
