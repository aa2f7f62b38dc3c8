package backup

import (
	"os"
	"path"
	"regexp"
	"sort"
	"time"

	"github.com/reviewapps-dev/rdeploy/internal/remote"
)

// namePattern matches the daily backup files this package writes.
var namePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.tar\.gz$`)

// FileName is the backup name for the given day, in local time.
func FileName(day time.Time) string {
	return day.Format("2006-01-02") + ".tar.gz"
}

// Entry is one file found in the backup directory.
type Entry struct {
	Name    string
	ModTime time.Time
}

// SelectForDeletion returns the backups that exceed keep, oldest first.
// Files not named like a daily backup are never selected. keep <= 0 keeps
// everything.
func SelectForDeletion(entries []Entry, keep int) []Entry {
	if keep <= 0 {
		return nil
	}

	var backups []Entry
	for _, e := range entries {
		if namePattern.MatchString(e.Name) {
			backups = append(backups, e)
		}
	}
	if len(backups) <= keep {
		return nil
	}

	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].ModTime.Equal(backups[j].ModTime) {
			return backups[i].ModTime.Before(backups[j].ModTime)
		}
		return backups[i].Name < backups[j].Name
	})
	return backups[:len(backups)-keep]
}

// PruneResult lists what a prune pass removed and what it could not.
type PruneResult struct {
	Deleted []string
	Failed  map[string]error
}

// Prune deletes the surplus backups in dir. Each deletion is attempted
// independently; failures are collected, not returned early.
func Prune(fs remote.FileSystem, dir string, keep int) (*PruneResult, error) {
	res := &PruneResult{}
	if keep <= 0 {
		return res, nil
	}

	infos, err := fs.ReadDir(dir)
	if err != nil {
		return res, err
	}
	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		if fi.Mode().IsRegular() {
			entries = append(entries, Entry{Name: fi.Name(), ModTime: fi.ModTime()})
		}
	}

	for _, e := range SelectForDeletion(entries, keep) {
		p := path.Join(dir, e.Name)
		if err := fs.Remove(p); err != nil && !os.IsNotExist(err) {
			if res.Failed == nil {
				res.Failed = map[string]error{}
			}
			res.Failed[e.Name] = err
			continue
		}
		res.Deleted = append(res.Deleted, e.Name)
	}
	return res, nil
}
