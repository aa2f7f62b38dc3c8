package deploy

import (
	"fmt"
	"path"
	"strings"

	"github.com/reviewapps-dev/rdeploy/internal/deployerr"
)

// Validate checks a normalized request before anything touches the disk or
// the network. It reports every problem at once, in a fixed order.
func Validate(r *Request) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if r.DistDir == "" {
		add("local dist dir is required")
	}
	if r.ArchivePath == "" {
		add("local archive path is required")
	}
	if r.RemoteArchivePath == "" {
		add("remote archive path is required")
	}
	if r.ActivationDir == "" {
		add("remote activation dir is required")
	}
	if len(r.Hosts) == 0 {
		add("at least one host is required")
	}
	for i, h := range r.Hosts {
		if strings.TrimSpace(h.Host) == "" {
			add("host #%d has no address", i)
		}
	}

	if r.ActivationDir != "" {
		dir := path.Clean(r.ActivationDir)
		if dir == "/" {
			add("remote activation dir must not be /")
		}
		if r.RemoteArchivePath != "" && dir == path.Dir(path.Clean(r.RemoteArchivePath)) {
			add("remote activation dir %s must differ from the directory holding the remote archive %s (it is wiped before unpacking)", dir, r.RemoteArchivePath)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return deployerr.New(deployerr.KindConfig, strings.Join(problems, "; "))
}
