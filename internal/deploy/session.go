package deploy

import (
	"sync"

	"github.com/reviewapps-dev/rdeploy/internal/config"
	"github.com/reviewapps-dev/rdeploy/internal/logging"
	"github.com/reviewapps-dev/rdeploy/internal/remote"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// session is one host's connection for the length of a run. It is only
// touched by that host's goroutine until teardown.
type session struct {
	index    int
	host     config.Host
	log      *logging.DeployLogger
	conn     remote.Conn
	status   Status
	attempts int

	closeOnce sync.Once
}

func newSession(index int, host config.Host, log *logging.DeployLogger) *session {
	return &session{
		index:  index,
		host:   host,
		log:    log.WithHost(host.DisplayName()),
		status: StatusPending,
	}
}

// ready reports whether the session may be activated.
func (s *session) ready() bool {
	return s.conn != nil && s.status == StatusPending
}

// close releases the connection once. Errors are logged and dropped.
func (s *session) close() {
	s.closeOnce.Do(func() {
		if s.conn == nil {
			return
		}
		if err := s.conn.Close(); err != nil {
			s.log.Debug("close: %v", err)
		}
	})
}
