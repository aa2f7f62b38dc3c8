package deploy

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/reviewapps-dev/rdeploy/internal/archive"
	"github.com/reviewapps-dev/rdeploy/internal/backup"
)

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"  // every host deployed
	OutcomePartial  Outcome = "partial"  // at least one host deployed
	OutcomeFailed   Outcome = "failed"   // no host deployed
	OutcomeDeclined Outcome = "declined" // the operator said no at a gate
	OutcomeAborted  Outcome = "aborted"  // a pipeline stage failed and the error hook handled it
)

type HostResult struct {
	Index    int           `json:"index"`
	Host     string        `json:"host"`
	Status   Status        `json:"status"`
	Stage    Stage         `json:"failed_stage,omitempty"`
	Attempts int           `json:"attempts"`
	Backup   backup.Method `json:"backup,omitempty"`
	Handled  bool          `json:"handled,omitempty"`
	Error    string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`

	Err error `json:"-"`
}

type Summary struct {
	RunID     string          `json:"run_id"`
	Outcome   Outcome         `json:"outcome"`
	StoppedAt Stage           `json:"stopped_at,omitempty"`
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Hosts     []HostResult    `json:"hosts"`
	Archive   *archive.Result `json:"archive,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Elapsed   time.Duration   `json:"elapsed"`
}

// reduce fills the counters from per-host results after every host is done.
func (s *Summary) reduce(results []HostResult) {
	s.Hosts = results
	s.Total = len(results)
	s.Succeeded, s.Failed = 0, 0
	for i := range results {
		if results[i].Err != nil && results[i].Error == "" {
			results[i].Error = results[i].Err.Error()
		}
		if results[i].Status == StatusSuccess {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	switch {
	case s.Total > 0 && s.Succeeded == s.Total:
		s.Outcome = OutcomeSuccess
	case s.Succeeded > 0:
		s.Outcome = OutcomePartial
	default:
		s.Outcome = OutcomeFailed
	}
}

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// Table renders the end-of-run report.
func (s *Summary) Table() string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("HOST", "STATUS", "ATTEMPTS", "BACKUP", "TIME", "ERROR")

	for _, h := range s.Hosts {
		status := okStyle.Render(string(h.Status))
		if h.Status != StatusSuccess {
			status = failStyle.Render(string(h.Status))
		}
		backupCol := string(h.Backup)
		if backupCol == "" {
			backupCol = "-"
		}
		t.Row(h.Host, status, strconv.Itoa(h.Attempts), backupCol, h.Elapsed.Round(time.Millisecond).String(), h.Error)
	}

	footer := fmt.Sprintf("%s: %d total, %d succeeded, %d failed in %s",
		s.Outcome, s.Total, s.Succeeded, s.Failed, s.Elapsed.Round(time.Millisecond))
	if s.Archive != nil {
		footer += fmt.Sprintf(" (archive %s)", humanize.IBytes(uint64(s.Archive.Bytes)))
	}
	if len(s.Hosts) == 0 {
		return footer
	}
	return t.Render() + "\n" + footer
}
