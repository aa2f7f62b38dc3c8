package logging

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

var stageStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5"))

// NewBase builds the process logger that every DeployLogger writes through.
func NewBase(out io.Writer, level string) (*logrus.Logger, error) {
	lvl := logrus.InfoLevel
	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		lvl = parsed
	}
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l, nil
}

// Discard returns a DeployLogger that still records lines but prints nothing.
func Discard() *DeployLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewDeployLogger("", l, nil)
}

// sink is shared by a logger and every host-scoped logger derived from it.
type sink struct {
	runID  string
	mu     sync.Mutex
	lines  []string
	onLine func(runID, line string)
}

// DeployLogger records every line of a deploy run and forwards it to logrus
// and to an optional line callback (the live log stream).
type DeployLogger struct {
	sink   *sink
	entry  *logrus.Entry
	prefix string
}

func NewDeployLogger(runID string, base *logrus.Logger, onLine func(runID, line string)) *DeployLogger {
	if base == nil {
		base = logrus.StandardLogger()
	}
	entry := logrus.NewEntry(base)
	if runID != "" {
		entry = entry.WithField("run", shortID(runID))
	}
	return &DeployLogger{
		sink:  &sink{runID: runID, onLine: onLine},
		entry: entry,
	}
}

// WithHost returns a logger that prefixes lines with the host name and shares
// this logger's line buffer.
func (l *DeployLogger) WithHost(name string) *DeployLogger {
	return &DeployLogger{
		sink:   l.sink,
		entry:  l.entry.WithField("host", name),
		prefix: "[" + name + "] ",
	}
}

func (l *DeployLogger) RunID() string { return l.sink.runID }

func (l *DeployLogger) Log(format string, args ...any) {
	l.record(logrus.InfoLevel, fmt.Sprintf(format, args...))
}

func (l *DeployLogger) Success(format string, args ...any) {
	l.record(logrus.InfoLevel, "ok: "+fmt.Sprintf(format, args...))
}

func (l *DeployLogger) Warn(format string, args ...any) {
	l.record(logrus.WarnLevel, fmt.Sprintf(format, args...))
}

func (l *DeployLogger) Error(format string, args ...any) {
	l.record(logrus.ErrorLevel, fmt.Sprintf(format, args...))
}

// Debug lines go to logrus only; they are not part of the run transcript.
func (l *DeployLogger) Debug(format string, args ...any) {
	l.entry.Debugf(l.prefix+format, args...)
}

// Stage marks the start of a pipeline stage.
func (l *DeployLogger) Stage(name string) {
	line := "▶ " + name
	l.append(line)
	l.entry.Info(stageStyle.Render(l.prefix + line))
}

// Progress returns a reporter for one transfer. Output is throttled to 10%
// steps.
func (l *DeployLogger) Progress(label string) func(current, total int64) {
	last := -1
	return func(current, total int64) {
		if total <= 0 {
			return
		}
		pct := int(current*100/total) / 10 * 10
		if pct == last {
			return
		}
		last = pct
		l.Log("%s %s / %s (%d%%)", label, humanize.IBytes(uint64(current)), humanize.IBytes(uint64(total)), pct)
	}
}

// Writer returns a writer that records each complete line written to it.
// Close flushes a trailing partial line.
func (l *DeployLogger) Writer() io.WriteCloser {
	return &lineWriter{log: l}
}

func (l *DeployLogger) Lines() []string {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	cp := make([]string, len(l.sink.lines))
	copy(cp, l.sink.lines)
	return cp
}

func (l *DeployLogger) record(level logrus.Level, line string) {
	l.append(line)
	l.entry.Log(level, l.prefix+line)
}

func (l *DeployLogger) append(line string) {
	ts := time.Now().Format("15:04:05")
	full := fmt.Sprintf("[%s] %s%s", ts, l.prefix, line)

	l.sink.mu.Lock()
	l.sink.lines = append(l.sink.lines, full)
	l.sink.mu.Unlock()

	if l.sink.onLine != nil {
		l.sink.onLine(l.sink.runID, full)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type lineWriter struct {
	log *DeployLogger
	mu  sync.Mutex
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
	return nil
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) > 0 {
		w.log.Log("%s", line)
	}
}
