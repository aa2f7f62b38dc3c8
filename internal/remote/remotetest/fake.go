// Package remotetest provides an in-memory remote.Dialer for tests.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/reviewapps-dev/rdeploy/internal/config"
	"github.com/reviewapps-dev/rdeploy/internal/remote"
)

var (
	// ErrUnreachable is what a dial to an unreachable fake host returns.
	ErrUnreachable = errors.New("connect: connection refused")
	// ErrClosed is returned by any operation on a closed connection.
	ErrClosed = errors.New("use of closed connection")
)

// Host is one fake machine: a flat file store plus fault switches. All
// exported fields must be set before the dialer is used.
type Host struct {
	// Unreachable makes every dial fail.
	Unreachable bool
	// DialFailures fails this many dials before the first success.
	DialFailures int
	// PutFailures fails this many uploads before the first success.
	PutFailures int
	// PutDelay holds every upload open for a while.
	PutDelay time.Duration
	// CopyExitCode is returned by "cp" commands when non-zero.
	CopyExitCode int
	// ExecExitCodes fails any command containing a key with its exit code.
	ExecExitCodes map[string]int
	// RemoveErr fails Remove for the listed paths.
	RemoveErr map[string]error
	// ShellResult replaces the default successful shell result.
	ShellResult *remote.Result
	// ShellErr is returned from Shell as a transport error.
	ShellErr error
	// Now stamps new files. Defaults to time.Now.
	Now func() time.Time

	mu       sync.Mutex
	files    map[string]*file
	dirs     map[string]bool
	dials    int
	puts     int
	closes   int
	commands []string
	scripts  []string
}

type file struct {
	data  []byte
	mtime time.Time
}

func NewHost() *Host {
	return &Host{files: map[string]*file{}, dirs: map[string]bool{"/": true}}
}

// WriteFile places a file on the fake host, creating parent dirs.
func (h *Host) WriteFile(p string, data []byte, mtime time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mkdirAll(path.Dir(p))
	h.files[path.Clean(p)] = &file{data: append([]byte(nil), data...), mtime: mtime}
}

func (h *Host) ReadFile(p string) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.files[path.Clean(p)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), f.data...), true
}

// Files lists every file path, sorted.
func (h *Host) Files() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.files))
	for p := range h.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (h *Host) Dials() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials
}

func (h *Host) Puts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.puts
}

func (h *Host) Closes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

func (h *Host) IsDir(p string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dirs[path.Clean(p)]
}

func (h *Host) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}

func (h *Host) Scripts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.scripts...)
}

func (h *Host) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Host) mkdirAll(p string) {
	for p = path.Clean(p); ; p = path.Dir(p) {
		h.dirs[p] = true
		if p == "/" || p == "." {
			return
		}
	}
}

// Dialer hands out connections to fake hosts keyed by address.
type Dialer struct {
	mu          sync.Mutex
	hosts       map[string]*Host
	inFlight    int
	maxInFlight int
}

func NewDialer() *Dialer {
	return &Dialer{hosts: map[string]*Host{}}
}

// Host returns the fake for addr, creating it on first use.
func (d *Dialer) Host(addr string) *Host {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.hosts[addr]
	if !ok {
		h = NewHost()
		d.hosts[addr] = h
	}
	return h
}

// MaxInFlight is the highest number of uploads seen running at once.
func (d *Dialer) MaxInFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxInFlight
}

func (d *Dialer) Dial(ctx context.Context, cfg config.Host) (remote.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := d.Host(cfg.Host)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.dials++
	if h.Unreachable {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr(), ErrUnreachable)
	}
	if h.DialFailures > 0 {
		h.DialFailures--
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr(), ErrUnreachable)
	}
	return &conn{host: h, dialer: d}, nil
}

type conn struct {
	host   *Host
	dialer *Dialer
	closed bool
}

func (c *conn) Exec(ctx context.Context, cmd string) (*remote.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := c.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	h.commands = append(h.commands, cmd)
	for match, code := range h.ExecExitCodes {
		if strings.Contains(cmd, match) {
			return &remote.Result{ExitCode: code, Stderr: "failed"}, nil
		}
	}

	fields, err := shellquote.Split(cmd)
	if err != nil {
		return &remote.Result{ExitCode: 2, Stderr: err.Error()}, nil
	}
	switch {
	case len(fields) == 4 && fields[0] == "cp" && fields[1] == "-f":
		if h.CopyExitCode != 0 {
			return &remote.Result{ExitCode: h.CopyExitCode, Stderr: "cp: failed"}, nil
		}
		src, ok := h.files[path.Clean(fields[2])]
		if !ok {
			return &remote.Result{ExitCode: 1, Stderr: "cp: no such file"}, nil
		}
		dst := path.Clean(fields[3])
		h.mkdirAll(path.Dir(dst))
		h.files[dst] = &file{data: append([]byte(nil), src.data...), mtime: h.now()}
	case len(fields) == 3 && fields[0] == "mkdir" && fields[1] == "-p":
		h.mkdirAll(path.Clean(fields[2]))
	}
	return &remote.Result{}, nil
}

func (c *conn) Shell(ctx context.Context, script string) (*remote.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := c.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	h.scripts = append(h.scripts, script)
	if h.ShellErr != nil {
		return nil, h.ShellErr
	}
	if h.ShellResult != nil {
		res := *h.ShellResult
		return &res, nil
	}
	return &remote.Result{}, nil
}

func (c *conn) Put(ctx context.Context, localPath, remotePath string, progress remote.ProgressFunc) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	d := c.dialer
	d.mu.Lock()
	d.inFlight++
	if d.inFlight > d.maxInFlight {
		d.maxInFlight = d.inFlight
	}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.inFlight--
		d.mu.Unlock()
	}()

	h := c.host
	if h.PutDelay > 0 {
		select {
		case <-time.After(h.PutDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	h.puts++
	if h.PutFailures > 0 {
		h.PutFailures--
		return errors.New("sftp: connection lost")
	}
	p := path.Clean(remotePath)
	h.mkdirAll(path.Dir(p))
	h.files[p] = &file{data: data, mtime: h.now()}
	if progress != nil {
		progress(int64(len(data)), int64(len(data)))
	}
	return nil
}

func (c *conn) Stat(p string) (os.FileInfo, error) {
	h := c.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	p = path.Clean(p)
	if f, ok := h.files[p]; ok {
		return fileInfo{name: path.Base(p), size: int64(len(f.data)), mtime: f.mtime}, nil
	}
	if h.dirs[p] {
		return fileInfo{name: path.Base(p), dir: true}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
}

func (c *conn) ReadDir(p string) ([]os.FileInfo, error) {
	h := c.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	p = path.Clean(p)
	if !h.dirs[p] {
		return nil, &fs.PathError{Op: "readdir", Path: p, Err: fs.ErrNotExist}
	}
	var out []os.FileInfo
	for name, f := range h.files {
		if path.Dir(name) == p {
			out = append(out, fileInfo{name: path.Base(name), size: int64(len(f.data)), mtime: f.mtime})
		}
	}
	for dir := range h.dirs {
		if dir != p && path.Dir(dir) == p {
			out = append(out, fileInfo{name: path.Base(dir), dir: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func (c *conn) Remove(p string) error {
	h := c.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	p = path.Clean(p)
	if err := h.RemoveErr[p]; err != nil {
		return err
	}
	if _, ok := h.files[p]; !ok {
		return &fs.PathError{Op: "remove", Path: p, Err: fs.ErrNotExist}
	}
	delete(h.files, p)
	return nil
}

func (c *conn) MkdirAll(p string) error {
	h := c.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	h.mkdirAll(p)
	return nil
}

func (c *conn) Close() error {
	h := c.host
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	if c.closed {
		return errors.New("already closed")
	}
	c.closed = true
	return nil
}

type fileInfo struct {
	name  string
	size  int64
	mtime time.Time
	dir   bool
}

func (f fileInfo) Name() string { return f.name }
func (f fileInfo) Size() int64 { return f.size }
func (f fileInfo) ModTime() time.Time { return f.mtime }
func (f fileInfo) IsDir() bool { return f.dir }
func (f fileInfo) Sys() any { return nil }
func (f fileInfo) Mode() fs.FileMode {
	if f.dir {
		return fs.ModeDir | 0755
	}
	return 0644
}
