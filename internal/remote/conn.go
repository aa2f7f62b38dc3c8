package remote

import (
	"context"
	"os"

	"github.com/reviewapps-dev/rdeploy/internal/config"
)

// ProgressFunc receives bytes transferred so far and the total size.
type ProgressFunc func(current, total int64)

// Result is what a remote command left behind. A non-zero exit code is not
// an error at this layer; callers decide what it means.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// The channel closed without ever reporting an exit status.
	ExitMissing bool
}

func (r *Result) OK() bool {
	return r != nil && !r.ExitMissing && r.ExitCode == 0
}

// FileSystem is the SFTP side of a connection.
type FileSystem interface {
	Stat(path string) (os.FileInfo, error)
	ReadDir(path string) ([]os.FileInfo, error)
	Remove(path string) error
	MkdirAll(path string) error
	Put(ctx context.Context, localPath, remotePath string, progress ProgressFunc) error
}

// Conn is one authenticated connection to one host.
type Conn interface {
	FileSystem

	// Exec runs cmd on a fresh session and collects its output.
	Exec(ctx context.Context, cmd string) (*Result, error)

	// Shell opens an interactive shell, writes script to its stdin and waits
	// for the shell to report an exit status.
	Shell(ctx context.Context, script string) (*Result, error)

	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, host config.Host) (Conn, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context, host config.Host) (Conn, error)

func (f DialFunc) Dial(ctx context.Context, host config.Host) (Conn, error) {
	return f(ctx, host)
}

// WithConn dials host, runs fn and closes the connection whatever happens.
func WithConn(ctx context.Context, d Dialer, host config.Host, fn func(Conn) error) error {
	conn, err := d.Dial(ctx, host)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}
