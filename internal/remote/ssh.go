package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/reviewapps-dev/rdeploy/internal/config"
	"github.com/reviewapps-dev/rdeploy/internal/deployerr"
)

// SSHDialer opens real connections: one ssh client plus one sftp
// subsystem per host.
type SSHDialer struct {
	// Timeout bounds the TCP dial and the ssh handshake. Zero means 30s.
	Timeout time.Duration

	// Passphrase is consulted for encrypted keys without a configured
	// passphrase.
	Passphrase PassphraseFunc

	keys keyCache
}

func (d *SSHDialer) Dial(ctx context.Context, host config.Host) (Conn, error) {
	name := host.DisplayName()
	fail := func(err error, msg string) error {
		return deployerr.Wrap(deployerr.KindConnect, err, msg).OnHost(name)
	}

	if host.Host == "" {
		return nil, deployerr.New(deployerr.KindConnect, "host has no address").OnHost(name)
	}

	auth, closeAgent, err := authMethods(host, &d.keys, d.Passphrase)
	if err != nil {
		return nil, fail(err, "auth")
	}
	hostKey, err := hostKeyCallback(host)
	if err != nil {
		closeAgent()
		return nil, fail(err, "host key")
	}

	timeout := d.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cfg := &ssh.ClientConfig{
		User:            host.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}

	addr := host.Addr()
	nd := net.Dialer{Timeout: timeout}
	tcp, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		closeAgent()
		return nil, fail(err, "dial "+addr)
	}
	// The handshake does not watch ctx; a deadline stands in for it.
	if deadline, ok := ctx.Deadline(); ok {
		tcp.SetDeadline(deadline)
	}
	sc, chans, reqs, err := ssh.NewClientConn(tcp, addr, cfg)
	if err != nil {
		tcp.Close()
		closeAgent()
		return nil, fail(err, "handshake "+addr)
	}
	tcp.SetDeadline(time.Time{})

	client := ssh.NewClient(sc, chans, reqs)
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		closeAgent()
		return nil, fail(err, "sftp subsystem")
	}

	return &Client{ssh: client, sftp: sftpClient, closeAgent: closeAgent}, nil
}

// Client is a Conn backed by golang.org/x/crypto/ssh and pkg/sftp.
type Client struct {
	ssh        *ssh.Client
	sftp       *sftp.Client
	closeAgent func()
}

func (c *Client) Exec(ctx context.Context, cmd string) (*Result, error) {
	return c.run(ctx, "", func(s *ssh.Session) error { return s.Run(cmd) })
}

func (c *Client) Shell(ctx context.Context, script string) (*Result, error) {
	if !strings.HasSuffix(script, "\n") {
		script += "\n"
	}
	return c.run(ctx, script, func(s *ssh.Session) error {
		if err := s.Shell(); err != nil {
			return err
		}
		return s.Wait()
	})
}

func (c *Client) run(ctx context.Context, stdin string, start func(*ssh.Session) error) (*Result, error) {
	session, err := c.ssh.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != "" {
		session.Stdin = strings.NewReader(stdin)
	}

	done := make(chan error, 1)
	go func() { done <- start(session) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		session.Signal(ssh.SIGTERM)
		session.Close()
		<-done
		return nil, ctx.Err()
	}

	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
	case errors.As(runErr, &missing):
		res.ExitMissing = true
	default:
		return res, runErr
	}
	return res, nil
}

func (c *Client) Put(ctx context.Context, localPath, remotePath string, progress ProgressFunc) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := c.sftp.MkdirAll(dir); err != nil {
			return fmt.Errorf("create remote dir %s: %w", dir, err)
		}
	}

	dst, err := c.sftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", remotePath, err)
	}

	total := info.Size()
	var sent int64
	r := &ctxReader{ctx: ctx, r: src, onRead: func(n int) {
		sent += int64(n)
		if progress != nil {
			progress(sent, total)
		}
	}}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close %s: %w", remotePath, err)
	}
	if total == 0 && progress != nil {
		progress(0, 0)
	}
	return nil
}

func (c *Client) Stat(p string) (os.FileInfo, error) { return c.sftp.Stat(p) }
func (c *Client) ReadDir(p string) ([]os.FileInfo, error) { return c.sftp.ReadDir(p) }
func (c *Client) Remove(p string) error { return c.sftp.Remove(p) }
func (c *Client) MkdirAll(p string) error { return c.sftp.MkdirAll(p) }

func (c *Client) Close() error {
	sftpErr := c.sftp.Close()
	sshErr := c.ssh.Close()
	c.closeAgent()
	if sftpErr != nil {
		return sftpErr
	}
	return sshErr
}

type ctxReader struct {
	ctx    context.Context
	r      io.Reader
	onRead func(int)
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.r.Read(p)
	if n > 0 {
		c.onRead(n)
	}
	return n, err
}
