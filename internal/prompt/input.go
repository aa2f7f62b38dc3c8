package prompt

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
)

// ErrAborted means interactive input ended before an answer arrived: Ctrl+C,
// a cancelled context or a closed stdin.
var ErrAborted = errors.New("input aborted")

// IsAborted reports whether err came from the user walking away.
func IsAborted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}

func mapInputError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		return ErrAborted
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "use of closed file") ||
		strings.Contains(msg, "bad file descriptor") ||
		strings.Contains(msg, "file already closed") {
		return ErrAborted
	}
	return err
}

// ReadLine reads one line and gives up when ctx is done.
func ReadLine(ctx context.Context, r *bufio.Reader) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		ch <- result{line: line, err: mapInputError(err)}
	}()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", context.DeadlineExceeded
		}
		return "", ErrAborted
	case res := <-ch:
		return res.line, res.err
	}
}

// ReadPassword reads without echo through readPassword (term.ReadPassword
// in production) and gives up when ctx is done.
func ReadPassword(ctx context.Context, readPassword func(int) ([]byte, error), fd int) ([]byte, error) {
	if readPassword == nil {
		return nil, errors.New("readPassword function is nil")
	}
	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := readPassword(fd)
		ch <- result{b: b, err: mapInputError(err)}
	}()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, ErrAborted
	case res := <-ch:
		return res.b, res.err
	}
}
