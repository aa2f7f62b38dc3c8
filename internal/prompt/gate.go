// Package prompt asks the operator before each deploy stage.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/reviewapps-dev/rdeploy/internal/config"
)

// Gate decides whether a stage may start.
type Gate interface {
	Confirm(ctx context.Context, title string, details []string) (bool, error)
}

// AutoApprove never asks.
type AutoApprove struct{}

func (AutoApprove) Confirm(context.Context, string, []string) (bool, error) { return true, nil }

// Terminal asks on a line-oriented reader. An empty answer means yes.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

func (t *Terminal) Confirm(ctx context.Context, title string, details []string) (bool, error) {
	fmt.Fprintf(t.out, "\n%s\n", title)
	for _, d := range details {
		fmt.Fprintf(t.out, "  %s\n", d)
	}

	for {
		fmt.Fprint(t.out, "Continue? [Y/n] ")
		line, err := ReadLine(ctx, t.in)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "", "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(t.out, "Please answer y or n.")
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Passphrase returns a function that asks for a private key passphrase on
// the controlling terminal. It refuses when stdin is not a terminal.
func Passphrase(ctx context.Context, out io.Writer) func(config.Host) ([]byte, error) {
	return func(h config.Host) ([]byte, error) {
		if !IsTerminal(os.Stdin) {
			return nil, errors.New("stdin is not a terminal; set passphrase or RDEPLOY_KEY_PASSPHRASE")
		}
		fmt.Fprintf(out, "Passphrase for %s (%s): ", h.PrivateKey, h.DisplayName())
		b, err := ReadPassword(ctx, term.ReadPassword, int(os.Stdin.Fd()))
		fmt.Fprintln(out)
		return b, err
	}
}
