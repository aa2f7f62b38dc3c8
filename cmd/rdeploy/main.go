package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/reviewapps-dev/rdeploy/internal/deployerr"
	"github.com/reviewapps-dev/rdeploy/internal/version"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

type options struct {
	configPath  string
	logLevel    string
	skipBuild   bool
	interactive bool
	sequential  bool
	stream      string
	notifyURL   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	var es *exitStatus
	if err != nil && !errors.As(err, &es) {
		logrus.Error(err)
	}
	stop()
	os.Exit(exitCode(err))
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "rdeploy",
		Short:         "Build, upload and activate a static bundle on SSH hosts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "rdeploy.toml", "path to a .toml or .yaml config file")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&opts.skipBuild, "skip-build", false, "skip the local build command")
	pf.BoolVarP(&opts.interactive, "interactive", "i", false, "confirm each stage before it runs")
	pf.BoolVar(&opts.sequential, "sequential", false, "deploy hosts one at a time")
	pf.StringVar(&opts.stream, "stream", "", "serve the live log stream on this address (e.g. :7891)")
	pf.StringVar(&opts.notifyURL, "notify-url", "", "POST the run summary to this URL when done")

	deployCmd := &cobra.Command{
		Use:   "deploy",
		Short: "Run the deploy pipeline (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, opts)
		},
	}

	root.AddCommand(deployCmd, newExecCmd(opts), &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get())
		},
	})
	return root
}

// exitStatus carries a specific process exit code, such as a remote
// command's.
type exitStatus struct {
	code int
}

func (e *exitStatus) Error() string { return fmt.Sprintf("exit status %d", e.code) }

var errDeployFailed = errors.New("deploy did not complete on every host")

func exitCode(err error) int {
	var es *exitStatus
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &es):
		return es.code
	case deployerr.Is(err, deployerr.KindConfig):
		return exitConfig
	default:
		return exitFailed
	}
}
