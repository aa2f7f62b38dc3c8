package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reviewapps-dev/rdeploy/internal/deploy"
	"github.com/reviewapps-dev/rdeploy/internal/deployerr"
	"github.com/reviewapps-dev/rdeploy/internal/logging"
)

func newExecCmd(opts *options) *cobra.Command {
	var (
		hostIndex int
		dir       string
	)
	cmd := &cobra.Command{
		Use:   "exec [flags] -- command...",
		Short: "Run a command on one configured host",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			base, err := logging.NewBase(os.Stderr, cfg.Log.Level)
			if err != nil {
				return deployerr.Wrap(deployerr.KindConfig, err, "log level")
			}
			log := logging.NewDeployLogger("", base, nil)

			ctx := cmd.Context()
			shell := deploy.NewRemoteShell(cfg.Hosts, newDialer(ctx), cfg.Remote.WorkDir, log)

			var shellOpts []deploy.ShellOption
			if cmd.Flags().Changed("host") {
				shellOpts = append(shellOpts, deploy.OnHost(hostIndex))
			}
			if dir != "" {
				shellOpts = append(shellOpts, deploy.InDir(dir))
			}

			res, err := shell.Exec(ctx, strings.Join(args, " "), shellOpts...)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
			fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
			switch {
			case res.ExitMissing:
				return deployerr.New(deployerr.KindActivate, "remote command ended without an exit status")
			case res.ExitCode != 0:
				return &exitStatus{code: res.ExitCode}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&hostIndex, "host", 0, "index of the target host in the config")
	cmd.Flags().StringVar(&dir, "dir", "", "remote working directory (default: remote.work_dir)")
	return cmd
}
