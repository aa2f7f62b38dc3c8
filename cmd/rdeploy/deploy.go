package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/reviewapps-dev/rdeploy/internal/config"
	"github.com/reviewapps-dev/rdeploy/internal/deploy"
	"github.com/reviewapps-dev/rdeploy/internal/deployerr"
	"github.com/reviewapps-dev/rdeploy/internal/logging"
	"github.com/reviewapps-dev/rdeploy/internal/logstream"
	"github.com/reviewapps-dev/rdeploy/internal/notify"
	"github.com/reviewapps-dev/rdeploy/internal/prompt"
	"github.com/reviewapps-dev/rdeploy/internal/remote"
	"github.com/reviewapps-dev/rdeploy/internal/server"
)

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, deployerr.Wrap(deployerr.KindConfig, err, "load config")
	}

	f := cmd.Flags()
	if f.Changed("skip-build") {
		cfg.Build.Skip = opts.skipBuild
	}
	if f.Changed("interactive") {
		cfg.Mode.Interactive = opts.interactive
	}
	if f.Changed("sequential") {
		cfg.Mode.Concurrent = !opts.sequential
	}
	if opts.stream != "" {
		cfg.Stream.Listen = opts.stream
	}
	if opts.notifyURL != "" {
		cfg.Notify.URL = opts.notifyURL
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, nil
}

func newDialer(ctx context.Context) *remote.SSHDialer {
	d := &remote.SSHDialer{Timeout: 15 * time.Second}
	if prompt.IsTerminal(os.Stdin) {
		d.Passphrase = prompt.Passphrase(ctx, os.Stderr)
	}
	return d
}

func runDeploy(cmd *cobra.Command, opts *options) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	base, err := logging.NewBase(os.Stderr, cfg.Log.Level)
	if err != nil {
		return deployerr.Wrap(deployerr.KindConfig, err, "log level")
	}

	runID := uuid.NewString()
	hub := logstream.NewHub()
	log := logging.NewDeployLogger(runID, base, hub.Publish)

	var srv *server.Server
	if cfg.Stream.Listen != "" {
		srv = server.New(cfg.Stream, hub, runID, base)
		if _, err := srv.Start(); err != nil {
			return deployerr.Wrap(deployerr.KindConfig, err, "start log stream on "+cfg.Stream.Listen)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				base.Warnf("log stream shutdown: %v", err)
			}
		}()
	}

	req := deploy.RequestFromConfig(cfg)
	if req.Hooks, err = configHooks(cfg); err != nil {
		return err
	}
	if req.Interactive && !prompt.IsTerminal(os.Stdin) {
		base.Warn("interactive mode needs a terminal on stdin; answers are read from the pipe")
	}

	summary, err := deploy.Deploy(ctx, req,
		deploy.WithDialer(newDialer(ctx)),
		deploy.WithLogger(log),
		deploy.WithGate(prompt.NewTerminal(os.Stdin, os.Stderr)),
	)
	if summary != nil {
		fmt.Fprintln(cmd.OutOrStdout(), summary.Table())
		if srv != nil {
			srv.SetSummary(summary)
		}
		report(ctx, base, cfg.Notify.URL, summary)
	}
	if err != nil {
		return err
	}

	switch summary.Outcome {
	case deploy.OutcomeSuccess, deploy.OutcomeDeclined:
		return nil
	default:
		return errDeployFailed
	}
}

// configHooks builds the hooks declared in the config file.
func configHooks(cfg *config.Config) (deploy.Hooks, error) {
	hooks, err := deploy.CommandHooks(cfg.Hooks, nil)
	if err != nil {
		return nil, deployerr.Wrap(deployerr.KindConfig, err, "hooks")
	}
	if cfg.Health.URL != "" {
		check := deploy.HealthHook(cfg.Health.URL, cfg.Health.Timeout.Duration, cfg.Health.Interval.Duration)
		hooks[deploy.AfterDeploy] = deploy.Chain(hooks[deploy.AfterDeploy], check)
	}
	return hooks, nil
}

// report sends the summary to the notify URL. It outlives an interrupted
// run so the receiver still hears how it ended.
func report(ctx context.Context, log *logrus.Logger, url string, summary *deploy.Summary) {
	if url == "" {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if notify.NewClient(log).Send(notifyCtx, url, summary) {
		log.Infof("notified %s", url)
	}
}
