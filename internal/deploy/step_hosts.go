package deploy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reviewapps-dev/rdeploy/internal/backup"
)

// hostsStep runs connect, upload, backup and activation for every host.
// Each host writes only its own result slot; counts are reduced after all
// hosts are done.
type hostsStep struct{}

func (s *hostsStep) Name() string { return "upload & activate" }
func (s *hostsStep) Stage() Stage { return StageUpload }

func (s *hostsStep) Question(r *runState) (string, []string, bool) {
	names := make([]string, len(r.req.Hosts))
	for i, h := range r.req.Hosts {
		names[i] = h.DisplayName()
	}
	mode := "concurrent"
	if !r.req.Concurrent {
		mode = "sequential"
	}
	details := []string{
		fmt.Sprintf("hosts (%d, %s): %s", len(names), mode, strings.Join(names, ", ")),
		"upload to: " + r.req.RemoteArchivePath,
		"activate in: " + r.req.ActivationDir,
	}
	if r.req.BackupDir != "" {
		details = append(details, "backups in: "+r.req.BackupDir)
	}
	return "Upload and deploy?", details, true
}

func (s *hostsStep) Run(ctx context.Context, r *runState, sc *StageContext) error {
	hosts := r.req.Hosts
	results := make([]HostResult, len(hosts))
	r.sessions = make([]*session, len(hosts))

	var g errgroup.Group
	switch {
	case !r.req.Concurrent:
		g.SetLimit(1)
	case r.req.MaxParallel > 0:
		g.SetLimit(r.req.MaxParallel)
	}

	for i := range hosts {
		sess := newSession(i, hosts[i], r.log)
		r.sessions[i] = sess
		g.Go(func() error {
			results[i] = r.deployHost(ctx, sess, sc)
			return nil
		})
	}
	g.Wait()

	r.summary.reduce(results)

	activated, failedActivation := 0, 0
	for _, res := range results {
		if res.Status == StatusSuccess || res.Stage == StageActivate {
			activated++
		}
		if res.Stage == StageActivate {
			failedActivation++
		}
		if res.Err != nil && !res.Handled {
			r.errs = append(r.errs, res.Err)
		}
	}
	switch {
	case activated > 0 && failedActivation == activated:
		r.log.Error("activation failed on every host (%d)", activated)
	case failedActivation > 0:
		r.log.Warn("activation failed on %d of %d hosts", failedActivation, activated)
	}
	return nil
}

// deployHost is one host's whole pipeline. It never returns early without
// a result; the session stays open for teardown.
func (r *runState) deployHost(ctx context.Context, s *session, base *StageContext) HostResult {
	start := time.Now()
	host := s.host
	res := HostResult{Index: s.index, Host: host.DisplayName(), Status: StatusPending}

	sc := base.at(StageConnect)
	sc.Host = &host
	sc.HostIndex = s.index
	sc.Logger = s.log
	sc.Shell = r.shell.forHost(s.index)

	fail := func(stage Stage, err error, canRetry bool) HostResult {
		err, handled := r.settle(ctx, err, sc, canRetry)
		s.status = StatusFailed
		res.Status = StatusFailed
		res.Stage = stage
		res.Err = err
		res.Handled = handled
		res.Attempts = s.attempts
		res.Elapsed = time.Since(start)
		if handled {
			s.log.Warn("%s failed (handled): %v", stage, err)
		} else {
			s.log.Error("%s failed: %v", stage, err)
		}
		return res
	}

	s.log.Log("connecting to %s", host.Addr())
	if err := r.hook(ctx, BeforeConnect, sc); err != nil {
		return fail(StageConnect, err, false)
	}

	if err := r.transfer(ctx, s, sc); err != nil {
		return fail(sc.Stage, err, true)
	}
	res.Attempts = s.attempts

	if r.req.BackupDir != "" {
		bsc := sc.at(StageBackup)
		mgr := &backup.Manager{Dir: r.req.BackupDir, MaxCount: r.req.MaxBackupCount, Log: s.log, Now: r.now}
		bres, err := mgr.Run(ctx, s.conn, r.req.ArchivePath, r.req.RemoteArchivePath)
		res.Backup = bres.Method
		if err != nil {
			r.soft(ctx, err, bsc, s.log)
		}
	}

	sc.Stage = StageUpload
	if err := r.hook(ctx, AfterUpload, sc); err != nil {
		return fail(StageUpload, err, false)
	}

	sc = sc.at(StageActivate)
	if !s.ready() {
		return fail(StageActivate, fmt.Errorf("session for %s is not ready", host.DisplayName()), false)
	}
	if err := r.hook(ctx, BeforeDeploy, sc); err != nil {
		return fail(StageActivate, err, false)
	}
	if err := r.activate(ctx, s, sc); err != nil {
		return fail(StageActivate, err, false)
	}
	if err := r.hook(ctx, AfterDeploy, sc); err != nil {
		return fail(StageActivate, err, false)
	}

	s.status = StatusSuccess
	s.log.Success("deployed to %s", r.req.ActivationDir)
	res.Status = StatusSuccess
	res.Elapsed = time.Since(start)
	return res
}
