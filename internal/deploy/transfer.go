package deploy

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize/english"

	"github.com/reviewapps-dev/rdeploy/internal/deployerr"
	"github.com/reviewapps-dev/rdeploy/internal/remote"
)

// retryPolicy is retryCount attempts spaced by a constant delay.
func retryPolicy(ctx context.Context, count int, delay time.Duration) backoff.BackOff {
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(count-1)),
		ctx,
	)
}

// transfer connects to the session's host and puts the archive there. One
// attempt is dial, after-connect hook, before-upload hook and the upload
// itself; any failure closes that attempt's connection and the whole
// sequence starts again. Hook failures are not retried.
func (r *runState) transfer(ctx context.Context, s *session, sc *StageContext) error {
	req := r.req
	var last *deployerr.Error

	attempt := func() error {
		s.attempts++
		sc.Attempt = s.attempts
		sc.Stage = StageConnect
		sc.Conn = nil

		conn, err := r.dialer.Dial(ctx, s.host)
		if err != nil {
			last = deployerr.Classify(err, deployerr.KindConnect).OnHost(sc.HostName())
			return last
		}

		keep := false
		defer func() {
			if !keep {
				conn.Close()
			}
		}()

		sc.Conn = conn
		if err := r.hook(ctx, AfterConnect, sc); err != nil {
			return backoff.Permanent(err)
		}
		sc.Stage = StageUpload
		if err := r.hook(ctx, BeforeUpload, sc); err != nil {
			return backoff.Permanent(err)
		}

		if err := r.upload(ctx, s, sc, conn); err != nil {
			last = deployerr.Classify(err, deployerr.KindUpload).OnHost(sc.HostName())
			return last
		}

		keep = true
		s.conn = conn
		return nil
	}

	notify := func(err error, wait time.Duration) {
		s.log.Warn("attempt %d/%d failed: %v (retrying in %s)", s.attempts, req.RetryCount, err, wait)
	}

	err := backoff.RetryNotify(attempt, retryPolicy(ctx, req.RetryCount, req.RetryDelay), notify)
	if err == nil {
		if s.attempts > 1 {
			s.log.Success("uploaded after %d attempts", s.attempts)
		} else {
			s.log.Success("uploaded %s", req.RemoteArchivePath)
		}
		return nil
	}

	sc.Conn = nil
	if last != nil && errors.Is(err, last) {
		return &deployerr.Error{
			Kind:    last.Kind,
			Message: "gave up after " + english.Plural(s.attempts, "attempt", ""),
			Host:    sc.HostName(),
			Cause:   last,
		}
	}
	return err
}

func (r *runState) upload(ctx context.Context, s *session, sc *StageContext, conn remote.Conn) error {
	if r.req.Upload != nil {
		return callOverride("upload", func() error { return r.req.Upload(ctx, sc, conn) })
	}
	s.log.Log("uploading %s -> %s (attempt %d)", r.req.ArchivePath, r.req.RemoteArchivePath, s.attempts)
	return conn.Put(ctx, r.req.ArchivePath, r.req.RemoteArchivePath, s.log.Progress("upload"))
}
