package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Check polls url until it answers with a 2xx or 3xx status, the timeout
// passes or ctx is done.
func Check(ctx context.Context, url string, timeout, interval time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	var last error
	probe := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				last = err
			}
			return err
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 400 {
			return nil
		}
		last = fmt.Errorf("status %d", resp.StatusCode)
		return last
	}

	err := backoff.Retry(probe, backoff.WithContext(backoff.NewConstantBackOff(interval), ctx))
	if err == nil {
		return nil
	}
	if last == nil {
		last = err
	}
	return fmt.Errorf("health check %s failed after %s: %w", url, timeout, last)
}
