package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize/english"
	"github.com/sirupsen/logrus"

	"github.com/reviewapps-dev/rdeploy/internal/deploy"
)

// Client posts the end-of-run summary to a webhook.
type Client struct {
	httpClient *http.Client
	delays     []time.Duration
	log        logrus.FieldLogger
}

func NewClient(log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     []time.Duration{0, 2 * time.Second, 5 * time.Second},
		log:        log,
	}
}

// Send posts s as JSON to url. It is best-effort: delivery problems are
// logged and reported as false, never as a deploy failure. An empty url is
// a no-op.
func (c *Client) Send(ctx context.Context, url string, s *deploy.Summary) bool {
	if url == "" || s == nil {
		return false
	}

	body, err := json.Marshal(s)
	if err != nil {
		c.log.Warnf("notify: marshal summary: %v", err)
		return false
	}
	return c.postWithRetry(ctx, url, body)
}

// postWithRetry attempts a POST once per configured delay. 4xx responses are
// not retried.
func (c *Client) postWithRetry(ctx context.Context, url string, body []byte) bool {
	for attempt, delay := range c.delays {
		if delay > 0 {
			select {
			case <-ctx.Done():
				c.log.Warnf("notify: POST %s cancelled: %v", url, ctx.Err())
				return false
			case <-time.After(delay):
			}
		}

		status, err := c.post(ctx, url, body)
		if err != nil {
			c.log.Warnf("notify: POST %s attempt %d failed: %v", url, attempt+1, err)
			continue
		}
		if status < 500 {
			if status >= 400 {
				c.log.Warnf("notify: POST %s returned %d", url, status)
				return false
			}
			return true
		}
		c.log.Warnf("notify: POST %s attempt %d returned %d", url, attempt+1, status)
	}

	c.log.Warnf("notify: POST %s failed after %s, giving up", url, english.Plural(len(c.delays), "attempt", ""))
	return false
}

func (c *Client) post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
