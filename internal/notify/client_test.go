package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewapps-dev/rdeploy/internal/deploy"
)

func testClient() *Client {
	l := logrus.New()
	l.SetOutput(io.Discard)
	c := NewClient(l)
	c.delays = []time.Duration{0, time.Millisecond, time.Millisecond}
	return c
}

func TestSendPostsSummary(t *testing.T) {
	var got deploy.Summary
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := &deploy.Summary{RunID: "abc", Outcome: deploy.OutcomeSuccess, Total: 1, Succeeded: 1}
	assert.True(t, testClient().Send(context.Background(), srv.URL, s))
	assert.Equal(t, "abc", got.RunID)
	assert.Equal(t, deploy.OutcomeSuccess, got.Outcome)
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	assert.True(t, testClient().Send(context.Background(), srv.URL, &deploy.Summary{}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	assert.False(t, testClient().Send(context.Background(), srv.URL, &deploy.Summary{}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.False(t, testClient().Send(context.Background(), srv.URL, &deploy.Summary{}))
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendNoURL(t *testing.T) {
	assert.False(t, testClient().Send(context.Background(), "", &deploy.Summary{}))
}

func TestSendCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient()
	c.delays = []time.Duration{0, time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, c.Send(ctx, srv.URL, &deploy.Summary{}))
}
