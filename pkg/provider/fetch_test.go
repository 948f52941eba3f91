package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy"
)

func fastRetry(maxAttempts int, codes ...int) policy.Retry {
	return policy.Retry{
		Enabled:              true,
		MaxAttempts:          maxAttempts,
		BaseDelayMs:          1,
		MaxDelayMs:           5,
		JitterRatio:          0,
		RetryableStatusCodes: codes,
	}
}

func testClient(opts ApprovalOptions) *fetchClient {
	c := newFetchClient("github", opts)
	c.sleep = func(time.Duration) {}
	return c
}

func approvalErr(t *testing.T, err error) *ApprovalError {
	t.Helper()
	var ae *ApprovalError
	require.True(t, errors.As(err, &ae), "want *ApprovalError, got %v", err)
	return ae
}

func TestGetJSONRetriesOn429ThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer srv.Close()

	c := testClient(ApprovalOptions{Retry: fastRetry(3)})
	var out map[string]any
	require.Nil(t, c.getJSON(context.Background(), srv.URL, nil, &out))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, true, out["ok"])
}

func TestGetJSONRateLimitedAfterBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(ApprovalOptions{Retry: fastRetry(2)})
	var out any
	err := c.getJSON(context.Background(), srv.URL, nil, &out)
	require.NotNil(t, err)
	assert.Equal(t, ErrKindRateLimited, err.Kind)
	assert.Len(t, err.Attempts, 2)
}

func TestGetJSONRetryExhaustedOn500(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(ApprovalOptions{Retry: fastRetry(3, 500)})
	var out any
	err := c.getJSON(context.Background(), srv.URL, nil, &out)
	require.NotNil(t, err)
	assert.Equal(t, ErrKindRetryExhausted, err.Kind)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetJSONNonRetryableStatusFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(ApprovalOptions{Retry: fastRetry(3, 500)})
	var out any
	err := c.getJSON(context.Background(), srv.URL, nil, &out)
	require.NotNil(t, err)
	assert.Equal(t, ErrKindHTTPError, err.Kind)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetJSONTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := testClient(ApprovalOptions{FetchTimeoutMs: 20})
	var out any
	err := c.getJSON(context.Background(), srv.URL, nil, &out)
	require.NotNil(t, err)
	assert.Equal(t, ErrKindTimeout, err.Kind)
}

func TestGetJSONSlowStreamingBodyCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": `)
		w.(http.Flusher).Flush()
		time.Sleep(80 * time.Millisecond)
		fmt.Fprint(w, `true}`)
	}))
	defer srv.Close()

	c := testClient(ApprovalOptions{FetchTimeoutMs: 5000})
	var out map[string]any
	require.Nil(t, c.getJSON(context.Background(), srv.URL, nil, &out))
	assert.Equal(t, true, out["ok"])
}

func TestGetJSONTimeoutDuringBodyRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": `)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := testClient(ApprovalOptions{FetchTimeoutMs: 30})
	var out map[string]any
	err := c.getJSON(context.Background(), srv.URL, nil, &out)
	require.NotNil(t, err)
	assert.Equal(t, ErrKindTimeout, err.Kind)
}

func TestGetJSONParseFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer srv.Close()

	c := testClient(ApprovalOptions{})
	var out map[string]any
	err := c.getJSON(context.Background(), srv.URL, nil, &out)
	require.NotNil(t, err)
	assert.Equal(t, ErrKindFetchError, err.Kind)
}

func TestGetJSONSendsHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := testClient(ApprovalOptions{})
	var out map[string]any
	require.Nil(t, c.getJSON(context.Background(), srv.URL, map[string]string{"Authorization": "Bearer tok"}, &out))
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestAttemptLogKeepsLastTwenty(t *testing.T) {
	c := testClient(ApprovalOptions{})
	for i := 1; i <= 30; i++ {
		c.logAttempt(AttemptLog{Attempt: i})
	}
	require.Len(t, c.attempts, maxAttemptLogs)
	assert.Equal(t, 11, c.attempts[0].Attempt)
	assert.Equal(t, 30, c.attempts[len(c.attempts)-1].Attempt)
}

func TestBackoffDelayExponentialAndClamped(t *testing.T) {
	c := testClient(ApprovalOptions{Retry: policy.Retry{
		Enabled:     true,
		MaxAttempts: 5,
		BaseDelayMs: 100,
		MaxDelayMs:  350,
		JitterRatio: 0,
	}})

	d1, _ := c.backoffDelay(1, nil)
	d2, _ := c.backoffDelay(2, nil)
	d3, _ := c.backoffDelay(3, nil)
	assert.Equal(t, 100*time.Millisecond, d1)
	assert.Equal(t, 200*time.Millisecond, d2)
	assert.Equal(t, 350*time.Millisecond, d3)
}

func TestBackoffDelayJitterBounded(t *testing.T) {
	c := testClient(ApprovalOptions{Retry: policy.Retry{
		Enabled:     true,
		BaseDelayMs: 100,
		MaxDelayMs:  10000,
		JitterRatio: 0.2,
	}})
	c.jitter = func() float64 { return 1 }

	d, _ := c.backoffDelay(1, nil)
	assert.Equal(t, 120*time.Millisecond, d)
}

func TestBackoffDelayHonorsServerHint(t *testing.T) {
	c := testClient(ApprovalOptions{Retry: policy.Retry{
		Enabled:     true,
		BaseDelayMs: 10,
		MaxDelayMs:  60000,
		JitterRatio: 0,
	}})

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "2")
	d, hint := c.backoffDelay(1, resp)
	assert.Equal(t, 2*time.Second, d)
	assert.Equal(t, "retry-after=2", hint)
}

func TestBackoffDelayHintClampedToMax(t *testing.T) {
	c := testClient(ApprovalOptions{Retry: policy.Retry{
		Enabled:     true,
		BaseDelayMs: 10,
		MaxDelayMs:  500,
		JitterRatio: 0,
	}})

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "30")
	d, _ := c.backoffDelay(1, resp)
	assert.Equal(t, 500*time.Millisecond, d)
}

func TestBackoffDelayRateLimitResetHint(t *testing.T) {
	now := time.Now()
	c := testClient(ApprovalOptions{Retry: policy.Retry{
		Enabled:     true,
		BaseDelayMs: 10,
		MaxDelayMs:  60000,
		JitterRatio: 0,
	}})
	c.now = func() time.Time { return now }

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("X-RateLimit-Reset", fmt.Sprintf("%d", now.Add(3*time.Second).Unix()))
	d, _ := c.backoffDelay(1, resp)
	assert.Equal(t, 3*time.Second, d)
}

func TestGetJSONPagesStopsOnShortPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `[{"n": 1}, {"n": 2}]`)
		default:
			fmt.Fprint(w, `[{"n": 3}]`)
		}
	}))
	defer srv.Close()

	c := testClient(ApprovalOptions{MaxPages: 5})
	items, err := c.getJSONPages(context.Background(), func(page, perPage int) string {
		return fmt.Sprintf("%s/?page=%d", srv.URL, page)
	}, nil, 2)
	require.Nil(t, err)
	assert.Len(t, items, 3)
}

func TestGetJSONPagesExceedingCapFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"n": 1}, {"n": 2}]`)
	}))
	defer srv.Close()

	c := testClient(ApprovalOptions{MaxPages: 2})
	_, err := c.getJSONPages(context.Background(), func(page, perPage int) string {
		return fmt.Sprintf("%s/?page=%d", srv.URL, page)
	}, nil, 2)
	require.NotNil(t, err)
	assert.Equal(t, ErrKindFetchError, err.Kind)
}
