package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("shadowgate/provider")

// maxAttemptLogs bounds the retry diagnostics carried on an ApprovalError.
const maxAttemptLogs = 20

// Client-side pacing for approval fetches, independent of server limits.
const (
	paceRequestsPerSecond = 2
	paceBurst             = 4
)

// fetchClient runs authenticated GETs with the uniform retry, backoff and
// pacing behavior shared by all providers.
type fetchClient struct {
	provider   string
	opts       ApprovalOptions
	httpClient *http.Client
	limiter    *rate.Limiter
	sleep      func(time.Duration)
	jitter     func() float64
	now        func() time.Time
	attempts   []AttemptLog
}

func newFetchClient(provider string, opts ApprovalOptions) *fetchClient {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &fetchClient{
		provider:   provider,
		opts:       opts,
		httpClient: hc,
		limiter:    rate.NewLimiter(rate.Limit(paceRequestsPerSecond), paceBurst),
		sleep:      time.Sleep,
		jitter:     rand.Float64,
		now:        time.Now,
	}
}

func (c *fetchClient) maxAttempts() int {
	if !c.opts.Retry.Enabled {
		return 1
	}
	if c.opts.Retry.MaxAttempts < 1 {
		return 1
	}
	return c.opts.Retry.MaxAttempts
}

func (c *fetchClient) retryableStatus(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	for _, s := range c.opts.Retry.RetryableStatusCodes {
		if s == status {
			return true
		}
	}
	return false
}

func (c *fetchClient) logAttempt(a AttemptLog) {
	c.attempts = append(c.attempts, a)
	if len(c.attempts) > maxAttemptLogs {
		c.attempts = c.attempts[len(c.attempts)-maxAttemptLogs:]
	}
	slog.Debug("approval fetch attempt",
		"provider", c.provider,
		"attempt", a.Attempt,
		"status", a.Status,
		"delay_ms", a.DelayMs,
		"hint", a.Hint,
	)
}

func (c *fetchClient) fail(kind ErrorKind, message string) *ApprovalError {
	attempts := make([]AttemptLog, len(c.attempts))
	copy(attempts, c.attempts)
	return &ApprovalError{Kind: kind, Message: message, Attempts: attempts}
}

// backoffDelay computes the exponential delay for the attempt that just
// failed, applies uniform jitter, honors the server's Retry-After or
// X-RateLimit-Reset hint when larger, and clamps to maxDelayMs.
func (c *fetchClient) backoffDelay(attempt int, resp *http.Response) (time.Duration, string) {
	r := c.opts.Retry
	base := time.Duration(r.BaseDelayMs) * time.Millisecond
	maxDelay := time.Duration(r.MaxDelayMs) * time.Millisecond

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if maxDelay > 0 && delay >= maxDelay {
			delay = maxDelay
			break
		}
	}
	if r.JitterRatio > 0 {
		delay += time.Duration(float64(delay) * r.JitterRatio * c.jitter())
	}

	hint := ""
	if resp != nil {
		if serverDelay, label, ok := c.serverDelayHint(resp); ok {
			hint = label
			if serverDelay > delay {
				delay = serverDelay
			}
		}
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay, hint
}

// serverDelayHint reads Retry-After (seconds or HTTP date) and the
// rate-limit reset epoch.
func (c *fetchClient) serverDelayHint(resp *http.Response) (time.Duration, string, bool) {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second, "retry-after=" + ra, true
		}
		if at, err := http.ParseTime(ra); err == nil {
			return at.Sub(c.now()), "retry-after=" + ra, true
		}
	}
	if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			return time.Unix(epoch, 0).Sub(c.now()), "x-ratelimit-reset=" + reset, true
		}
	}
	return 0, "", false
}

// getJSON fetches url, decoding the 2xx body into out. Timeouts and
// retryable statuses consume the retry budget; everything else fails
// immediately with a classified kind.
func (c *fetchClient) getJSON(ctx context.Context, url string, headers map[string]string, out any) *ApprovalError {
	ctx, span := tracer.Start(ctx, "provider.fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider.name", c.provider),
		attribute.String("http.url", url),
	)

	maxAttempts := c.maxAttempts()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return c.fail(ErrKindFetchError, "request pacing interrupted: "+err.Error())
		}

		resp, decodeErr, err := c.attempt(ctx, url, headers, out)
		if err != nil {
			if isTimeout(err) {
				c.logAttempt(AttemptLog{Attempt: attempt, Hint: "timeout"})
				if attempt < maxAttempts {
					delay, _ := c.backoffDelay(attempt, nil)
					c.sleep(delay)
					continue
				}
				return c.fail(ErrKindTimeout, fmt.Sprintf("request timed out after %d attempt(s)", attempt))
			}
			c.logAttempt(AttemptLog{Attempt: attempt, Hint: "network error"})
			return c.fail(ErrKindFetchError, "request failed: "+err.Error())
		}

		status := resp.StatusCode
		if status >= 200 && status < 300 {
			if decodeErr != nil {
				if isTimeout(decodeErr) {
					c.logAttempt(AttemptLog{Attempt: attempt, Status: status, Hint: "timeout"})
					if attempt < maxAttempts {
						delay, _ := c.backoffDelay(attempt, nil)
						c.sleep(delay)
						continue
					}
					return c.fail(ErrKindTimeout, fmt.Sprintf("request timed out after %d attempt(s)", attempt))
				}
				return c.fail(ErrKindFetchError, "response parse failed: "+decodeErr.Error())
			}
			span.SetAttributes(attribute.Int("http.attempts", attempt))
			return nil
		}

		if !c.retryableStatus(status) {
			c.logAttempt(AttemptLog{Attempt: attempt, Status: status})
			return c.fail(ErrKindHTTPError, fmt.Sprintf("unexpected status %d", status))
		}

		delay, hint := c.backoffDelay(attempt, resp)
		c.logAttempt(AttemptLog{Attempt: attempt, Status: status, DelayMs: delay.Milliseconds(), Hint: hint})
		if attempt < maxAttempts {
			c.sleep(delay)
			continue
		}
		if status == http.StatusTooManyRequests {
			return c.fail(ErrKindRateLimited, fmt.Sprintf("rate limited after %d attempt(s)", attempt))
		}
		return c.fail(ErrKindRetryExhausted, fmt.Sprintf("retry budget exhausted at status %d", status))
	}
	return c.fail(ErrKindFetchError, "no attempts executed")
}

// attempt performs one request under the per-attempt timeout. The timeout
// covers the body read too: a 2xx body is decoded before the deadline is
// released, so a slow-streaming response cannot be cancelled mid-read by
// its own cleanup. Non-2xx bodies are drained and the response returned
// for backoff hints; decodeErr is set only for a 2xx decode failure.
func (c *fetchClient) attempt(ctx context.Context, url string, headers map[string]string, out any) (resp *http.Response, decodeErr, err error) {
	if c.opts.FetchTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.opts.FetchTimeoutMs)*time.Millisecond)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err = c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, json.NewDecoder(resp.Body).Decode(out), nil
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp, nil, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// getJSONPages fetches numbered pages of array responses until a short
// page. A full page at the page cap means the resource is larger than the
// policy allows and fails the fetch.
func (c *fetchClient) getJSONPages(ctx context.Context, pageURL func(page, perPage int) string, headers map[string]string, perPage int) ([]map[string]any, *ApprovalError) {
	maxPages := c.opts.MaxPages
	if maxPages < 1 {
		maxPages = 1
	}
	var all []map[string]any
	for page := 1; page <= maxPages; page++ {
		var items []map[string]any
		if err := c.getJSON(ctx, pageURL(page, perPage), headers, &items); err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) < perPage {
			return all, nil
		}
	}
	return nil, c.fail(ErrKindFetchError, fmt.Sprintf("pagination exceeded %d page(s)", maxPages))
}
