package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const errorBodyLimit = 1024

// Timing tunes delivery pacing and retries
type Timing struct {
	// Timeout bounds one HTTP attempt
	Timeout time.Duration
	// PerAppInterval and PerAppBurst rate-limit deliveries per application
	PerAppInterval time.Duration
	PerAppBurst    int
	// Retry budget for 5xx, 429 and connection errors
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMaxElapsed time.Duration
}

// DefaultTiming allows six messages per application per minute and retries
// for up to thirty seconds
func DefaultTiming() Timing {
	return Timing{
		Timeout:           10 * time.Second,
		PerAppInterval:    10 * time.Second,
		PerAppBurst:       3,
		BackoffInitial:    time.Second,
		BackoffMax:        10 * time.Second,
		BackoffMaxElapsed: 30 * time.Second,
	}
}

// poster POSTs JSON payloads with per-application pacing. Retries are driven
// by backoff rather than by retryablehttp so Retry-After can be honored.
type poster struct {
	channel string
	url     string
	client  *retryablehttp.Client
	timing  Timing

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPoster(channel, url string, timing Timing) *poster {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(context.Context, *http.Response, error) (bool, error) { return false, nil }
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timing.Timeout}

	return &poster{
		channel:  channel,
		url:      url,
		client:   client,
		timing:   timing,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *poster) limiter(appID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[appID]
	if !ok {
		l = rate.NewLimiter(rate.Every(p.timing.PerAppInterval), p.timing.PerAppBurst)
		p.limiters[appID] = l
	}
	return l
}

// post waits for the application's rate limit, then delivers payload
func (p *poster) post(ctx context.Context, appID string, payload []byte) error {
	if err := p.limiter(appID).Wait(ctx); err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.timing.BackoffInitial
	b.MaxInterval = p.timing.BackoffMax
	b.MaxElapsedTime = p.timing.BackoffMaxElapsed
	b.Reset()

	return backoff.Retry(func() error {
		err := p.once(ctx, payload)
		var wait *retryAfter
		if errors.As(err, &wait) {
			if !sleep(ctx, wait.d) {
				return backoff.Permanent(ctx.Err())
			}
		}
		return err
	}, backoff.WithContext(b, ctx))
}

func (p *poster) once(ctx context.Context, payload []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timing.Timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build %s request: %w", p.channel, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", p.channel, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		err := fmt.Errorf("%s rate limited: %s", p.channel, resp.Status)
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return &retryAfter{d: d, err: err}
		}
		return err
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%s server error: %s", p.channel, resp.Status)
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return backoff.Permanent(fmt.Errorf("%s request failed: %s (%s)", p.channel, resp.Status, text))
	}
	return backoff.Permanent(fmt.Errorf("%s request failed: %s", p.channel, resp.Status))
}

type retryAfter struct {
	d   time.Duration
	err error
}

func (e *retryAfter) Error() string { return fmt.Sprintf("%v; retry after %s", e.err, e.d) }

func (e *retryAfter) Unwrap() error { return e.err }

func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, secs > 0
	}
	if when, err := http.ParseTime(value); err == nil {
		d := time.Until(when)
		return d, d > 0
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
