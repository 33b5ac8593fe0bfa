// Package platform is the HTTP client for the ad platform API.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrStatus is wrapped by errors for responses with an unexpected status code.
var ErrStatus = errors.New("unexpected platform status")

const (
	pageSize          = 200
	backoffBase       = 1.8
	defaultRetryAfter = 3 * time.Second
)

type Options struct {
	BaseURL       string
	Token         string
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	MaxRetries    int
	// DryRun makes Suppress and Restore log instead of calling the API.
	DryRun     bool
	HTTPClient *http.Client
}

// Client talks to one advertising account; the token identifies it.
type Client struct {
	base    string
	token   string
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		opts:    opts,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		sleep:   sleepCtx,
	}
}

func (c *Client) DryRun() bool { return c.opts.DryRun }

// backoff is 1.8^(attempt-1) seconds.
func backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(backoffBase, float64(attempt-1)) * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// do retries transport errors, 429 (honouring Retry-After) and 5xx
// responses. Any other response is returned with its body read.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body any) (int, []byte, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request body: %w", err)
		}
		payload = b
	}
	target := c.base + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("rate limiter wait: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return 0, nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			wait := backoff(attempt)
			log.Warn().Err(err).Str("method", method).Str("path", path).Int("attempt", attempt).Dur("retry_in", wait).Msg("platform request failed")
			if serr := c.sleep(ctx, wait); serr != nil {
				return 0, nil, serr
			}
			continue
		}
		data, rerr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if rerr != nil {
			lastErr = rerr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := retryAfter(resp.Header.Get("Retry-After"))
			lastErr = fmt.Errorf("%w: 429 from %s", ErrStatus, path)
			log.Warn().Str("path", path).Dur("retry_in", wait).Msg("platform rate limit (429)")
			if serr := c.sleep(ctx, wait); serr != nil {
				return 0, nil, serr
			}
			continue
		case resp.StatusCode >= 500:
			wait := backoff(attempt)
			lastErr = fmt.Errorf("%w: %d from %s", ErrStatus, resp.StatusCode, path)
			log.Warn().Int("status", resp.StatusCode).Str("path", path).Int("attempt", attempt).Dur("retry_in", wait).Msg("platform server error")
			if serr := c.sleep(ctx, wait); serr != nil {
				return 0, nil, serr
			}
			continue
		}
		return resp.StatusCode, data, nil
	}
	return 0, nil, fmt.Errorf("%s %s: retries exhausted: %w", method, path, lastErr)
}

func retryAfter(h string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || secs < 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	status, data, err := c.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("GET %s: %w: %d %s", path, ErrStatus, status, snippet(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

func chunks(ids []string, n int) [][]string {
	var out [][]string
	for len(ids) > n {
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

// ID decodes ids sent as numbers or strings.
type ID string

func (i *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*i = ""
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		*i = ID(strings.TrimSpace(unq))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*i = ID(n.String())
	return nil
}

// Float decodes numbers and numeric strings; anything else is zero.
type Float float64

func (f *Float) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		*f = 0
		return nil
	}
	*f = Float(v)
	return nil
}
