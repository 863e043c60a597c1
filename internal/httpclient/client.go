package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"paperpipe/internal/config"
	"paperpipe/internal/logging"
	"paperpipe/internal/stage"
)

const maxBodyBytes = 64 << 20

// Options configures a Client. Zero values fall back to the repository
// defaults used by the config package.
type Options struct {
	RequestsPerSecond float64
	Timeout           time.Duration
	RetryCount        int
	BackoffFactor     float64
	MaxBackoff        time.Duration
	UserAgent         string
	HTTPClient        *http.Client
	Logger            *slog.Logger
	// OnRetry is invoked before each retry sleep.
	OnRetry func(url string, attempt int, err error)
}

// Client issues GET requests through one shared rate limiter. Every attempt,
// including retries, waits for a limiter token, so the configured rate is an
// upper bound across all callers sharing the Client.
type Client struct {
	http          *http.Client
	limiter       *rate.Limiter
	timeout       time.Duration
	retryCount    int
	backoffFactor float64
	maxBackoff    time.Duration
	userAgent     string
	logger        *slog.Logger
	onRetry       func(string, int, error)
	sleep         func(context.Context, time.Duration) error
}

// New constructs a Client.
func New(opts Options) *Client {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		http:          httpClient,
		limiter:       rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		timeout:       opts.Timeout,
		retryCount:    opts.RetryCount,
		backoffFactor: opts.BackoffFactor,
		maxBackoff:    opts.MaxBackoff,
		userAgent:     opts.UserAgent,
		logger:        logging.NewComponentLogger(opts.Logger, "http"),
		onRetry:       opts.OnRetry,
		sleep:         sleepWithContext,
	}
}

// NewFromConfig builds the Client shared by the source adapter and the fetch
// stage.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, onRetry func(string, int, error)) *Client {
	return New(Options{
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		Timeout:           cfg.RequestTimeout(),
		RetryCount:        cfg.Fetch.RetryCount,
		BackoffFactor:     cfg.Fetch.RetryBackoffFactor,
		MaxBackoff:        cfg.RetryMaxBackoff(),
		UserAgent:         cfg.Source.UserAgent,
		Logger:            logger,
		OnRetry:           onRetry,
	})
}

// Get fetches url and hands each successful (2xx) response to consume. The
// request timeout covers the whole attempt including consume, and consume may
// run more than once when a body read fails and the attempt is retried, so it
// must reset any partial output itself.
//
// Failures are tagged with stage.ErrTransientNetwork when retries were
// exhausted on a transient condition, or stage.ErrPermanentFetch otherwise.
func (c *Client) Get(ctx context.Context, url string, consume func(*http.Response) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		lastErr = c.attempt(ctx, url, consume)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if stage.KindOf(lastErr) != stage.KindUnknown {
			// consume already classified the failure (e.g. a local write error).
			return lastErr
		}
		if !IsRetriable(lastErr) {
			return stage.Wrap(stage.ErrPermanentFetch, "", "GET", url, lastErr)
		}
		if attempt >= c.retryCount {
			return stage.Wrap(stage.ErrTransientNetwork, "", "GET", fmt.Sprintf("%s (after %d attempts)", url, attempt+1), lastErr)
		}

		backoff := c.Backoff(attempt + 1)
		logging.WarnWithContext(c.logger, "request failed, retrying", "http_retry",
			logging.String("url", url),
			logging.Int("attempt", attempt+1),
			logging.Int("max_attempts", c.retryCount+1),
			logging.Duration("backoff", backoff),
			logging.Error(lastErr),
			logging.String(logging.FieldErrorHint, "check network connectivity or remote availability"),
			logging.String(logging.FieldImpact, "request delayed"),
		)
		if c.onRetry != nil {
			c.onRetry(url, attempt+1, lastErr)
		}
		if err := c.sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

// GetBytes fetches url and returns its body.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := c.Get(ctx, url, func(resp *http.Response) error {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return err
		}
		body = data
		return nil
	})
	return body, err
}

// Backoff returns the sleep before retry n (1-based): factor * 2^(n-1)
// seconds, capped at the configured maximum.
func (c *Client) Backoff(n int) time.Duration {
	if n < 1 || c.backoffFactor <= 0 {
		return 0
	}
	seconds := c.backoffFactor * math.Pow(2, float64(n-1))
	if seconds >= c.maxBackoff.Seconds() {
		return c.maxBackoff
	}
	return time.Duration(seconds * float64(time.Second))
}

func (c *Client) attempt(ctx context.Context, url string, consume func(*http.Response) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if consume == nil {
		return nil
	}
	if err := consume(resp); err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("read body: %w", context.DeadlineExceeded)
		}
		return err
	}
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
