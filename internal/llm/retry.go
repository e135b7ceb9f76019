package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	maxBackoff    = 60 * time.Second
	maxRetryAfter = 5 * time.Minute
)

// statusError records the last retryable HTTP status once attempts run out.
type statusError struct {
	status int
}

func (e *statusError) Error() string { return fmt.Sprintf("upstream status %d", e.status) }

// statusOf returns the HTTP status carried by err, or 0.
func statusOf(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	return 0
}

// retryPolicy runs an HTTP call up to maxRetries+1 times. Transient network
// errors, 408, 429 and 5xx are retried with full-jitter exponential backoff;
// a Retry-After header replaces the backoff for that attempt.
type retryPolicy struct {
	maxRetries  int
	baseBackoff time.Duration
	logger      *zap.Logger
}

func (p retryPolicy) do(ctx context.Context, call func(context.Context) (*http.Response, error)) (*http.Response, error) {
	attempts := max(p.maxRetries+1, 1)
	var lastErr error

	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := call(ctx)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		p.logger.Debug("llm upstream request",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", attempts),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)

		var wait time.Duration
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			if !isTransientNetError(err) {
				return nil, err
			}
			lastErr = err
		case !shouldRetryStatus(status):
			return resp, nil
		default:
			lastErr = &statusError{status: status}
			wait = parseRetryAfter(resp)
			// close before retrying so the connection can be reused
			resp.Body.Close()
		}

		if attempt == attempts-1 {
			break
		}
		if wait <= 0 {
			wait = computeBackoff(p.baseBackoff, attempt)
		}
		p.logger.Debug("backing off before retry",
			zap.Duration("wait", wait),
			zap.Int("next_attempt", attempt+2),
			zap.NamedError("cause", lastErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	p.logger.Warn("llm request exhausted all retries",
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)
	return nil, fmt.Errorf("max retries (%d) exceeded: %w", attempts, lastErr)
}

// isTransientNetError reports whether a network error is worth retrying.
func isTransientNetError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial", "read", "write":
			return true
		}
	}

	// wrapped errors sometimes lose their type
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"temporary failure",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func shouldRetryStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	case status >= 500 && status <= 599:
		return true
	default:
		return false
	}
}

// parseRetryAfter reads Retry-After as seconds or an HTTP date, capped at
// five minutes. It returns 0 when the header is absent or unusable.
func parseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}

	var d time.Duration
	if seconds, err := strconv.Atoi(v); err == nil {
		d = time.Duration(seconds) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = time.Until(t)
	}
	if d <= 0 {
		return 0
	}
	return min(d, maxRetryAfter)
}

// computeBackoff returns a random duration in [0, base*2^attempt), capped at maxBackoff.
func computeBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	ceiling := base << min(attempt, 10)
	if ceiling <= 0 || ceiling > maxBackoff {
		ceiling = maxBackoff
	}
	return rand.N(ceiling)
}
