package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/url"
	"syscall"
	"time"

	"google.golang.org/api/googleapi"
)

// Policy defines bounded exponential backoff
type Policy struct {
	MaxRetries   int           `yaml:"max_retries"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	JitterFactor float64       `yaml:"jitter_factor"`
}

// DefaultPolicy retries three times starting at one second, capped at thirty
var DefaultPolicy = Policy{
	MaxRetries:   3,
	BaseDelay:    time.Second,
	MaxDelay:     30 * time.Second,
	JitterFactor: 0.2,
}

// NoRetry runs the operation exactly once
var NoRetry = Policy{}

// Delay returns the wait before the given retry attempt (1-based).
// It is min(base*2^(attempt-1), max) plus uniform jitter of +/- JitterFactor.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	exp := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	capped := math.Min(exp, float64(p.MaxDelay))
	jitter := capped * p.JitterFactor * (rand.Float64()*2 - 1)
	d := capped + jitter
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// StatusCoder is implemented by errors that carry an HTTP status
type StatusCoder interface {
	HTTPStatus() int
}

// Classifier decides whether an error is worth another attempt
type Classifier func(error) bool

// IsRetryableStatus reports whether an HTTP status is transient
func IsRetryableStatus(status int) bool {
	return status == 429 || status == 503 || (status >= 500 && status <= 599)
}

// IsRetryable is the default classifier: rate limits, server errors and
// transient network failures are retried, everything else is fatal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return IsRetryableStatus(sc.HTTPStatus())
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return IsRetryableStatus(gerr.Code)
	}

	// Malformed URLs never get better
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Op == "parse" {
		return false
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// Executor runs operations under a retry policy
type Executor struct {
	Policy   Policy
	Classify Classifier
	Logger   *slog.Logger

	// sleep is swapped in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor; a nil classifier uses IsRetryable
func NewExecutor(policy Policy, classify Classifier, logger *slog.Logger) *Executor {
	if classify == nil {
		classify = IsRetryable
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{Policy: policy, Classify: classify, Logger: logger, sleep: sleepContext}
}

// Do executes op, retrying retryable failures. The last error is returned
// once retries are exhausted.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	classify := e.Classify
	if classify == nil {
		classify = IsRetryable
	}
	sleep := e.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 0; attempt <= e.Policy.MaxRetries; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= e.Policy.MaxRetries || !classify(lastErr) {
			return lastErr
		}

		delay := e.Policy.Delay(attempt + 1)
		if e.Logger != nil {
			e.Logger.Debug("retrying after error", "attempt", attempt+1, "delay", delay, "error", lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// Value runs op through the executor and returns its result
func Value[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
