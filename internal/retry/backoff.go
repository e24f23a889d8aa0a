package retry

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Policy describes the backoff applied between attempts of the same
// operation. DelayForAttempt computes
// min(BaseDelay * 2^(attempt-1), MaxDelay) plus a uniform jitter in
// [0, MaxJitter).
type Policy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	MaxJitter   time.Duration `json:"max_jitter"`
}

// DefaultPolicy returns a sensible default configuration
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxJitter:   time.Second,
	}
}

// ShouldRetry reports whether a failed attempt should be retried on the same
// identity: the error must be retryable and the attempt count below the cap.
func (p Policy) ShouldRetry(attempt int, retryable bool) bool {
	return retryable && attempt < p.MaxAttempts
}

// DelayForAttempt computes the backoff delay before the attempt following
// the given (1-based) attempt number.
func (p Policy) DelayForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > float64(p.MaxDelay) {
			break
		}
	}
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.MaxJitter > 0 {
		delay += secureFloat64() * float64(p.MaxJitter)
	}

	return time.Duration(delay)
}

// Retry executes the operation until it succeeds, the attempt cap is
// reached, or the context is cancelled. Used for startup work such as
// establishing the database connection.
func Retry(ctx context.Context, p Policy, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.DelayForAttempt(attempt)):
		}
	}

	return lastErr
}

// secureFloat64 generates a cryptographically secure float64 in [0, 1).
func secureFloat64() float64 {
	max := big.NewInt(0).SetUint64(math.MaxUint64)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		// Fallback to a time-based value if crypto/rand fails
		return float64(time.Now().UnixNano()%1000000) / 1000000.0
	}
	return float64(n.Uint64()) / float64(math.MaxUint64)
}
