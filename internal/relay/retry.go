package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"
)

// retryPolicy bounds how often a device call is repeated after a transient
// network failure. The delay starts at backoff and doubles up to ceiling.
type retryPolicy struct {
	attempts int
	backoff  time.Duration
	ceiling  time.Duration
}

var defaultRetryPolicy = retryPolicy{
	attempts: 3,
	backoff:  120 * time.Millisecond,
	ceiling:  800 * time.Millisecond,
}

func (p retryPolicy) delay(attempt int) time.Duration {
	if p.backoff <= 0 || attempt < 1 {
		return 0
	}
	return min(p.backoff<<min(attempt-1, 16), max(p.ceiling, p.backoff))
}

// call runs fn until it succeeds, fails permanently or runs out of
// attempts. onRetry, when set, sees every failure that is retried.
func (p retryPolicy) call(ctx context.Context, fn func() error, onRetry func(attempt int, delay time.Duration, err error)) error {
	attempts := max(p.attempts, 1)
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || attempt >= attempts || !isTransient(err) {
			return err
		}

		delay := p.delay(attempt)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

var transientErrnos = []syscall.Errno{
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ECONNABORTED,
	syscall.EPIPE,
	syscall.ETIMEDOUT,
	syscall.ENETUNREACH,
	syscall.EHOSTUNREACH,
}

// isTransient reports network failures worth another attempt. Caller
// cancellation never is.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
