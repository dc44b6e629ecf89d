package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/url"
	"os"
	"syscall"
	"time"
)

// Policy defines how an operation is retried.
type Policy struct {
	// MaxAttempts counts the first attempt too.
	MaxAttempts int
	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps every single wait.
	MaxDelay time.Duration
	// MaxElapsed caps the total time spent (0 = no limit).
	MaxElapsed time.Duration
	// Multiplier grows the wait between attempts.
	Multiplier float64
	// Jitter spreads waits within [delay, 1.5*delay].
	Jitter bool
	// Retryable decides whether an error is worth another attempt.
	// DefaultRetryable is used when nil.
	Retryable func(err error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)

	rnd   *rand.Rand
	now   func() time.Time
	after func(d time.Duration) <-chan time.Time
}

// DefaultPolicy returns three attempts with jittered exponential backoff from 100ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (p *Policy) normalize() error {
	if p.MaxAttempts <= 0 {
		return errors.New("retry: MaxAttempts must be positive")
	}
	if p.InitialDelay <= 0 {
		return errors.New("retry: InitialDelay must be positive")
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.InitialDelay > p.MaxDelay {
		return errors.New("retry: InitialDelay cannot exceed MaxDelay")
	}
	if p.Multiplier == 0 {
		p.Multiplier = 2.0
	}
	if p.Multiplier < 1.0 {
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	if p.MaxElapsed < 0 {
		return errors.New("retry: MaxElapsed cannot be negative")
	}
	if p.Retryable == nil {
		p.Retryable = DefaultRetryable
	}
	if p.rnd == nil {
		p.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.after == nil {
		p.after = time.After
	}
	return nil
}

// ExhaustedError is returned when a retryable error outlived the policy.
type ExhaustedError struct {
	Last     error
	Attempts int
	Elapsed  time.Duration
	Reason   string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %s after %s (%d attempts): %v", e.Reason, e.Elapsed, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Delayer is implemented by errors that carry a server-requested wait
// (HTTP Retry-After). A positive value replaces the computed backoff.
type Delayer interface {
	RetryAfter() time.Duration
}

// DefaultRetryable accepts timeouts and transient network failures.
// Cancellation is never retried.
func DefaultRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var dnsErr *net.DNSError
		if errors.As(urlErr.Err, &dnsErr) && dnsErr.IsTemporary {
			return true
		}
	}

	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		switch sysErr.Err {
		case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
			syscall.ENETDOWN, syscall.ENETUNREACH, syscall.EPIPE,
			syscall.EHOSTUNREACH, syscall.ETIMEDOUT:
			return true
		}
	}

	type temporary interface{ Temporary() bool }
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy
// is exhausted. Non-retryable errors are returned unwrapped.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if err := p.normalize(); err != nil {
		return err
	}

	start := p.now()
	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !p.Retryable(last) {
			return last
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.delay(attempt)
		var hint Delayer
		if errors.As(last, &hint) {
			if d := hint.RetryAfter(); d > 0 {
				delay = min(d, p.MaxDelay)
			}
		}
		if p.MaxElapsed > 0 {
			elapsed := p.now().Sub(start)
			if elapsed+delay > p.MaxElapsed {
				return &ExhaustedError{Last: last, Attempts: attempt, Elapsed: elapsed, Reason: "max elapsed time exceeded"}
			}
		}
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); delay > remaining {
				delay = remaining
			}
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, last, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.after(delay):
		}
	}

	return &ExhaustedError{Last: last, Attempts: p.MaxAttempts, Elapsed: p.now().Sub(start), Reason: "max attempts exceeded"}
}

// delay computes the wait after the given attempt.
func (p Policy) delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		if float64(d)*p.Multiplier >= float64(p.MaxDelay) {
			d = p.MaxDelay
			break
		}
		d = time.Duration(float64(d) * p.Multiplier)
	}
	if p.Jitter && d > 1 {
		d += time.Duration(p.rnd.Int63n(int64(d / 2)))
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
