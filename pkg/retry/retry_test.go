package retry

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tempErr struct{ temp bool }

func (e tempErr) Error() string   { return "temp" }
func (e tempErr) Temporary() bool { return e.temp }

// instant replaces timers so tests never sleep.
func instant(p Policy) Policy {
	p.after = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	p.rnd = rand.New(rand.NewSource(1))
	return p
}

func TestDefaultRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"eof", io.ErrUnexpectedEOF, true},
		{"conn refused", &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}, true},
		{"temporary", tempErr{true}, true},
		{"permanent", tempErr{false}, false},
		{"plain", errors.New("plain"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultRetryable(tt.err))
		})
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	var seen []int
	p := instant(DefaultPolicy())
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { seen = append(seen, attempt) }

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return context.DeadlineExceeded
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDo_NonRetryableReturnedAsIs(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), instant(DefaultPolicy()), func(context.Context) error {
		calls++
		return boom
	})
	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestDo_Exhausted(t *testing.T) {
	p := instant(DefaultPolicy())
	p.Retryable = func(error) bool { return true }
	err := Do(context.Background(), p, func(context.Context) error { return io.EOF })

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDo_MaxElapsed(t *testing.T) {
	p := instant(DefaultPolicy())
	p.MaxAttempts = 10
	p.Jitter = false
	p.InitialDelay = time.Second
	p.MaxElapsed = 500 * time.Millisecond
	err := Do(context.Background(), p, func(context.Context) error { return io.EOF })

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 1, ex.Attempts)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, DefaultPolicy(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_InvalidPolicy(t *testing.T) {
	err := Do(context.Background(), Policy{}, func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestDelay(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	require.NoError(t, p.normalize())
	assert.Equal(t, 100*time.Millisecond, p.delay(1))
	assert.Equal(t, 200*time.Millisecond, p.delay(2))
	assert.Equal(t, 800*time.Millisecond, p.delay(4))
	assert.Equal(t, time.Second, p.delay(5))

	p.Jitter = true
	for i := 0; i < 20; i++ {
		d := p.delay(2)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.Less(t, d, 300*time.Millisecond)
	}
}

type hintErr time.Duration

func (e hintErr) Error() string             { return "busy" }
func (e hintErr) RetryAfter() time.Duration { return time.Duration(e) }

func TestDo_DelayerOverridesBackoff(t *testing.T) {
	var waits []time.Duration
	p := instant(DefaultPolicy())
	p.MaxDelay = 5 * time.Second
	p.Retryable = func(error) bool { return true }
	p.OnRetry = func(_ int, _ error, d time.Duration) { waits = append(waits, d) }

	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls == 1 {
			return hintErr(2 * time.Second)
		}
		if calls == 2 {
			return hintErr(time.Minute)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 5 * time.Second}, waits)
}
