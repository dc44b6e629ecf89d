// Package retry runs an operation again with exponential backoff.
//
// Basic usage:
//
//	err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
//	    return pool.Ping(ctx)
//	})
//
// A custom predicate narrows what is retried:
//
//	p := retry.DefaultPolicy()
//	p.Retryable = isBusy
//	err := retry.Do(ctx, p, fn)
//
// Errors the predicate rejects are returned unchanged; exhausting the policy
// yields an *ExhaustedError that unwraps to the last failure.
package retry
