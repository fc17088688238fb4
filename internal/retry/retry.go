// Package retry implements the chunk-local retry/backoff decorator
// (spec.md §9, §4.4): an explicit RetryPolicy value rather than a
// per-function decorator, built on cenkalti/backoff/v4. The classify
// step mirrors pkg/mcp/recovery.go's ClassifyError — a pure function from
// error to an action — generalized from {NoRetry, RetrySameSession,
// RetryNewSession} to the pipeline's {retry, fatal} decision.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/avesa-io/avesa/internal/avesaerr"
)

// Policy is the explicit retry/backoff value threaded into the Chunk
// Processor (spec.md §9).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterRatio float64
}

// Default matches spec.md §4.4: up to 3 retries after the first attempt
// (MaxAttempts 4), base 2s, cap 60s, ±20% jitter.
var Default = Policy{
	MaxAttempts: 4,
	BaseDelay:   2 * time.Second,
	MaxDelay:    60 * time.Second,
	JitterRatio: 0.2,
}

// Classify reports whether err should be retried in place. Only Transient
// and RateLimited kinds are retryable (spec.md §7); everything else is
// fatal to the current attempt.
func Classify(err error) bool {
	k, ok := kindOf(err)
	if !ok {
		return false
	}
	return avesaerr.Retryable(k)
}

func kindOf(err error) (avesaerr.Kind, bool) {
	for _, k := range []avesaerr.Kind{
		avesaerr.KindTransient, avesaerr.KindRateLimited, avesaerr.KindAuthFailure,
		avesaerr.KindUnknownService, avesaerr.KindMappingError, avesaerr.KindRecordReject,
		avesaerr.KindCancelled, avesaerr.KindTimeout, avesaerr.KindFatal,
		avesaerr.KindNotFound, avesaerr.KindConflict, avesaerr.KindAlreadyTerminal,
	} {
		if avesaerr.Is(err, k) {
			return k, true
		}
	}
	return avesaerr.KindUnknown, false
}

// Do runs fn up to p.MaxAttempts times, backing off between attempts
// whenever Classify(err) reports the error retryable. It stops early and
// returns the last error unmodified when the error is not retryable, ctx
// is cancelled, or attempts are exhausted.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = p.JitterRatio
	b.Multiplier = 2
	b.MaxElapsedTime = 0 // bounded by MaxAttempts, not elapsed time

	bctx := backoff.WithContext(b, ctx)

	var lastErr error
	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt >= p.MaxAttempts {
			return backoff.Permanent(err)
		}
		if !Classify(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(operation, bctx); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

