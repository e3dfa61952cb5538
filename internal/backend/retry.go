package backend

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
)

const (
	retryInitialInterval = 250 * time.Millisecond
	retryBudget          = 5 * time.Second
)

// Retry runs op with a small bounded exponential backoff, stopping as soon
// as op returns nil, a non-transient error, or ctx is done. This is a
// small per-call budget for retrying transport errors inside a single
// List call — adapters must not retry indefinitely or across ticks, only
// within their own drain.
func Retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxElapsedTime = retryBudget
	policy := backoff.WithContext(b, ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func isTransient(err error) bool {
	var transient *TransientBackendError
	return errors.As(err, &transient)
}
