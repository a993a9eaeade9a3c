// internal/store/retry.go
package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultRetries bounds how often a conflicting transaction is replayed.
const DefaultRetries = 3

// Retry runs InTx until it succeeds, fails with a non-retryable error, or
// exhausts attempts. fn must not have effects outside the transaction.
func Retry(ctx context.Context, s Store, attempts uint, fn func(tx Tx) error) error {
	if attempts == 0 {
		attempts = DefaultRetries
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.InTx(ctx, fn)
		if err != nil && !IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(attempts))
	return err
}
