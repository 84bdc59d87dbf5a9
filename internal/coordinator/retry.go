package coordinator

import (
	"context"
	"errors"

	"github.com/Klingon-tech/klingnet-wallet/internal/chain"
	"github.com/cenkalti/backoff/v4"
)

// backOff returns an exponential policy bounded to retries attempts after
// the first and cancelled with ctx.
func (c *Coordinator) backOff(ctx context.Context, retries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitial
	b.MaxInterval = c.cfg.RetryMax
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// retryChain retries op while it fails with chain.ErrNodeUnavailable.
func retryChain[T any](ctx context.Context, b backoff.BackOff, op func(context.Context) (T, error)) (T, error) {
	return backoff.RetryWithData(func() (T, error) {
		v, err := op(ctx)
		if err != nil && !errors.Is(err, chain.ErrNodeUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, b)
}
