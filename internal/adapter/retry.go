package adapter

import (
	"context"
	"time"

	"github.com/avast/retry-go"

	"github.com/moorhen/cartograph/internal/models"
)

// DefaultCallTimeout bounds a single adapter call.
const DefaultCallTimeout = 120 * time.Second

// Transient failures get 3 attempts with 1s-base factor-2 backoff.
const (
	retryAttempts = 3
	retryBaseWait = time.Second
)

// do runs fn under the call timeout, retrying transient failures with
// exponential backoff. Permanent errors return immediately.
func do(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()

	return retry.Do(
		func() error { return fn(callCtx) },
		retry.Context(callCtx),
		retry.Attempts(retryAttempts),
		retry.Delay(retryBaseWait),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(models.IsTransient),
	)
}

// DescribeWithRetry calls Describe with transient-error retry. Absence
// (nil, nil) is a successful answer, never retried.
func DescribeWithRetry(ctx context.Context, a CloudAdapter, nativeID string, resourceType models.ResourceType) (map[string]interface{}, error) {
	var props map[string]interface{}
	err := do(ctx, func(ctx context.Context) error {
		var callErr error
		props, callErr = a.Describe(ctx, nativeID, resourceType)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return props, nil
}

// DiscoverWithRetry calls Discover with transient-error retry.
func DiscoverWithRetry(ctx context.Context, a CloudAdapter, opts DiscoverOptions) (*Discovery, error) {
	var disc *Discovery
	err := do(ctx, func(ctx context.Context) error {
		var callErr error
		disc, callErr = a.Discover(ctx, opts)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return disc, nil
}

// MutateWithRetry calls Mutate with transient-error retry. Mutations are
// retried only on transport-level transience; provider-side validation
// failures surface immediately.
func MutateWithRetry(ctx context.Context, a CloudAdapter, action models.RequestAction, nativeID string, resourceType models.ResourceType, properties map[string]interface{}) error {
	return do(ctx, func(ctx context.Context) error {
		return a.Mutate(ctx, action, nativeID, resourceType, properties)
	})
}
