package retry

import "context"

// DoTyped is a type-safe wrapper around Controller.Do for calls that produce a value.
//
// Usage:
//
//	img, attempts, err := retry.DoTyped(c, ctx, "huggingface", func(ctx context.Context) (*Image, error) {
//	    return provider.Attempt(ctx, req)
//	})
func DoTyped[T any](c *Controller, ctx context.Context, provider string, fn func(ctx context.Context) (T, error)) (T, int, error) {
	var result T
	attempts, err := c.Do(ctx, provider, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, attempts, err
	}
	return result, attempts, nil
}
