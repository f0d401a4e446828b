package tool

import "errors"

// DefaultRetryAttempts bounds retries for probabilistically unique tokens.
const DefaultRetryAttempts = 5

// ErrRetry marks an error as worth another attempt.
var ErrRetry = errors.New("retryable")

// Retry calls fn up to attempts times while it returns an error wrapping ErrRetry.
// Any other error stops immediately. The last error is returned unchanged.
func Retry(attempts int, fn func(attempt int) error) error {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(i); err == nil {
			return nil
		}
		if !errors.Is(err, ErrRetry) {
			return err
		}
	}
	return err
}
