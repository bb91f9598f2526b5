// Package httputil provides retry helpers for registry HTTP calls.
//
// [Retry] re-runs an operation with exponential backoff, but only when the
// failure is wrapped in [RetryableError]. Callers decide what is transient:
// the registry client marks network errors, 429 and 5xx responses as
// retryable and leaves authentication failures and one-time-password
// challenges alone so they surface immediately.
//
//	err := httputil.Retry(ctx, 3, time.Second, func() error {
//	    resp, err := client.Do(req)
//	    if err != nil {
//	        return &httputil.RetryableError{Err: err}
//	    }
//	    ...
//	})
package httputil
