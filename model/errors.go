package model

import (
	"context"
	"errors"
)

// permanentError marks a gateway failure that a retry cannot fix
// (authentication, malformed request, unknown model).
type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }

func (e permanentError) Unwrap() error { return e.err }

// MarkPermanent wraps err so retry loops give up immediately.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}

	return permanentError{err: err}
}

// IsRetryable reports whether a Generate error should be retried.
//
// Transport, provider and decoding failures are retryable by default.
// Context cancellation and errors marked with MarkPermanent are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var target permanentError

	return !errors.As(err, &target)
}

// ClassifyHTTPStatus marks client errors as permanent except timeouts and
// rate limiting. Provider adapters call it with the SDK's status code.
func ClassifyHTTPStatus(err error, status int) error {
	if status >= 400 && status < 500 && status != 408 && status != 409 && status != 429 {
		return MarkPermanent(err)
	}

	return err
}
