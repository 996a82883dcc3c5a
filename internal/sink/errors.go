package sink

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// RetryableError marks a transient storage failure; the retry wrapper backs
// off and tries again up to the configured cap.
type RetryableError struct {
	Sink string
	Err  error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("sink %s: retryable: %v", e.Sink, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError halts checkpoint advancement for the partition that hit it. The
// consumer stalls rather than silently losing data.
type FatalError struct {
	Sink string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("sink %s: fatal: %v", e.Sink, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsRetryable reports whether err may resolve on its own.
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// IsFatal reports whether err must stall the partition.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// classify wraps raw adapter errors: timeouts and network failures are
// transient, everything else (constraint violations, serialization bugs)
// will not improve with retries.
func classify(sink string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &RetryableError{Sink: sink, Err: err}
	case errors.As(err, &netErr):
		return &RetryableError{Sink: sink, Err: err}
	}
	return &FatalError{Sink: sink, Err: err}
}
