package sink

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alphafeed/marketpipe/internal/domain"
	"github.com/alphafeed/marketpipe/internal/logging"
)

// RetryPolicy bounds the backoff applied to retryable sink failures. The
// elapsed cap is deliberately configuration, not a constant: it is the point
// where a partition chooses stalling over data loss.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxTries        uint
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = 200 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 5 * time.Second
	}
	if p.MaxElapsedTime <= 0 {
		p.MaxElapsedTime = 30 * time.Second
	}
	if p.MaxTries == 0 {
		p.MaxTries = 10
	}
	return p
}

// Retrying wraps a Writer with bounded exponential backoff. Exhausting the
// budget converts the failure into a FatalError so the partition stalls and
// an alert is raised.
type Retrying struct {
	inner  Writer
	policy RetryPolicy
	logger logging.Logger

	// OnExhausted fires when the retry budget runs out; the daemon hooks the
	// alert metric here.
	OnExhausted func(sinkName string, err error)
}

func NewRetrying(inner Writer, policy RetryPolicy, logger logging.Logger) *Retrying {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Retrying{inner: inner, policy: policy.withDefaults(), logger: logger}
}

func (r *Retrying) Name() string { return r.inner.Name() }

func (r *Retrying) Write(ctx context.Context, rec domain.Record) error {
	operation := func() (struct{}, error) {
		err := r.inner.Write(ctx, rec)
		switch {
		case err == nil:
			return struct{}{}, nil
		case IsRetryable(err):
			r.logger.Debug("sink write retrying", logging.Fields{
				"sink": r.inner.Name(), "key": rec.Key(), "error": err.Error(),
			})
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.policy.InitialInterval
	policy.MaxInterval = r.policy.MaxInterval

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(r.policy.MaxTries),
		backoff.WithMaxElapsedTime(r.policy.MaxElapsedTime),
	)
	if err == nil {
		return nil
	}
	if IsFatal(err) {
		return err
	}

	// Retry budget exhausted on a transient failure.
	fatal := &FatalError{Sink: r.inner.Name(), Err: err}
	r.logger.Error("sink retry budget exhausted, stalling partition", err, logging.Fields{
		"sink": r.inner.Name(), "key": rec.Key(),
	})
	if r.OnExhausted != nil {
		r.OnExhausted(r.inner.Name(), err)
	}
	return fatal
}
