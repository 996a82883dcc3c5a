package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphafeed/marketpipe/internal/domain"
	"github.com/alphafeed/marketpipe/internal/logging"
)

// fakeWriter scripts a sequence of errors, then succeeds.
type fakeWriter struct {
	mu      sync.Mutex
	scripts []error
	written []domain.Record
}

func (f *fakeWriter) Name() string { return "fake" }

func (f *fakeWriter) Write(_ context.Context, rec domain.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scripts) > 0 {
		err := f.scripts[0]
		f.scripts = f.scripts[1:]
		if err != nil {
			return err
		}
	}
	f.written = append(f.written, rec)
	return nil
}

func (f *fakeWriter) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func testQuote() *domain.Quote {
	return &domain.Quote{Symbol: "600000", TS: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC), Close: 10}
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsedTime:  time.Second,
		MaxTries:        5,
	}
}

func TestRetryingSucceedsAfterTransientFailures(t *testing.T) {
	transient := &RetryableError{Sink: "fake", Err: errors.New("connection reset")}
	fake := &fakeWriter{scripts: []error{transient, transient, transient}}
	w := NewRetrying(fake, fastPolicy(), logging.Nop())

	err := w.Write(context.Background(), testQuote())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.writtenCount(), "record persisted exactly once")
}

func TestRetryingExhaustionBecomesFatal(t *testing.T) {
	transient := &RetryableError{Sink: "fake", Err: errors.New("still down")}
	fake := &fakeWriter{scripts: []error{transient, transient, transient, transient, transient, transient}}
	w := NewRetrying(fake, fastPolicy(), logging.Nop())

	var alerted string
	w.OnExhausted = func(name string, err error) { alerted = name }

	err := w.Write(context.Background(), testQuote())
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, "fake", alerted)
	assert.Equal(t, 0, fake.writtenCount())
}

func TestRetryingFatalIsNotRetried(t *testing.T) {
	fatal := &FatalError{Sink: "fake", Err: errors.New("constraint violation")}
	fake := &fakeWriter{scripts: []error{fatal, nil}}
	w := NewRetrying(fake, fastPolicy(), logging.Nop())

	err := w.Write(context.Background(), testQuote())
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 0, fake.writtenCount(), "no retry after a fatal error")
}

func TestMultiStopsAtFirstFailure(t *testing.T) {
	fatal := &FatalError{Sink: "a", Err: errors.New("boom")}
	a := &fakeWriter{scripts: []error{fatal}}
	b := &fakeWriter{}
	multi := NewMulti(a, b)

	err := multi.Write(context.Background(), testQuote())
	require.Error(t, err)
	assert.Equal(t, 0, b.writtenCount())
}

func TestMultiIdempotentDoubleApply(t *testing.T) {
	a := &fakeWriter{}
	multi := NewMulti(a)
	rec := testQuote()

	require.NoError(t, multi.Write(context.Background(), rec))
	require.NoError(t, multi.Write(context.Background(), rec))

	// The fake appends, but a real sink upserts on rec.Key(); equal keys model
	// the idempotence contract.
	assert.Equal(t, a.written[0].Key(), a.written[1].Key())
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("x", nil))
	assert.True(t, IsRetryable(classify("x", context.DeadlineExceeded)))
	assert.True(t, IsFatal(classify("x", errors.New("duplicate key"))))
}
