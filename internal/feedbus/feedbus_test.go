package feedbus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphafeed/marketpipe/internal/domain"
)

func quoteAt(symbol string, close float64) *domain.Quote {
	return &domain.Quote{Symbol: symbol, TS: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC), Close: close}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern, topic string
		want           bool
	}{
		{"quotes.600000", "quotes.600000", true},
		{"quotes.600000", "quotes.600001", false},
		{"quotes.*", "quotes.600000", true},
		{"quotes.*", "news.market", false},
		{"news.*", "news.market", true},
		{"quotes.*", "quotes", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Match(tc.pattern, tc.topic), "%s vs %s", tc.pattern, tc.topic)
	}
}

func TestPublishFansOutByPattern(t *testing.T) {
	bus := New(8)
	all := bus.Subscribe("all", "quotes.*")
	one := bus.Subscribe("one", "quotes.600000")
	defer all.Close()
	defer one.Close()

	bus.Publish("quotes.600000", quoteAt("600000", 10))
	bus.Publish("quotes.600519", quoteAt("600519", 1800))

	ctx := context.Background()
	d, err := all.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "quotes.600000", d.Topic)
	d, err = all.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "quotes.600519", d.Topic)

	d, err = one.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "quotes.600000", d.Topic)

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = one.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "non-matching topic not delivered")
}

func TestOverflowDropsOldestAndReportsGap(t *testing.T) {
	bus := New(3)
	var drops int
	bus.OnDrop = func(string) { drops++ }
	sub := bus.Subscribe("slow", "quotes.*")
	defer sub.Close()

	for i := 0; i < 5; i++ {
		bus.Publish("quotes.600000", quoteAt("600000", float64(10+i)))
	}

	ctx := context.Background()
	d, err := sub.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, d.Gap, "gap notification precedes surviving deliveries")
	assert.Equal(t, uint64(2), d.Gap.Dropped)
	assert.Equal(t, 2, drops)

	// Oldest deliveries were discarded; the newest three survive in order.
	for _, want := range []float64{12, 13, 14} {
		d, err = sub.Next(ctx)
		require.NoError(t, err)
		require.NotNil(t, d.Record)
		assert.Equal(t, want, d.Record.(*domain.Quote).Close)
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := New(1)
	slow := bus.Subscribe("slow", "quotes.*")
	fast := bus.Subscribe("fast", "quotes.*")
	defer slow.Close()
	defer fast.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Publish("quotes.600000", quoteAt("600000", float64(i)))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// The fast subscriber still receives well-formed deliveries.
	d, err := fast.Next(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, d.Gap)
}

func TestPatternAddRemove(t *testing.T) {
	bus := New(8)
	sub := bus.Subscribe("s")
	defer sub.Close()

	bus.Publish("quotes.600000", quoteAt("600000", 10))
	sub.Add("quotes.*")
	bus.Publish("quotes.600000", quoteAt("600000", 11))

	d, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 11.0, d.Record.(*domain.Quote).Close, "deliveries before subscribe are not replayed")

	assert.True(t, sub.Remove("quotes.*"))
	assert.False(t, sub.Remove("quotes.*"))
	bus.Publish("quotes.600000", quoteAt("600000", 12))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseDrainsThenReturnsErrClosed(t *testing.T) {
	bus := New(8)
	sub := bus.Subscribe("s", "quotes.*")

	bus.Publish("quotes.600000", quoteAt("600000", 10))
	sub.Close()
	assert.Equal(t, 0, bus.Subscribers())

	d, err := sub.Next(context.Background())
	require.NoError(t, err, "buffered deliveries remain readable")
	assert.Equal(t, "quotes.600000", d.Topic)

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	bus := New(64)
	subs := make([]*Subscription, 4)
	for i := range subs {
		subs[i] = bus.Subscribe(fmt.Sprintf("s%d", i), "quotes.*")
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			bus.Publish("quotes.600000", quoteAt("600000", float64(i)))
		}
	}()
	for _, s := range subs {
		d, err := s.Next(context.Background())
		require.NoError(t, err)
		require.NotNil(t, d.Record)
	}
	<-done
	for _, s := range subs {
		s.Close()
	}
}
