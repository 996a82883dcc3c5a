package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphafeed/marketpipe/internal/dedup"
	"github.com/alphafeed/marketpipe/internal/domain"
	"github.com/alphafeed/marketpipe/internal/enrich"
	"github.com/alphafeed/marketpipe/internal/quarantine"
)

func groupDeps() Deps {
	return Deps{
		Dedup:      dedup.NewMemory(0),
		Quarantine: quarantine.NewMemory(),
		Sink:       newMemWriter(),
	}
}

func TestNewGroupRequiresProcessorPerDomain(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubsub.Close() })
	registry := enrich.NewRegistry(&stubProcessor{})

	_, err := NewGroup([]domain.Domain{domain.Quotes}, pubsub, registry, groupDeps(), 0, 0)
	require.NoError(t, err)

	_, err = NewGroup([]domain.Domain{domain.News}, pubsub, registry, groupDeps(), 0, 0)
	assert.ErrorContains(t, err, "no processor registered for domain news")

	// Empty domain list means all five, which this registry cannot cover.
	_, err = NewGroup(nil, pubsub, registry, groupDeps(), 0, 0)
	assert.Error(t, err)
}

func TestGroupRunStopsOnCancel(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubsub.Close() })
	registry := enrich.NewRegistry(&stubProcessor{})

	deps := groupDeps()
	writer := deps.Sink.(*memWriter)

	g, err := NewGroup([]domain.Domain{domain.Quotes}, pubsub, registry, deps, 1, 10*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	raw := quoteEnvelope(t, "600000", 15.0, time.Now().UTC())
	require.NoError(t, pubsub.Publish(domain.Quotes.InboundTopic(), message.NewMessage("g-1", raw)))

	require.Eventually(t, func() bool {
		return len(writer.written()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("group did not stop on cancel")
	}
}
