package transport

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
)

func TestSupportsReliableDelivery(t *testing.T) {
	assert.True(t, NATSJetStreamCapabilities.SupportsReliableDelivery())
	assert.True(t, ChannelCapabilities.SupportsReliableDelivery())
	assert.False(t, KafkaCapabilities.SupportsReliableDelivery(), "kafka acks by offset, no per-message nack")
	assert.False(t, NATSCapabilities.SupportsReliableDelivery())
}

func TestSuitsPartitionedLog(t *testing.T) {
	assert.True(t, KafkaCapabilities.SuitsPartitionedLog())
	assert.True(t, NATSJetStreamCapabilities.SuitsPartitionedLog())
	assert.True(t, ChannelCapabilities.SuitsPartitionedLog())
	assert.False(t, NATSCapabilities.SuitsPartitionedLog(), "core NATS has no ordering or acks")
}

func TestPredefinedCapabilityNames(t *testing.T) {
	assert.Equal(t, "channel", ChannelCapabilities.Name)
	assert.Equal(t, "kafka", KafkaCapabilities.Name)
	assert.Equal(t, "nats", NATSCapabilities.Name)
	assert.Equal(t, "nats-jetstream", NATSJetStreamCapabilities.Name)
}

func TestOnlyKafkaPartitions(t *testing.T) {
	assert.True(t, KafkaCapabilities.SupportsPartitioning)
	assert.False(t, NATSJetStreamCapabilities.SupportsPartitioning)
	assert.False(t, ChannelCapabilities.SupportsPartitioning)
}

func TestEnsureSuitsPartitionedLog(t *testing.T) {
	noop := func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, nil
	}

	r := NewRegistry()
	r.RegisterWithCapabilities("kafka", noop, KafkaCapabilities)
	r.RegisterWithCapabilities("nats-jetstream", noop, NATSJetStreamCapabilities)
	r.RegisterWithCapabilities("nats", noop, NATSCapabilities)
	r.RegisterWithCapabilities("channel", noop, ChannelCapabilities)

	assert.NoError(t, r.EnsureSuitsPartitionedLog("kafka"))
	assert.NoError(t, r.EnsureSuitsPartitionedLog("nats-jetstream"))
	assert.NoError(t, r.EnsureSuitsPartitionedLog("channel"))

	err := r.EnsureSuitsPartitionedLog("nats")
	assert.ErrorContains(t, err, `transport "nats" cannot back checkpointed log consumption`)

	err = r.EnsureSuitsPartitionedLog("rabbitmq")
	assert.ErrorContains(t, err, `unknown transport: "rabbitmq"`)
}
