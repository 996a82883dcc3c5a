// Package nats provides the NATS Core transport: fire-and-forget pub/sub
// with no ordering, acks, or redelivery. The registry gate rejects it for
// checkpointed raw_* consumption; it stays registered as a low-latency
// fan-out for normalized_* topics. Use nats-jetstream when the checkpoint
// matters.
package nats

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/alphafeed/marketpipe/transport"
)

// TransportName is the pubsub-system config value selecting this transport.
const TransportName = "nats"

// PublisherFactory and SubscriberFactory are swapped out in tests so Build
// can be exercised without a live server.
var (
	PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return nats.NewPublisher(cfg, logger)
	}

	SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return nats.NewSubscriber(cfg, logger)
	}
)

func init() {
	Register()
}

// Register adds the NATS Core transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build wires a core-mode publisher and subscriber against the configured
// server. JetStream is disabled on both sides on purpose: core mode is what
// this transport promises, and the jetstream transport covers the rest.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	coreOnly := nats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(nats.PublisherConfig{
		URL:       url,
		Marshaler: &nats.NATSMarshaler{},
		JetStream: coreOnly,
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("nats publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(nats.SubscriberConfig{
		URL:         url,
		Unmarshaler: &nats.NATSMarshaler{},
		JetStream:   coreOnly,
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("nats subscriber: %w", err)
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
