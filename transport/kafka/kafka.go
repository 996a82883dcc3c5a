// Package kafka backs the raw_* logs with Apache Kafka. Collectors key
// messages by source so each partition is an ordered shard, the consumer
// group splits partitions across pipelined instances, and the offset commit
// on ack is the pipeline checkpoint.
package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/alphafeed/marketpipe/transport"
)

// TransportName is the pubsub-system config value selecting this transport.
const TransportName = "kafka"

// PublisherFactory and SubscriberFactory are swapped out in tests so Build
// can be exercised without a live broker.
var (
	PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return kafka.NewPublisher(cfg, logger)
	}

	SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return kafka.NewSubscriber(cfg, logger)
	}
)

func init() {
	Register()
}

// Register adds the Kafka transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build wires a publisher and a consumer-group subscriber against the
// configured brokers.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	publisher, err := buildPublisher(cfg, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("kafka publisher: %w", err)
	}

	subscriber, err := buildSubscriber(cfg, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("kafka subscriber: %w", err)
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func buildPublisher(cfg transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	saramaCfg := kafka.DefaultSaramaSyncPublisherConfig()
	saramaCfg.ClientID = cfg.GetKafkaClientID()

	return PublisherFactory(kafka.PublisherConfig{
		Brokers:               cfg.GetKafkaBrokers(),
		Marshaler:             kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: saramaCfg,
	}, logger)
}

func buildSubscriber(cfg transport.Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	saramaCfg := kafka.DefaultSaramaSubscriberConfig()
	saramaCfg.ClientID = cfg.GetKafkaClientID()
	// A consumer group without committed offsets must start at the oldest
	// offset, or the first deploy skips everything the collectors published
	// before it.
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	return SubscriberFactory(kafka.SubscriberConfig{
		Brokers:               cfg.GetKafkaBrokers(),
		Unmarshaler:           kafka.DefaultMarshaler{},
		ConsumerGroup:         cfg.GetKafkaConsumerGroup(),
		OverwriteSaramaConfig: saramaCfg,
	}, logger)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
