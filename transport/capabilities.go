package transport

import "fmt"

// Capabilities describes the features supported by a transport backend. The
// daemon uses this to decide whether a backend can carry checkpointed
// partition consumption or only best-effort fan-out.
type Capabilities struct {
	// SupportsOrdering indicates messages within a partition/stream are
	// delivered in order.
	SupportsOrdering bool

	// SupportsAck indicates the transport supports explicit message
	// acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment
	// (redelivery).
	SupportsNack bool

	// SupportsPartitioning indicates the transport shards topics so multiple
	// consumers split the key space.
	SupportsPartitioning bool

	// SupportsBatching indicates the transport can batch multiple messages.
	SupportsBatching bool

	// SupportsTracing indicates the transport propagates tracing headers.
	SupportsTracing bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string

	// Version is the transport/driver version.
	Version string
}

// SupportsReliableDelivery returns true if the transport supports
// at-least-once delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// SuitsPartitionedLog reports whether checkpoint-after-durable-write
// consumption is sound on this backend. Without ordering and acks the
// pipeline cannot guarantee in-order, effectively-once persistence.
func (c Capabilities) SuitsPartitionedLog() bool {
	return c.SupportsOrdering && c.SupportsAck
}

// Predefined capability sets for the supported transports.
var (
	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// KafkaCapabilities for the Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsAck:          true,
		SupportsNack:         false,
		SupportsPartitioning: true,
		SupportsBatching:     true,
		SupportsTracing:      true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// NATSCapabilities for the NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576, // Default 1MB
	}

	// NATSJetStreamCapabilities for the NATS JetStream transport.
	NATSJetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsBatching: true,
		SupportsTracing:  true,
		MaxMessageSize:   1048576, // Default 1MB
	}
)

// GetCapabilities returns the capabilities for a transport by name, looked up
// in the default registry. Returns a zero Capabilities struct if the
// transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}

// EnsureSuitsPartitionedLog errors when the named transport cannot back
// checkpoint-after-durable-write consumption. The daemon calls it before
// building the transport, so a broker without ordered delivery and explicit
// acks (NATS Core) refuses to start instead of silently running without a
// durable checkpoint.
func (r *Registry) EnsureSuitsPartitionedLog(name string) error {
	if !r.Has(name) {
		return fmt.Errorf("unknown transport: %q (registered: %v)", name, r.Names())
	}
	if caps := r.GetCapabilities(name); !caps.SuitsPartitionedLog() {
		return fmt.Errorf("transport %q cannot back checkpointed log consumption: it lacks ordered delivery with explicit acks", name)
	}
	return nil
}

// EnsureSuitsPartitionedLog checks the named transport in the default registry.
func EnsureSuitsPartitionedLog(name string) error {
	return DefaultRegistry.EnsureSuitsPartitionedLog(name)
}
