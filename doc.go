// Package marketpipe ingests raw market-data records from partitioned log
// topics, normalizes them, and distributes the results.
//
// Five record domains are consumed independently: quotes, announcements,
// financials, news, and sentiment. Each domain worker decodes the collector
// envelope, checks the schema, deduplicates by payload hash, validates and
// enriches the record, persists it to the sinks, and republishes it on the
// normalized topic. The consumer checkpoint only advances after the record is
// durable, so redelivery after a crash replays into idempotent upserts.
//
// Records that fail schema or validation checks are quarantined with the
// failure reason rather than dropped. Sink failures are retried with bounded
// backoff; an exhausted budget stalls the partition instead of losing data.
//
// The gateway (internal/gateway) serves the normalized data to clients: a
// signed REST API for point and history queries and a websocket feed fed by
// the in-process publication bus (internal/feedbus), with per-client quotas
// and bounded queues that report loss as explicit gap events.
//
// The broker backend is selected by configuration; see the transport package
// for the registry and the kafka, nats, jetstream, and channel
// implementations.
//
// Command pipelined (cmd/pipelined) wires everything into one daemon.
package marketpipe
