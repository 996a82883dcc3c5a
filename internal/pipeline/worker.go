// Package pipeline runs the partitioned consumer loop: decode, schema check,
// dedup, process, persist, publish, checkpoint. One worker consumes one raw
// domain topic; the broker's consumer group splits partitions across
// instances. The checkpoint (message ack) only advances after the record is
// durably persisted or durably quarantined, so a crash at any point replays
// into idempotent upserts instead of losing data.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/alphafeed/marketpipe/internal/dedup"
	"github.com/alphafeed/marketpipe/internal/domain"
	"github.com/alphafeed/marketpipe/internal/enrich"
	"github.com/alphafeed/marketpipe/internal/envelope"
	"github.com/alphafeed/marketpipe/internal/feedbus"
	"github.com/alphafeed/marketpipe/internal/ids"
	"github.com/alphafeed/marketpipe/internal/jsoncodec"
	"github.com/alphafeed/marketpipe/internal/logging"
	"github.com/alphafeed/marketpipe/internal/obs"
	"github.com/alphafeed/marketpipe/internal/quarantine"
	"github.com/alphafeed/marketpipe/internal/sink"
)

const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = time.Second
)

// Deps are the collaborators one worker operates against. Processor, Dedup,
// Quarantine, and Sink are required; the rest degrade gracefully when nil.
type Deps struct {
	Processor  enrich.Processor
	Dedup      dedup.Store
	Quarantine quarantine.Store
	Sink       sink.Writer
	Archive    sink.BlobArchiver
	Bus        *feedbus.Bus
	Publisher  message.Publisher
	Metrics    *obs.Metrics
	Logger     logging.Logger
}

func (d Deps) validate() error {
	var errs []error
	if d.Processor == nil {
		errs = append(errs, errors.New("processor is required"))
	}
	if d.Dedup == nil {
		errs = append(errs, errors.New("dedup store is required"))
	}
	if d.Quarantine == nil {
		errs = append(errs, errors.New("quarantine store is required"))
	}
	if d.Sink == nil {
		errs = append(errs, errors.New("sink is required"))
	}
	return errors.Join(errs...)
}

// Worker consumes one raw domain topic.
type Worker struct {
	domain        domain.Domain
	topic         string
	subscriber    message.Subscriber
	deps          Deps
	batchSize     int
	flushInterval time.Duration
	logger        logging.Logger

	// pending holds the payload hashes accepted into the current batch but
	// not yet marked in the dedup store, so a duplicate arriving inside one
	// batch window is still dropped.
	pending map[string]struct{}
}

func NewWorker(d domain.Domain, subscriber message.Subscriber, deps Deps, batchSize int, flushInterval time.Duration) (*Worker, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("pipeline worker %s: %w", d, err)
	}
	if deps.Processor.ProcessorDomain() != d {
		return nil, fmt.Errorf("pipeline worker %s: processor handles %s", d, deps.Processor.ProcessorDomain())
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Worker{
		domain:        d,
		topic:         d.InboundTopic(),
		subscriber:    subscriber,
		deps:          deps,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger.With(logging.Fields{"topic": d.InboundTopic()}),
		pending:       make(map[string]struct{}),
	}, nil
}

// item is one accepted record waiting in the current batch with its source
// message, which is acked only after the flush persists and publishes it.
type item struct {
	msg *message.Message
	env *envelope.Envelope
	rec domain.Record
}

// Run consumes until the context is cancelled or a fatal error stalls the
// partition. In both cases in-flight messages are left unacked, so the broker
// redelivers them on restart.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.subscriber.Subscribe(ctx, w.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", w.topic, err)
	}
	w.logger.Info("pipeline worker started", logging.Fields{"domain": string(w.domain)})

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]item, 0, w.batchSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			if err := w.flush(ctx, &batch); err != nil {
				return err
			}

		case msg, ok := <-messages:
			if !ok {
				return w.flush(ctx, &batch)
			}
			if err := w.accept(ctx, msg, &batch); err != nil {
				return err
			}
			closed, err := w.drain(ctx, messages, &batch)
			if err != nil {
				return err
			}
			// Flush whatever the drain gathered. Brokers that gate the next
			// delivery on the previous ack hand over one message at a time,
			// so waiting for a fuller batch would deadlock against the
			// worker's own unacked messages.
			if err := w.flush(ctx, &batch); err != nil {
				return err
			}
			if closed {
				return nil
			}
		}
	}
}

func (w *Worker) accept(ctx context.Context, msg *message.Message, batch *[]item) error {
	it, accepted, err := w.ingest(ctx, msg)
	if err != nil {
		w.logger.Error("partition stalled", err, logging.Fields{"message": msg.UUID})
		return err
	}
	if accepted {
		*batch = append(*batch, it)
		w.pending[it.env.PayloadHash] = struct{}{}
		w.setLag(len(*batch))
	}
	return nil
}

// drain gathers deliveries that are already buffered, without blocking, up to
// the batch size.
func (w *Worker) drain(ctx context.Context, messages <-chan *message.Message, batch *[]item) (closed bool, err error) {
	for len(*batch) < w.batchSize {
		select {
		case msg, ok := <-messages:
			if !ok {
				return true, nil
			}
			if err := w.accept(ctx, msg, batch); err != nil {
				return false, err
			}
		default:
			return false, nil
		}
	}
	return false, nil
}

// ingest runs the pre-persistence stages for one message. It acks and drops
// decode failures, duplicates, and quarantined records itself; accepted
// records join the batch unacked. A returned error means an infrastructure
// dependency failed and the partition must stall without acking.
func (w *Worker) ingest(ctx context.Context, msg *message.Message) (item, bool, error) {
	ctx, span := obs.StartSpan(ctx, "ingest", w.topic)
	defer span.End()

	env, err := envelope.Decode(msg.Payload)
	if err != nil {
		w.countOutcome(obs.OutcomeDecodeDrop)
		w.logger.Info("dropping undecodable record", logging.Fields{
			"message": msg.UUID, "error": err.Error(),
		})
		msg.Ack()
		return item{}, false, nil
	}

	if schemaErr := w.checkSchema(env); schemaErr != nil {
		if err := w.quarantineEnvelope(ctx, msg, env, quarantine.StageSchema, schemaErr.Error()); err != nil {
			return item{}, false, err
		}
		return item{}, false, nil
	}

	seen, err := w.deps.Dedup.Seen(ctx, w.domain, env.PayloadHash)
	if err != nil {
		return item{}, false, fmt.Errorf("dedup lookup: %w", err)
	}
	if _, inBatch := w.pending[env.PayloadHash]; seen || inBatch {
		w.countOutcome(obs.OutcomeDuplicate)
		w.logger.Debug("dropping duplicate record", logging.Fields{"hash": env.PayloadHash})
		msg.Ack()
		return item{}, false, nil
	}

	rec, entry, err := w.deps.Processor.Process(ctx, env)
	if err != nil {
		return item{}, false, fmt.Errorf("process: %w", err)
	}
	if entry != nil {
		if err := w.quarantineEntry(ctx, msg, entry); err != nil {
			return item{}, false, err
		}
		return item{}, false, nil
	}

	return item{msg: msg, env: env, rec: rec}, true, nil
}

// checkSchema extends envelope validation with the topic/domain agreement
// check: an envelope on the wrong raw topic is as malformed as a missing
// field.
func (w *Worker) checkSchema(env *envelope.Envelope) error {
	if schemaErr := env.ValidateSchema(); schemaErr != nil {
		return schemaErr
	}
	if env.Domain != w.domain {
		return fmt.Errorf("envelope schema: domain %s on topic %s", env.Domain, w.topic)
	}
	return nil
}

func (w *Worker) quarantineEnvelope(ctx context.Context, msg *message.Message, env *envelope.Envelope, stage quarantine.Stage, reason string) error {
	return w.quarantineEntry(ctx, msg, quarantine.NewEntry(env, stage, reason))
}

// quarantineEntry persists the entry and only then acks; a failed quarantine
// write stalls the partition rather than dropping the record.
func (w *Worker) quarantineEntry(ctx context.Context, msg *message.Message, entry *quarantine.Entry) error {
	if err := w.deps.Quarantine.Put(ctx, entry); err != nil {
		return fmt.Errorf("quarantine put: %w", err)
	}
	w.countOutcome(obs.OutcomeQuarantined)
	if w.deps.Metrics != nil {
		w.deps.Metrics.RecordQuarantine(string(w.domain), string(entry.Stage))
	}
	w.logger.Info("record quarantined", logging.Fields{
		"stage": string(entry.Stage), "reason": entry.Reason,
	})
	msg.Ack()
	return nil
}

// flush persists the batch and advances the checkpoint. Per item, strictly in
// log order: sink write (with retries inside the sink), raw archive, dedup
// mark, publish, then ack. A fatal sink error stalls the partition with
// everything from the failed item onward unacked.
func (w *Worker) flush(ctx context.Context, batch *[]item) error {
	if len(*batch) == 0 {
		return nil
	}
	ctx, span := obs.StartSpan(ctx, "flush", w.topic)
	defer span.End()

	for _, it := range *batch {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		if err := w.deps.Sink.Write(ctx, it.rec); err != nil {
			if sink.IsFatal(err) && w.deps.Metrics != nil {
				w.deps.Metrics.RecordRetryExhausted(w.deps.Sink.Name())
			}
			w.logger.Error("sink write failed, stalling partition", err, logging.Fields{
				"key": it.rec.Key(),
			})
			return err
		}
		if w.deps.Metrics != nil {
			w.deps.Metrics.ObserveSinkWrite(w.deps.Sink.Name(), time.Since(start))
		}

		if w.deps.Archive != nil {
			if err := w.deps.Archive.AppendRawBlob(ctx, w.domain, it.env.PayloadHash, it.env.Payload); err != nil {
				// Raw archival is best-effort; the record itself is durable.
				w.logger.Error("raw blob archive failed", err, logging.Fields{
					"hash": it.env.PayloadHash,
				})
			}
		}

		if err := w.deps.Dedup.MarkSeen(ctx, w.domain, it.env.PayloadHash, it.msg.UUID); err != nil {
			// A missed mark means a future duplicate replays into the same
			// idempotent upsert; stalling the partition for it would be worse.
			w.logger.Error("dedup mark failed", err, logging.Fields{"hash": it.env.PayloadHash})
		}

		if err := w.publish(ctx, it.rec); err != nil {
			w.logger.Error("normalized publish failed, stalling partition", err, logging.Fields{
				"key": it.rec.Key(),
			})
			return err
		}

		w.countOutcome(obs.OutcomePublished)
		it.msg.Ack()
	}

	*batch = (*batch)[:0]
	clear(w.pending)
	w.setLag(0)
	return nil
}

func (w *Worker) setLag(n int) {
	if w.deps.Metrics != nil {
		w.deps.Metrics.SetConsumerLag(w.topic, float64(n))
	}
}

func (w *Worker) publish(ctx context.Context, rec domain.Record) error {
	if w.deps.Bus != nil {
		w.deps.Bus.Publish(rec.Topic(), rec)
	}
	if w.deps.Publisher == nil {
		return nil
	}

	payload, err := jsoncodec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal normalized record: %w", err)
	}
	msg := message.NewMessage(ids.New(), payload)
	msg.Metadata.Set("domain", string(w.domain))
	msg.Metadata.Set("key", rec.Key())
	msg.SetContext(ctx)
	return w.deps.Publisher.Publish(w.domain.OutboundTopic(), msg)
}

func (w *Worker) countOutcome(outcome string) {
	if w.deps.Metrics != nil {
		w.deps.Metrics.RecordOutcome(string(w.domain), outcome)
	}
}
