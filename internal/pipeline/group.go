package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/sync/errgroup"

	"github.com/alphafeed/marketpipe/internal/domain"
	"github.com/alphafeed/marketpipe/internal/enrich"
)

// Group runs one worker per configured domain. The first worker failure
// cancels the rest; redelivery on restart picks up from the last checkpoint.
type Group struct {
	workers []*Worker
}

// NewGroup builds one worker per domain, defaulting to all five when domains
// is empty. Workers share the subscriber's consumer group and the
// infrastructure deps; only the processor differs per domain.
func NewGroup(domains []domain.Domain, subscriber message.Subscriber, registry *enrich.Registry, deps Deps, batchSize int, flushInterval time.Duration) (*Group, error) {
	if len(domains) == 0 {
		domains = domain.All()
	}
	g := &Group{workers: make([]*Worker, 0, len(domains))}
	for _, d := range domains {
		proc, ok := registry.For(d)
		if !ok {
			return nil, fmt.Errorf("no processor registered for domain %s", d)
		}
		workerDeps := deps
		workerDeps.Processor = proc
		w, err := NewWorker(d, subscriber, workerDeps, batchSize, flushInterval)
		if err != nil {
			return nil, err
		}
		g.workers = append(g.workers, w)
	}
	return g, nil
}

// Run blocks until the context is cancelled or any worker returns an error.
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, w := range g.workers {
		eg.Go(func() error {
			return w.Run(ctx)
		})
	}
	return eg.Wait()
}
