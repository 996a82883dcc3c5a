package gateway

import (
	"context"
	"sync"

	"github.com/alphafeed/marketpipe/internal/domain"
	"github.com/alphafeed/marketpipe/internal/feedbus"
	"github.com/alphafeed/marketpipe/internal/logging"
	"github.com/alphafeed/marketpipe/internal/obs"
	"github.com/alphafeed/marketpipe/internal/ratelimit"
)

// EventKind classifies what a client session receives next.
type EventKind string

const (
	KindData          EventKind = "data"
	KindGap           EventKind = "gap"
	KindQuotaExceeded EventKind = "quota_exceeded"
)

// Event is one item a connected client should be told about.
type Event struct {
	Kind    EventKind
	Topic   string
	Record  domain.Record
	Dropped uint64
}

// Manager tracks connected feed clients and enforces per-client delivery
// quotas on top of the publication bus.
type Manager struct {
	bus     *feedbus.Bus
	limiter ratelimit.Limiter
	metrics *obs.Metrics
	logger  logging.Logger

	mu      sync.Mutex
	clients map[string]*ClientSession
}

func NewManager(bus *feedbus.Bus, limiter ratelimit.Limiter, metrics *obs.Metrics, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		bus:     bus,
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
		clients: make(map[string]*ClientSession),
	}
}

// Connect registers a client session. A reconnect with the same id replaces
// the previous session.
func (m *Manager) Connect(clientID string) *ClientSession {
	c := &ClientSession{
		id:      clientID,
		sub:     m.bus.Subscribe(clientID),
		manager: m,
	}

	m.mu.Lock()
	if prev, ok := m.clients[clientID]; ok {
		prev.sub.Close()
	}
	m.clients[clientID] = c
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SubscriberConnected()
	}
	m.logger.Info("feed client connected", logging.Fields{"client": clientID})
	return c
}

func (m *Manager) disconnect(c *ClientSession) {
	m.mu.Lock()
	if m.clients[c.id] == c {
		delete(m.clients, c.id)
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SubscriberDisconnected()
	}
	m.logger.Info("feed client disconnected", logging.Fields{"client": c.id})
}

// ClientCount returns the number of connected sessions.
func (m *Manager) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// ClientSession is one client's view of the feed.
type ClientSession struct {
	id      string
	sub     *feedbus.Subscription
	manager *Manager

	// quotaSignaled coalesces the quota_exceeded signal: one per stretch of
	// refused deliveries, not one per suppressed record.
	quotaSignaled bool
}

func (c *ClientSession) ID() string { return c.id }

func (c *ClientSession) Subscribe(pattern string)        { c.sub.Add(pattern) }
func (c *ClientSession) Unsubscribe(pattern string) bool { return c.sub.Remove(pattern) }
func (c *ClientSession) Patterns() []string              { return c.sub.Patterns() }

// Next blocks for the client's next event. Data deliveries consume quota;
// over quota the delivery is suppressed and the client gets a single
// quota_exceeded signal until deliveries flow again. Gap and quota events are
// free.
func (c *ClientSession) Next(ctx context.Context) (Event, error) {
	for {
		d, err := c.sub.Next(ctx)
		if err != nil {
			return Event{}, err
		}
		if d.Gap != nil {
			return Event{Kind: KindGap, Dropped: d.Gap.Dropped}, nil
		}

		allowed := true
		if c.manager.limiter != nil {
			allowed, err = c.manager.limiter.Allow(ctx, c.id)
			if err != nil {
				// A broken limiter must not stop the feed.
				c.manager.logger.Error("quota check failed, allowing delivery", err,
					logging.Fields{"client": c.id})
				allowed = true
			}
		}
		if allowed {
			c.quotaSignaled = false
			return Event{Kind: KindData, Topic: d.Topic, Record: d.Record}, nil
		}

		if c.manager.metrics != nil {
			c.manager.metrics.RecordQuotaRefusal(c.id)
		}
		if !c.quotaSignaled {
			c.quotaSignaled = true
			return Event{Kind: KindQuotaExceeded, Topic: d.Topic}, nil
		}
		// Already signaled this stretch; drop silently.
	}
}

// Close detaches the session from the bus and the manager.
func (c *ClientSession) Close() {
	c.sub.Close()
	c.manager.disconnect(c)
}
