// Package gateway exposes normalized records to clients: a chi REST API for
// point and history queries, and a websocket feed bridged to the publication
// bus. All endpoints except health require API-key + HMAC signed requests.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alphafeed/marketpipe/internal/domain"
	"github.com/alphafeed/marketpipe/internal/logging"
)

// LatestCache is the Redis fast path for point queries. A nil cache or any
// cache error falls through to the store.
type LatestCache interface {
	Latest(ctx context.Context, topic string) ([]byte, error)
}

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

// Server is the gateway HTTP surface.
type Server struct {
	router  chi.Router
	quotes  QuoteStore
	cache   LatestCache
	manager *Manager
	auth    *Authenticator
	logger  logging.Logger
	started time.Time
}

func NewServer(quotes QuoteStore, cache LatestCache, manager *Manager, auth *Authenticator, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Server{
		quotes:  quotes,
		cache:   cache,
		manager: manager,
		auth:    auth,
		logger:  logger,
		started: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Get("/api/v1/quotes/{symbol}", s.handleLatestQuote)
		r.Get("/api/v1/quotes/{symbol}/history", s.handleQuoteHistory)
		r.Get("/stats", s.handleStats)
		r.Get("/ws", s.handleWS)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeData(w, map[string]any{
		"active_subscribers": s.manager.ClientCount(),
		"uptime_seconds":     int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleLatestQuote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	ctx := r.Context()

	if s.cache != nil {
		if raw, err := s.cache.Latest(ctx, "quotes."+symbol); err == nil {
			writeData(w, json.RawMessage(raw))
			return
		}
	}

	quote, err := s.quotes.Latest(ctx, symbol)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "no quotes for symbol "+symbol)
			return
		}
		s.logger.Error("latest quote lookup failed", err, logging.Fields{"symbol": symbol})
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeData(w, quote)
}

// historyPage is the paginated history payload. NextCursor is empty on the
// last page.
type historyPage struct {
	Items      []*domain.Quote `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func (s *Server) handleQuoteHistory(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}

	before := time.Now().UTC()
	if token := r.URL.Query().Get("cursor"); token != "" {
		ts, err := decodeCursor(token)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		before = ts
	}

	items, err := s.quotes.History(r.Context(), symbol, before, limit)
	if err != nil {
		s.logger.Error("quote history lookup failed", err, logging.Fields{"symbol": symbol})
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	page := historyPage{Items: items}
	if len(items) == limit {
		page.NextCursor = encodeCursor(items[len(items)-1].TS)
	}
	writeData(w, page)
}
