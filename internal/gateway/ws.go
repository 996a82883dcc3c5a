package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alphafeed/marketpipe/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 4 * 1024
)

// wsRequest is a client control frame.
type wsRequest struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// wsFrame is a server frame. Type is one of data, gap, quota_exceeded,
// subscribed, unsubscribed, or error.
type wsFrame struct {
	Type      string    `json:"type"`
	Topic     string    `json:"topic,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Dropped   uint64    `json:"dropped,omitempty"`
	Topics    []string  `json:"topics,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func frame(typ string) wsFrame {
	return wsFrame{Type: typ, Timestamp: time.Now().UTC()}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxFrameSize,
	WriteBufferSize: maxFrameSize,
}

// handleWS upgrades the connection and bridges it to a feed client session.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := ClientID(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", err, logging.Fields{"client": clientID})
		return
	}

	session := s.manager.Connect(clientID)
	defer session.Close()
	defer conn.Close()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan wsFrame, 32)

	// Event pump: feed events become outbound frames.
	go func() {
		defer cancel()
		for {
			ev, err := session.Next(ctx)
			if err != nil {
				return
			}
			f := frame(string(ev.Kind))
			f.Topic = ev.Topic
			f.Dropped = ev.Dropped
			if ev.Record != nil {
				f.Payload = ev.Record
			}
			select {
			case outbound <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Read pump: subscribe/unsubscribe control frames.
	go func() {
		defer cancel()
		for {
			var req wsRequest
			if err := conn.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket read failed", logging.Fields{
						"client": clientID, "error": err.Error(),
					})
				}
				return
			}

			var f wsFrame
			switch req.Action {
			case "subscribe":
				for _, topic := range req.Topics {
					session.Subscribe(topic)
				}
				f = frame("subscribed")
				f.Topics = session.Patterns()
			case "unsubscribe":
				for _, topic := range req.Topics {
					session.Unsubscribe(topic)
				}
				f = frame("unsubscribed")
				f.Topics = session.Patterns()
			default:
				f = frame("error")
				f.Error = "unknown action: " + req.Action
			}
			select {
			case outbound <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Write loop: the only goroutine touching the write side.
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case f := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					s.logger.Debug("websocket write failed", logging.Fields{
						"client": clientID, "error": err.Error(),
					})
				}
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
