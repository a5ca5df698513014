package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/aristath/swingbot/internal/events"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 5 * time.Second
)

// EventSource fans out emitted events to stream subscribers
type EventSource interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

// handleEventStream pushes every event emitted in this process to a websocket client
// GET /events/stream
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Events == nil {
		s.writeError(w, http.StatusServiceUnavailable, "event stream not available in this process")
		return
	}

	// Server-wide read/write timeouts would otherwise cut the stream
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to accept event stream")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	ch, cancel := s.cfg.Events.Subscribe(streamBuffer)
	defer cancel()

	// Clients never send; CloseRead handles their close frame and cancels ctx
	ctx := conn.CloseRead(r.Context())
	s.log.Debug().Str("remote", r.RemoteAddr).Msg("Event stream opened")

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("Failed to encode event")
				continue
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, streamWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			writeCancel()
			if err != nil {
				s.log.Debug().Err(err).Msg("Event stream closed")
				return
			}
		}
	}
}
