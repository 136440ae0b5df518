package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/roach88/pulse/internal/events"
	"github.com/roach88/pulse/internal/ledger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stream is read-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// events serves the event log, or streams live events when the request is a
// WebSocket upgrade.
//
// Query parameters: after (seq), limit, poll (stream filter), type
// (repeatable stream filter).
func (s *Server) events(c *gin.Context) {
	if websocket.IsWebSocketUpgrade(c.Request) {
		s.stream(c)
		return
	}

	var after int64
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, "invalid after "+strconv.Quote(raw))
			return
		}
		after = v
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			badRequest(c, "invalid limit "+strconv.Quote(raw))
			return
		}
		limit = v
	}

	evs, err := s.eng.Events(c.Request.Context(), after, limit)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, evs)
}

func (s *Server) stream(c *gin.Context) {
	if s.bus == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorBody{Error: errorDetail{
			Code:    "UNAVAILABLE",
			Message: "event streaming is disabled",
		}})
		return
	}

	var filter events.Filter
	if raw := c.Query("poll"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(c, "invalid poll id "+strconv.Quote(raw))
			return
		}
		pid := ledger.PollID(id)
		filter.PollID = &pid
	}
	for _, t := range c.QueryArray("type") {
		filter.Types = append(filter.Types, ledger.EventType(t))
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := s.bus.Subscribe(filter)
	ctx, cancel := context.WithCancel(context.Background())
	s.logger.Debug("event stream opened", "remote", c.ClientIP(), "subscribers", s.bus.Subscribers())

	go s.readPump(conn, cancel)
	s.writePump(ctx, conn, sub)
}

// readPump discards client messages and cancels the stream when the
// connection closes.
func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
	}
}

// writePump forwards subscription events as JSON text frames and keeps the
// connection alive with pings.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, sub *events.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		conn.Close()
		s.logger.Debug("event stream closed", "dropped", sub.Dropped())
	}()

	next := make(chan ledger.Event)
	done := make(chan error, 1)
	go func() {
		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				done <- err
				return
			}
			select {
			case next <- ev:
			case <-ctx.Done():
				done <- ctx.Err()
				return
			}
		}
	}()

	for {
		select {
		case ev := <-next:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case err := <-done:
			if errors.Is(err, events.ErrClosed) {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			}
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
