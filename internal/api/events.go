package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"speechflow/internal/logging"
	"speechflow/internal/scheduler"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	eventBatch     = 64
)

// handleEvents streams hub events to a websocket client and accepts
// completion messages from it. All writes go through one goroutine.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
	if last := s.events.Last(); since > last {
		since = last
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	logger := logging.WithContext(ctx, s.logger)
	logger.Debug("event subscriber connected", logging.Int64("since", int64(since)))

	out := make(chan ServerMessage, eventBatch)
	go s.readMessages(ctx, cancel, conn, out)
	if s.events != nil {
		go s.followEvents(ctx, since, out)
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("event subscriber write failed", logging.Error(err))
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

func (s *Server) followEvents(ctx context.Context, since uint64, out chan<- ServerMessage) {
	for {
		batch, next, err := s.events.Since(ctx, since, eventBatch, true)
		if err != nil {
			return
		}
		for i := range batch {
			evt := batch[i]
			select {
			case out <- ServerMessage{Type: MessageEvent, Event: &evt}:
			case <-ctx.Done():
				return
			}
		}
		since = next
	}
}

func (s *Server) readMessages(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out chan<- ServerMessage) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	reply := func(msg ServerMessage) bool {
		select {
		case out <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("event subscriber closed", logging.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if !reply(ServerMessage{Type: MessageError, Error: "invalid message format"}) {
				return
			}
			continue
		}
		if !reply(s.handleClientMessage(ctx, msg)) {
			return
		}
	}
}

// handleClientMessage forwards tool messages to the scheduler. The payload
// is not interpreted beyond the completion fields.
func (s *Server) handleClientMessage(ctx context.Context, msg ClientMessage) ServerMessage {
	switch msg.Type {
	case MessagePing:
		return ServerMessage{Type: MessagePong}
	case MessageCompletion:
		if msg.StageID <= 0 {
			return ServerMessage{Type: MessageError, Error: "stageId is required"}
		}
		err := s.ctl.Complete(ctx, msg.StageID, scheduler.Completion{
			URL:     msg.URL,
			Name:    msg.Name,
			Content: msg.Content,
			Message: msg.Message,
		})
		if err != nil {
			return ServerMessage{Type: MessageError, StageID: msg.StageID, Error: err.Error()}
		}
		return ServerMessage{Type: MessageAck, StageID: msg.StageID}
	default:
		return ServerMessage{Type: MessageError, Error: "unsupported message type " + strconv.Quote(msg.Type)}
	}
}
