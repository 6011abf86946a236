package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	SocketEventJoinRoom          = "join_room"
	SocketEventSendNewVersion    = "send_new_version"
	SocketEventReceiveNewVersion = "receive_new_version"

	socketPingInterval  = 30 * time.Second
	socketReadDeadline  = 60 * time.Second
	socketWriteTimeout  = 10 * time.Second
	socketMaxFrameBytes = 1 << 20
)

// SocketEnvelope is the JSON frame exchanged over /socket in both directions.
type SocketEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type newVersionPayload struct {
	RoomID string          `json:"roomId"`
	Story  json.RawMessage `json:"story"`
}

func newSocketUpgrader(origins []string) *websocket.Upgrader {
	allowAll := false
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

func (h *httpHandler) handleSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	member := h.relay.Connect()
	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()

	logger := h.logger.With(zap.Int64("member_id", member.ID()))
	logger.Debug("relay member connected")

	go writeSocketFrames(conn, member, logger)
	readSocketFrames(conn, h.relay, member, logger)

	h.relay.Disconnect(member)
	logger.Debug("relay member disconnected")
}

func readSocketFrames(conn *websocket.Conn, hub *relay.Hub, member *relay.Member, logger *zap.Logger) {
	conn.SetReadLimit(socketMaxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(socketReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketReadDeadline))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("relay connection closed unexpectedly", zap.Error(err))
			}
			return
		}

		var envelope SocketEnvelope
		if err := json.Unmarshal(frame, &envelope); err != nil {
			logger.Debug("ignoring malformed relay frame", zap.Error(err))
			continue
		}

		switch envelope.Event {
		case SocketEventJoinRoom:
			var room string
			if err := json.Unmarshal(envelope.Data, &room); err != nil {
				logger.Debug("ignoring malformed join frame", zap.Error(err))
				continue
			}
			if err := hub.Join(member, room); err != nil {
				logger.Debug("relay join rejected", zap.String("room", room), zap.Error(err))
			}
		case SocketEventSendNewVersion:
			var payload newVersionPayload
			if err := json.Unmarshal(envelope.Data, &payload); err != nil {
				logger.Debug("ignoring malformed version frame", zap.Error(err))
				continue
			}
			hub.Relay(payload.RoomID, relay.Message{
				Event:   SocketEventReceiveNewVersion,
				Payload: payload.Story,
			}, member)
		}
	}
}

func writeSocketFrames(conn *websocket.Conn, member *relay.Member, logger *zap.Logger) {
	ticker := time.NewTicker(socketPingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-member.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data := message.Payload
			if len(data) == 0 {
				data = json.RawMessage("null")
			}
			if err := conn.WriteJSON(SocketEnvelope{Event: message.Event, Data: data}); err != nil {
				logger.Debug("relay write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug("relay ping failed", zap.Error(err))
				return
			}
		}
	}
}
