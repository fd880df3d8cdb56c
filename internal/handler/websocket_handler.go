package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/mercura/order-chat/internal/errs"
	"github.com/mercura/order-chat/internal/hub"
	"github.com/mercura/order-chat/internal/models"
	"github.com/mercura/order-chat/internal/reconcile"
	"github.com/mercura/order-chat/internal/service"
	"github.com/mercura/order-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second // Time allowed to write a message to the peer
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // 54 seconds
	maxMessageSize = 512 * 1024          // 512 KB

	sendBuffer = 256
)

type WSMessageType string

const (
	WSMessageTypeJoin  WSMessageType = "join_room"
	WSMessageTypeLeave WSMessageType = "leave_room"
	WSMessageTypeSend  WSMessageType = "send_message"
)

// WSRequest is one inbound frame. Send frames carry the draft inline the way
// the admin console emits it; a provisional "temp-" id doubles as the
// client id when none is set explicitly.
type WSRequest struct {
	Type       WSMessageType     `json:"type"`
	RoomID     string            `json:"room_id,omitempty"`
	ID         string            `json:"id,omitempty"`
	ClientID   string            `json:"client_id,omitempty"`
	OrderID    *string           `json:"order_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	SenderType models.SenderType `json:"sender_type,omitempty"`
	Content    string            `json:"content,omitempty"`
	Metadata   models.Metadata   `json:"metadata,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin check lives in the CORS layer
	},
}

// WebSocketHandler upgrades connections and bridges them into the hub as
// sessions.
type WebSocketHandler struct {
	chatService *service.ChatService
	relay       *hub.Hub
}

func NewWebSocketHandler(chatService *service.ChatService, relay *hub.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		chatService: chatService,
		relay:       relay,
	}
}

// wsSession adapts one websocket connection to the hub's Session interface.
// Writes are funneled through the send channel so a single goroutine owns
// the connection's write side.
type wsSession struct {
	id   string
	conn *websocket.Conn
	send chan hub.Envelope
	done chan struct{}
}

func (s *wsSession) ID() string {
	return s.id
}

// Send enqueues without blocking; a full buffer means the peer is too slow
// and the event is dropped (the next poll-style read catches it up).
func (s *wsSession) Send(env hub.Envelope) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- env:
		return true
	default:
		return false
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	session := &wsSession{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan hub.Envelope, sendBuffer),
		done: make(chan struct{}),
	}

	logger.Log.Debug("Client connected", zap.String("session_id", session.id))

	go h.writePump(session)
	h.readPump(session)
}

// readPump handles inbound frames until the connection drops, then leaves
// every joined room.
func (h *WebSocketHandler) readPump(session *wsSession) {
	defer func() {
		h.relay.LeaveAll(session)
		close(session.done)
		session.conn.Close()
		logger.Log.Debug("Client disconnected", zap.String("session_id", session.id))
	}()

	session.conn.SetReadLimit(maxMessageSize)
	session.conn.SetReadDeadline(time.Now().Add(pongWait))
	session.conn.SetPongHandler(func(string) error {
		session.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var req WSRequest
		if err := session.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Warn("WebSocket error",
					zap.String("session_id", session.id),
					zap.Error(err),
				)
			}
			return
		}

		switch req.Type {
		case WSMessageTypeJoin:
			if req.RoomID == "" {
				session.Send(hub.Envelope{Type: hub.EventError, Error: "room_id is required"})
				continue
			}
			h.relay.Join(req.RoomID, session)

		case WSMessageTypeLeave:
			if req.RoomID != "" {
				h.relay.Leave(req.RoomID, session)
			}

		case WSMessageTypeSend:
			h.handleSend(session, req)

		default:
			session.Send(hub.Envelope{Type: hub.EventError, Error: "unknown message type"})
		}
	}
}

// handleSend persists the draft, then the service fans the confirmed message
// out to the target rooms. The sender additionally gets an ack echoing its
// provisional id for exact reconciliation.
func (h *WebSocketHandler) handleSend(session *wsSession, req WSRequest) {
	clientID := req.ClientID
	if clientID == "" && reconcile.IsProvisional(req.ID) {
		clientID = req.ID
	}

	userID := req.UserID
	if userID == "" {
		// The admin console addresses the draft by room; a user room's name
		// is the user id.
		userID = req.RoomID
	}

	senderType := req.SenderType
	if senderType == "" {
		senderType = models.SenderCustomer
	}

	msg, err := h.chatService.Write(context.Background(), models.MessageDraft{
		OrderID:    req.OrderID,
		UserID:     userID,
		SenderType: senderType,
		Content:    req.Content,
		Metadata:   req.Metadata,
		ClientID:   clientID,
	})
	if err != nil {
		reason := "failed to send message"
		if errs.IsValidation(err) {
			reason = err.Error()
		} else {
			logger.Log.Error("Push send failed to persist",
				zap.String("session_id", session.id),
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
		session.Send(hub.Envelope{
			Type:     hub.EventAck,
			ClientID: clientID,
			Error:    reason,
		})
		return
	}

	session.Send(hub.Envelope{
		Type:     hub.EventAck,
		ClientID: clientID,
		Message:  msg,
	})
}

// writePump owns the connection's write side: outbound events plus the ping
// keepalive.
func (h *WebSocketHandler) writePump(session *wsSession) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		session.conn.Close()
	}()

	for {
		select {
		case env := <-session.send:
			session.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := session.conn.WriteJSON(env); err != nil {
				logger.Log.Debug("Failed to write to client",
					zap.String("session_id", session.id),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			session.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := session.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-session.done:
			session.conn.SetWriteDeadline(time.Now().Add(writeWait))
			session.conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			return
		}
	}
}
