package handler

import (
	"net/http"
	"time"

	"github.com/mercura/order-chat/internal/errs"
	"github.com/mercura/order-chat/internal/models"
	"github.com/mercura/order-chat/internal/service"
	"github.com/mercura/order-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ChatHandler is the polling-compatible read/write surface.
type ChatHandler struct {
	chatService     *service.ChatService
	pollInterval    time.Duration
	reconcileWindow time.Duration
}

func NewChatHandler(chatService *service.ChatService, pollInterval, reconcileWindow time.Duration) *ChatHandler {
	return &ChatHandler{
		chatService:     chatService,
		pollInterval:    pollInterval,
		reconcileWindow: reconcileWindow,
	}
}

type WriteRequest struct {
	OrderID    *string           `json:"order_id,omitempty"`
	UserID     string            `json:"user_id"`
	SenderType models.SenderType `json:"sender_type"`
	Content    string            `json:"content"`
	Metadata   models.Metadata   `json:"metadata,omitempty"`
	ClientID   string            `json:"client_id,omitempty"`
}

// Read handles GET /chat?order_id=&user_id=.
// With neither key it answers {"messages": []} so the storefront widget can
// poll before an order/user context exists.
func (h *ChatHandler) Read(c *gin.Context) {
	orderID := c.Query("order_id")
	userID := c.Query("user_id")

	messages, err := h.chatService.Read(c.Request.Context(), orderID, userID)
	if err != nil {
		logger.Log.Error("Failed to list messages",
			zap.String("order_id", orderID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// Write handles POST /chat. The written message reaches push clients through
// the hub fan-out, so the poller never needs a duplex connection.
func (h *ChatHandler) Write(c *gin.Context) {
	var req WriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.SenderType == "" {
		req.SenderType = models.SenderCustomer
	}

	msg, err := h.chatService.Write(c.Request.Context(), models.MessageDraft{
		OrderID:    req.OrderID,
		UserID:     req.UserID,
		SenderType: req.SenderType,
		Content:    req.Content,
		Metadata:   req.Metadata,
		ClientID:   req.ClientID,
	})
	if err != nil {
		if errs.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.Log.Error("Failed to write message",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write message"})
		return
	}

	resp := gin.H{"message": msg}
	if req.ClientID != "" {
		resp["client_id"] = req.ClientID
	}
	c.JSON(http.StatusOK, resp)
}

// Conversations handles GET /admin/chat/conversations.
func (h *ChatHandler) Conversations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"conversations": h.chatService.ConversationList(),
	})
}

// History handles GET /admin/chat/messages?user_id=. Fetching a user's
// history marks the conversation read.
func (h *ChatHandler) History(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	messages, err := h.chatService.History(c.Request.Context(), userID)
	if err != nil {
		logger.Log.Error("Failed to fetch history",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// Delete handles DELETE /chat/messages/:id (soft delete).
func (h *ChatHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	if err := h.chatService.Delete(c.Request.Context(), id); err != nil {
		if errs.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		logger.Log.Error("Failed to delete message",
			zap.String("message_id", id),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete message"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}

// ClientConfig tells polling clients how often to ask and how wide the
// reconciliation window is, so neither side hardcodes the cadence.
func (h *ChatHandler) ClientConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"poll_interval_ms":    h.pollInterval.Milliseconds(),
		"reconcile_window_ms": h.reconcileWindow.Milliseconds(),
	})
}
