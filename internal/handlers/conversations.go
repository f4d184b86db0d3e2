package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"teamlink/internal/location"
	"teamlink/internal/models"
	"teamlink/internal/repositories"
	"teamlink/internal/transport"
)

// MessageSender is the slice of the transport router the handlers need.
type MessageSender interface {
	Send(ctx context.Context, op transport.Operation, msg models.Message, senderShortID uint64) (transport.Route, error)
	SendDevice(ctx context.Context, op transport.Operation, msg models.Message, senderShortID uint64) error
}

// LocationRequester starts the location handshake.
type LocationRequester interface {
	Request(ctx context.Context, conversationID string) (*location.Pending, error)
	RequestViaDevice(ctx context.Context, conversationID string) (*location.Pending, error)
}

// HistorySyncer pulls one history page.
type HistorySyncer interface {
	Sync(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, error)
}

// ConversationHandler serves the conversation endpoints.
type ConversationHandler struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	sender        MessageSender
	locations     LocationRequester
	history       HistorySyncer
	self          models.SenderSnapshot
	selfShortID   uint64
}

// NewConversationHandler builds a ConversationHandler. self identifies the
// local member; selfShortID is its compact id inside device frames.
func NewConversationHandler(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	sender MessageSender,
	locations LocationRequester,
	history HistorySyncer,
	self models.SenderSnapshot,
	selfShortID uint64,
) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		messages:      messages,
		sender:        sender,
		locations:     locations,
		history:       history,
		self:          self,
		selfShortID:   selfShortID,
	}
}

// ListConversations returns every conversation with unread counts and
// latest-message snapshots.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	conversations, err := h.conversations.ListConversations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

// GetMessages returns a conversation's messages ordered by send time.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if _, err := h.conversations.GetConversation(c.Request.Context(), conversationID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	msgs, err := h.messages.ListMessages(c.Request.Context(), conversationID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// MarkRead zeroes the conversation's unread counter. This is the explicit
// user action that complements the pipeline's increments.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if err := h.conversations.MarkRead(c.Request.Context(), conversationID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// SyncHistory pulls one page of the conversation's history from the backend
// and persists it.
func (h *ConversationHandler) SyncHistory(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	var req struct {
		Page     int `json:"page"`
		PageSize int `json:"page_size"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 50
	}

	msgs, err := h.history.Sync(c.Request.Context(), conversationID, req.Page, req.PageSize)
	if err != nil {
		var businessErr *transport.BusinessError
		if errors.As(err, &businessErr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": businessErr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history sync failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
