package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teamlink/internal/location"
	"teamlink/internal/models"
	"teamlink/internal/repositories"
	"teamlink/internal/transport"
)

// PostMessage sends a message to the conversation's team. When only the
// device channel is up and the operation wants confirmation, the response is
// 409 and the client resends with via_device set after the user approves.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if _, err := h.conversations.GetConversation(c.Request.Context(), conversationID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}

	var req struct {
		Content   string           `json:"content"`
		Kind      *int             `json:"kind"`
		Location  *models.Location `json:"location"`
		ViaDevice bool             `json:"via_device"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind := models.KindChat
	if req.Kind != nil {
		kind = models.MessageKind(*req.Kind)
	}
	if kind.CarriesLocation() && req.Location == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": kind.String() + " messages require a location"})
		return
	}
	if kind == models.KindChat && req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         h.self,
		Content:        req.Content,
		SentAt:         time.Now().UnixMilli(),
		Kind:           kind,
		Location:       req.Location,
	}

	op := operationForKind(kind)
	if req.ViaDevice {
		if err := h.sender.SendDevice(c.Request.Context(), op, msg, h.selfShortID); err != nil {
			respondSendError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": msg, "route": transport.RouteDevice})
		return
	}

	route, err := h.sender.Send(c.Request.Context(), op, msg, h.selfShortID)
	if err != nil {
		respondSendError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg, "route": route})
}

// RequestLocation runs the location handshake and waits for the reply, a
// timeout, or the client going away.
func (h *ConversationHandler) RequestLocation(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if _, err := h.conversations.GetConversation(c.Request.Context(), conversationID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}

	var req struct {
		ViaDevice bool `json:"via_device"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var pending *location.Pending
	var err error
	if req.ViaDevice {
		pending, err = h.locations.RequestViaDevice(c.Request.Context(), conversationID)
	} else {
		pending, err = h.locations.Request(c.Request.Context(), conversationID)
	}
	if err != nil {
		if errors.Is(err, location.ErrRequestOutstanding) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		respondSendError(c, err)
		return
	}

	select {
	case <-c.Request.Context().Done():
		pending.Cancel()
		c.Status(http.StatusRequestTimeout)
	case result := <-pending.Done:
		if result.Err != nil {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": result.Err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": result.Message})
	}
}

func respondSendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, transport.ErrDeviceConfirmRequired):
		c.JSON(http.StatusConflict, gin.H{
			"error":              err.Error(),
			"confirm_via_device": true,
		})
	case errors.Is(err, transport.ErrTransportUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		var businessErr *transport.BusinessError
		if errors.As(err, &businessErr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": businessErr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
	}
}

func operationForKind(kind models.MessageKind) transport.Operation {
	switch kind {
	case models.KindSOS:
		return transport.OpSOS
	case models.KindSafety:
		return transport.OpSafetyCheck
	case models.KindLocation:
		return transport.OpLocationResponse
	default:
		return transport.OpChat
	}
}
