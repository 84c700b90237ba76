// README: Notification read/ack handlers.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"unipool/internal/types"
)

type NotificationReader interface {
	MarkAsRead(ctx context.Context, id, recipientID types.ID) error
	UnreadCount(ctx context.Context, recipient types.ID) (int, error)
}

type NotificationHandler struct {
	notifications NotificationReader
}

func NewNotificationHandler(notifications NotificationReader) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	recipient := c.Query("recipient_id")
	if !isValidID(recipient) {
		writeError(c, http.StatusBadRequest, "missing recipient_id")
		return
	}
	count, err := h.notifications.UnreadCount(c.Request.Context(), types.ID(recipient))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

type markReadReq struct {
	RecipientID string `json:"recipient_id"`
}

func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid notification id")
		return
	}
	var req markReadReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.RecipientID) {
		writeError(c, http.StatusBadRequest, "missing recipient_id")
		return
	}
	if err := h.notifications.MarkAsRead(c.Request.Context(), types.ID(id), types.ID(req.RecipientID)); err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notification_id": id, "read": true})
}
