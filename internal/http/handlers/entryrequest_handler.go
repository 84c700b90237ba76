// README: Entry request handlers (driver approval flow).
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"unipool/internal/modules/entryrequest"
	"unipool/internal/types"
)

type EntryLedger interface {
	Get(ctx context.Context, id types.ID) (*entryrequest.EntryRequest, error)
	Approve(ctx context.Context, id types.ID) (*entryrequest.EntryRequest, error)
	Reject(ctx context.Context, id types.ID) (*entryrequest.EntryRequest, error)
	Cancel(ctx context.Context, id, actorID types.ID) (*entryrequest.EntryRequest, error)
}

type EntryRequestHandler struct {
	ledger EntryLedger
}

func NewEntryRequestHandler(ledger EntryLedger) *EntryRequestHandler {
	return &EntryRequestHandler{ledger: ledger}
}

func (h *EntryRequestHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid entry request id")
		return
	}
	e, err := h.ledger.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeEntry(c, http.StatusOK, e)
}

func (h *EntryRequestHandler) Approve(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid entry request id")
		return
	}
	e, err := h.ledger.Approve(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeEntry(c, http.StatusOK, e)
}

func (h *EntryRequestHandler) Reject(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid entry request id")
		return
	}
	e, err := h.ledger.Reject(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeEntry(c, http.StatusOK, e)
}

type cancelEntryReq struct {
	ActorID string `json:"actor_id"`
}

func (h *EntryRequestHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid entry request id")
		return
	}
	var req cancelEntryReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.ActorID) {
		writeError(c, http.StatusBadRequest, "missing actor_id")
		return
	}
	e, err := h.ledger.Cancel(c.Request.Context(), types.ID(id), types.ID(req.ActorID))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeEntry(c, http.StatusOK, e)
}

func writeEntry(c *gin.Context, status int, e *entryrequest.EntryRequest) {
	c.JSON(status, gin.H{
		"entry_request_id": e.ID,
		"ride_id":          e.RideID,
		"ride_request_id":  e.RideRequestID,
		"student_id":       e.StudentID,
		"status":           e.Status,
	})
}
