// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"unipool/internal/modules/entryrequest"
	"unipool/internal/modules/matching"
	"unipool/internal/modules/notification"
	"unipool/internal/modules/ride"
	"unipool/internal/modules/riderequest"
	"unipool/internal/modules/student"
	"unipool/internal/routing"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID ensures IDs are alphanumeric and at most 32 chars (matches the
// current ID generator).
func isValidID(v string) bool {
	if v == "" || len(v) > 32 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' {
			continue
		}
		return false
	}
	return true
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg})
}

// writeDomainError maps module sentinel errors onto HTTP statuses. Wrapped
// errors are matched with errors.Is so provider failures keep their cause.
func writeDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, matching.ErrStudentNotFound),
		errors.Is(err, student.ErrNotFound),
		errors.Is(err, ride.ErrNotFound),
		errors.Is(err, riderequest.ErrNotFound),
		errors.Is(err, entryrequest.ErrNotFound),
		errors.Is(err, notification.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ride.ErrPermissionDenied),
		errors.Is(err, entryrequest.ErrPermissionDenied),
		errors.Is(err, riderequest.ErrPermissionDenied),
		errors.Is(err, notification.ErrPermissionDenied):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, ride.ErrInvalidState),
		errors.Is(err, ride.ErrConflict),
		errors.Is(err, riderequest.ErrInvalidState),
		errors.Is(err, entryrequest.ErrInvalidState),
		errors.Is(err, entryrequest.ErrSeatConflict),
		errors.Is(err, entryrequest.ErrAlreadySeated):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, matching.ErrNoCompatibleRide):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, routing.ErrRouteProvider):
		writeError(c, http.StatusBadGateway, "route provider unavailable")
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
