// README: Ride request handlers; creation runs the matching engine inline.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"unipool/internal/modules/entryrequest"
	"unipool/internal/modules/matching"
	"unipool/internal/modules/riderequest"
	"unipool/internal/types"
)

var (
	errMissingPlace      = errors.New("coordinates or address required")
	errUnresolvedAddress = errors.New("address could not be resolved")
)

type Matcher interface {
	MatchAndAssign(ctx context.Context, req matching.MatchRequest) (*entryrequest.EntryRequest, error)
}

// Geocoder resolves a free-text address when the client sends no coordinates.
type Geocoder interface {
	Search(ctx context.Context, address string) ([]types.Place, error)
}

type RequestReader interface {
	Get(ctx context.Context, id types.ID) (*riderequest.RideRequest, error)
	Cancel(ctx context.Context, id types.ID) (bool, error)
}

type RideRequestHandler struct {
	matcher  Matcher
	geocoder Geocoder
	requests RequestReader
}

func NewRideRequestHandler(matcher Matcher, geocoder Geocoder, requests RequestReader) *RideRequestHandler {
	return &RideRequestHandler{matcher: matcher, geocoder: geocoder, requests: requests}
}

type placeReq struct {
	Label string  `json:"label"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

type createRideRequestReq struct {
	StudentID          string    `json:"student_id"`
	Origin             *placeReq `json:"origin"`
	Destination        *placeReq `json:"destination"`
	OriginAddress      string    `json:"origin_address"`
	DestinationAddress string    `json:"destination_address"`
	DesiredArrival     time.Time `json:"desired_arrival"`
}

func (h *RideRequestHandler) Create(c *gin.Context) {
	var req createRideRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !isValidID(req.StudentID) || req.DesiredArrival.IsZero() {
		writeError(c, http.StatusBadRequest, "missing fields")
		return
	}

	origin, err := h.resolvePlace(c.Request.Context(), req.Origin, req.OriginAddress)
	if err != nil {
		writeError(c, http.StatusBadRequest, "origin: "+err.Error())
		return
	}
	destination, err := h.resolvePlace(c.Request.Context(), req.Destination, req.DestinationAddress)
	if err != nil {
		writeError(c, http.StatusBadRequest, "destination: "+err.Error())
		return
	}

	e, err := h.matcher.MatchAndAssign(c.Request.Context(), matching.MatchRequest{
		StudentID:      types.ID(req.StudentID),
		Origin:         origin,
		Destination:    destination,
		DesiredArrival: req.DesiredArrival,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"entry_request_id": e.ID,
		"ride_id":          e.RideID,
		"ride_request_id":  e.RideRequestID,
		"status":           e.Status,
	})
}

func (h *RideRequestHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid request id")
		return
	}
	r, err := h.requests.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ride_request_id": r.ID,
		"student_id":      r.StudentID,
		"status":          r.Status,
		"desired_arrival": r.DesiredArrival,
	})
}

type cancelRideRequestReq struct {
	StudentID string `json:"student_id"`
}

func (h *RideRequestHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid request id")
		return
	}
	var req cancelRideRequestReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.StudentID) {
		writeError(c, http.StatusBadRequest, "missing student_id")
		return
	}
	r, err := h.requests.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if r.StudentID != types.ID(req.StudentID) {
		writeDomainError(c, riderequest.ErrPermissionDenied)
		return
	}
	ok, err := h.requests.Cancel(c.Request.Context(), r.ID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if !ok {
		writeDomainError(c, riderequest.ErrInvalidState)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ride_request_id": r.ID, "status": riderequest.StatusCancelled})
}

// resolvePlace prefers explicit coordinates and falls back to geocoding the
// address, taking the first hit.
func (h *RideRequestHandler) resolvePlace(ctx context.Context, p *placeReq, address string) (types.Place, error) {
	if p != nil {
		return types.Place{Label: p.Label, Point: types.Point{Lat: p.Lat, Lng: p.Lng}}, nil
	}
	if address == "" {
		return types.Place{}, errMissingPlace
	}
	if h.geocoder == nil {
		return types.Place{}, errMissingPlace
	}
	places, err := h.geocoder.Search(ctx, address)
	if err != nil || len(places) == 0 {
		return types.Place{}, errUnresolvedAddress
	}
	return places[0], nil
}
