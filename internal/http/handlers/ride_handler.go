// README: Ride lifecycle handlers for drivers.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"unipool/internal/modules/ride"
	"unipool/internal/types"
)

type RideService interface {
	Create(ctx context.Context, cmd ride.CreateCommand) (*ride.Ride, error)
	Get(ctx context.Context, id types.ID) (*ride.Ride, error)
	Start(ctx context.Context, id, driverID types.ID) error
	Finish(ctx context.Context, id, driverID types.ID) error
	Cancel(ctx context.Context, id, driverID types.ID) error
	PublishLocation(ctx context.Context, id, driverID types.ID, p types.Point) error
}

type RideHandler struct {
	rides RideService
}

func NewRideHandler(rides RideService) *RideHandler {
	return &RideHandler{rides: rides}
}

type createRideReq struct {
	DriverID    string    `json:"driver_id"`
	Origin      placeReq  `json:"origin"`
	Destination placeReq  `json:"destination"`
	DepartureAt time.Time `json:"departure_at"`
	ArrivalAt   time.Time `json:"arrival_at"`
	Capacity    int       `json:"capacity"`
}

func (h *RideHandler) Create(c *gin.Context) {
	var req createRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !isValidID(req.DriverID) || req.Capacity <= 0 || req.DepartureAt.IsZero() {
		writeError(c, http.StatusBadRequest, "missing fields")
		return
	}
	r, err := h.rides.Create(c.Request.Context(), ride.CreateCommand{
		DriverID:    types.ID(req.DriverID),
		Origin:      types.Place{Label: req.Origin.Label, Point: types.Point{Lat: req.Origin.Lat, Lng: req.Origin.Lng}},
		Destination: types.Place{Label: req.Destination.Label, Point: types.Point{Lat: req.Destination.Lat, Lng: req.Destination.Lng}},
		DepartureAt: req.DepartureAt,
		ArrivalAt:   req.ArrivalAt,
		Capacity:    req.Capacity,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ride_id": r.ID, "status": r.Status, "seats_available": r.SeatsAvailable})
}

func (h *RideHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	r, err := h.rides.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ride_id":         r.ID,
		"driver_id":       r.DriverID,
		"status":          r.Status,
		"departure_at":    r.DepartureAt,
		"arrival_at":      r.ArrivalAt,
		"capacity":        r.Capacity,
		"seats_available": r.SeatsAvailable,
		"passengers":      r.Passengers,
	})
}

type driverActionReq struct {
	DriverID string `json:"driver_id"`
}

func (h *RideHandler) Start(c *gin.Context) {
	h.driverAction(c, h.rides.Start, ride.StatusInProgress)
}

func (h *RideHandler) Finish(c *gin.Context) {
	h.driverAction(c, h.rides.Finish, ride.StatusFinished)
}

func (h *RideHandler) Cancel(c *gin.Context) {
	h.driverAction(c, h.rides.Cancel, ride.StatusCancelled)
}

func (h *RideHandler) driverAction(c *gin.Context, action func(ctx context.Context, id, driverID types.ID) error, next ride.Status) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	var req driverActionReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.DriverID) {
		writeError(c, http.StatusBadRequest, "missing driver_id")
		return
	}
	if err := action(c.Request.Context(), types.ID(id), types.ID(req.DriverID)); err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ride_id": id, "status": next})
}

type locationReq struct {
	DriverID string  `json:"driver_id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

func (h *RideHandler) PublishLocation(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.DriverID) {
		writeError(c, http.StatusBadRequest, "missing fields")
		return
	}
	err := h.rides.PublishLocation(c.Request.Context(), types.ID(id), types.ID(req.DriverID), types.Point{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ride_id": id})
}
