// README: Ride request aggregate; a student's ask for a seat somewhere.
package riderequest

import (
	"errors"
	"time"

	"unipool/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCancelled Status = "cancelled"
)

var (
	ErrNotFound         = errors.New("ride request not found")
	ErrInvalidState     = errors.New("ride request already resolved")
	ErrPermissionDenied = errors.New("not the requesting student")
)

type RideRequest struct {
	ID             types.ID
	StudentID      types.ID
	Origin         types.Place
	Destination    types.Place
	DesiredArrival time.Time
	Status         Status
	CreatedAt      time.Time
}

// New builds a pending request ready for persistence.
func New(studentID types.ID, origin, destination types.Place, desiredArrival time.Time) *RideRequest {
	return &RideRequest{
		ID:             types.NewID(),
		StudentID:      studentID,
		Origin:         origin,
		Destination:    destination,
		DesiredArrival: desiredArrival,
		Status:         StatusPending,
		CreatedAt:      time.Now(),
	}
}
