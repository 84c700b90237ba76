// README: Ride aggregate, status flow and seat invariant.
package ride

import (
	"errors"
	"time"

	"unipool/internal/routing"
	"unipool/internal/types"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
	StatusCancelled  Status = "cancelled"
)

var (
	ErrNotFound         = errors.New("ride not found")
	ErrInvalidState     = errors.New("invalid ride state transition")
	ErrPermissionDenied = errors.New("not the ride driver")
	ErrConflict         = errors.New("ride state conflict")
)

// AllowedTransitions represents the forward-only ride state flow.
// Terminal states have no outgoing edges.
var AllowedTransitions = map[Status][]Status{
	StatusScheduled:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusFinished, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

type Ride struct {
	ID             types.ID
	DriverID       types.ID
	Origin         types.Place
	Destination    types.Place
	DepartureAt    time.Time
	ArrivalAt      time.Time
	Capacity       int
	SeatsAvailable int
	Status         Status
	Passengers     []types.ID
	Legs           []routing.Trajectory
	CreatedAt      time.Time
}
