// README: Matching engine; scores viable rides by detour cost.
package matching

import (
	"errors"
	"time"

	"unipool/internal/types"
)

var (
	ErrStudentNotFound  = errors.New("student not found")
	ErrNoCompatibleRide = errors.New("no compatible ride")
)

// MatchRequest is the student's trip intent before any ride is assigned.
type MatchRequest struct {
	StudentID      types.ID
	Origin         types.Place
	Destination    types.Place
	DesiredArrival time.Time
}

// score is one candidate's detour cost relative to its principal route.
type score struct {
	rideID           types.ID
	detourMinutes    float64
	detourKm         float64
	estimatedArrival time.Time
}
