// README: Entry request bridge entity linking a ride request to one ride.
package entryrequest

import (
	"errors"
	"time"

	"unipool/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Actor types recorded on state events.
const (
	ActorStudent = "student"
	ActorDriver  = "driver"
	ActorSystem  = "system"
)

var (
	ErrNotFound         = errors.New("entry request not found")
	ErrInvalidState     = errors.New("entry request already resolved")
	ErrPermissionDenied = errors.New("actor is neither the student nor the driver")
	ErrSeatConflict     = errors.New("no seat available")
	ErrAlreadySeated    = errors.New("student already seated on this ride")
)

// AllowedTransitions: rejected and cancelled are terminal; an approved entry
// can still be cancelled by either party. Nothing ever re-enters pending.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusCancelled},
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

// EntryRequest rows are never deleted; resolved ones stay as an audit trail.
type EntryRequest struct {
	ID            types.ID
	RideID        types.ID
	RideRequestID types.ID
	StudentID     types.ID
	Status        Status
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// Event is one entry in the append-only state trail.
type Event struct {
	ID             int64
	EntryRequestID types.ID
	FromStatus     Status
	ToStatus       Status
	ActorType      string
	ActorID        *types.ID
	CreatedAt      time.Time
}

// ApprovedEvent is emitted after an approval commits; the cascade handler
// consumes it.
type ApprovedEvent struct {
	EntryRequestID types.ID
	RideID         types.ID
	StudentID      types.ID
}
