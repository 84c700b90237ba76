// README: Entry request ledger; approval consumes a seat and cascades over competing requests.
package entryrequest

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"unipool/internal/modules/notification"
	"unipool/internal/modules/ride"
	"unipool/internal/modules/riderequest"
	"unipool/internal/routing"
	"unipool/internal/types"
)

// RideDirectory exposes the ride lookups and route persistence the ledger
// needs.
type RideDirectory interface {
	Get(ctx context.Context, id types.ID) (*ride.Ride, error)
	SaveTrajectories(ctx context.Context, rideID types.ID, legs []routing.Trajectory) error
}

type RequestDirectory interface {
	Get(ctx context.Context, id types.ID) (*riderequest.RideRequest, error)
}

type Notifier interface {
	CreateAndSend(ctx context.Context, recipient types.ID, kind notification.Type, payload string, requiresResponse bool) (*notification.Notification, error)
}

// RoutePlanner recomputes a ride's trajectories when its passenger set
// shrinks.
type RoutePlanner interface {
	CalculateTrajectories(ctx context.Context, origin, destination types.Point, waypoints ...types.Point) ([]routing.Trajectory, error)
}

type Service struct {
	store    Store
	rides    RideDirectory
	requests RequestDirectory
	notifier Notifier
	planner  RoutePlanner

	// onApproved consumes the post-commit approval event. Wired to the
	// cascade handler; the cascade itself never emits another event.
	onApproved func(ctx context.Context, ev ApprovedEvent)
}

func NewService(store Store, rides RideDirectory, requests RequestDirectory, notifier Notifier, planner RoutePlanner) *Service {
	s := &Service{
		store:    store,
		rides:    rides,
		requests: requests,
		notifier: notifier,
		planner:  planner,
	}
	s.onApproved = s.cascadeOnApproval
	return s
}

// Create links a ride request to a ride with a fresh PENDING entry.
func (s *Service) Create(ctx context.Context, rideID, requestID, studentID types.ID) (*EntryRequest, error) {
	e := &EntryRequest{
		ID:            types.NewID(),
		RideID:        rideID,
		RideRequestID: requestID,
		StudentID:     studentID,
		Status:        StatusPending,
		CreatedAt:     time.Now(),
	}
	if err := s.store.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*EntryRequest, error) {
	return s.store.Get(ctx, id)
}

// Approve seats the student on the ride and cancels their other pending
// entries elsewhere. The seat mutation happens under the ride row lock; the
// cascade runs after the approving transaction committed.
func (s *Service) Approve(ctx context.Context, id types.ID) (*EntryRequest, error) {
	e, err := s.store.ApproveAndSeat(ctx, id)
	if err != nil {
		return nil, err
	}

	s.onApproved(ctx, ApprovedEvent{EntryRequestID: e.ID, RideID: e.RideID, StudentID: e.StudentID})

	s.notify(ctx, e.StudentID, notification.TypeEntryApproved, e, false)
	return e, nil
}

// Reject resolves a pending entry with no side effects on other entries.
func (s *Service) Reject(ctx context.Context, id types.ID) (*EntryRequest, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusPending {
		return nil, ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, id, StatusPending, StatusRejected, ActorDriver, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidState
	}
	e.Status = StatusRejected
	s.notify(ctx, e.StudentID, notification.TypeEntryRejected, e, false)
	return e, nil
}

// Cancel may be called by the requesting student or the ride's driver while
// the entry is PENDING or APPROVED. Cancelling an approved entry frees the
// seat and recomputes the ride's route without that student's waypoints.
func (s *Service) Cancel(ctx context.Context, id, actorID types.ID) (*EntryRequest, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusPending && e.Status != StatusApproved {
		return nil, ErrInvalidState
	}

	r, err := s.rides.Get(ctx, e.RideID)
	if err != nil {
		return nil, err
	}
	actorType := ""
	switch actorID {
	case e.StudentID:
		actorType = ActorStudent
	case r.DriverID:
		actorType = ActorDriver
	default:
		return nil, ErrPermissionDenied
	}

	if e.Status == StatusApproved {
		e, err = s.store.CancelAndUnseat(ctx, id, actorType, &actorID)
		if err != nil {
			return nil, err
		}
		s.recalculateRoute(ctx, r, e.StudentID)
	} else {
		ok, err := s.store.UpdateStatus(ctx, id, StatusPending, StatusCancelled, actorType, &actorID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrInvalidState
		}
		e.Status = StatusCancelled
	}

	// Tell the party that did not act.
	if actorType == ActorStudent {
		s.notify(ctx, r.DriverID, notification.TypeEntryCancelled, e, false)
	} else {
		s.notify(ctx, e.StudentID, notification.TypeEntryCancelled, e, false)
	}
	return e, nil
}

// cascadeOnApproval cancels every other PENDING entry of the student on a
// different scheduled ride. These transitions are system-initiated and do
// not cascade further.
func (s *Service) cascadeOnApproval(ctx context.Context, ev ApprovedEvent) {
	others, err := s.store.ListPendingByStudentOnOtherScheduledRides(ctx, ev.StudentID, ev.RideID)
	if err != nil {
		log.Printf("approval cascade for %s: %v", ev.EntryRequestID, err)
		return
	}
	for _, o := range others {
		ok, err := s.store.UpdateStatus(ctx, o.ID, StatusPending, StatusCancelled, ActorSystem, nil)
		if err != nil {
			log.Printf("cascade cancel %s: %v", o.ID, err)
			continue
		}
		if ok {
			o.Status = StatusCancelled
			s.notify(ctx, o.StudentID, notification.TypeEntryCancelled, o, false)
		}
	}
}

// recalculateRoute rebuilds the ride's trajectories from the remaining
// approved passengers' pickup and dropoff points. A provider failure must
// not block the cancellation, so errors are only logged.
func (s *Service) recalculateRoute(ctx context.Context, r *ride.Ride, removed types.ID) {
	remaining, err := s.store.ListApprovedByRide(ctx, r.ID)
	if err != nil {
		log.Printf("ride %s: list passengers for reroute: %v", r.ID, err)
		return
	}
	var waypoints []types.Point
	for _, e := range remaining {
		if e.StudentID == removed {
			continue
		}
		req, err := s.requests.Get(ctx, e.RideRequestID)
		if err != nil {
			log.Printf("ride %s: load request %s: %v", r.ID, e.RideRequestID, err)
			continue
		}
		waypoints = append(waypoints, req.Origin.Point, req.Destination.Point)
	}
	legs, err := s.planner.CalculateTrajectories(ctx, r.Origin.Point, r.Destination.Point, waypoints...)
	if err != nil {
		log.Printf("ride %s: reroute: %v", r.ID, err)
		return
	}
	if err := s.rides.SaveTrajectories(ctx, r.ID, legs); err != nil {
		log.Printf("ride %s: save reroute: %v", r.ID, err)
	}
}

func (s *Service) notify(ctx context.Context, recipient types.ID, kind notification.Type, e *EntryRequest, requiresResponse bool) {
	payload, _ := json.Marshal(map[string]any{
		"entry_request_id": e.ID,
		"ride_id":          e.RideID,
		"status":           e.Status,
	})
	if _, err := s.notifier.CreateAndSend(ctx, recipient, kind, string(payload), requiresResponse); err != nil {
		log.Printf("entry %s: notify %s: %v", e.ID, recipient, err)
	}
}
