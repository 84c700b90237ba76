// README: Ride lifecycle; start/finish/cancel and location broadcasts.
package ride

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"unipool/internal/modules/notification"
	"unipool/internal/realtime"
	"unipool/internal/routing"
	"unipool/internal/types"
)

// Notifier lets the ride module inform passengers without owning delivery.
type Notifier interface {
	CreateAndSend(ctx context.Context, recipient types.ID, kind notification.Type, payload string, requiresResponse bool) (*notification.Notification, error)
}

// RoutePlanner computes the principal and alternative legs of a fresh ride.
type RoutePlanner interface {
	CalculateTrajectories(ctx context.Context, origin, destination types.Point, waypoints ...types.Point) ([]routing.Trajectory, error)
}

type Service struct {
	store     *Store
	publisher realtime.Publisher
	notifier  Notifier
	planner   RoutePlanner
}

func NewService(store *Store, publisher realtime.Publisher, notifier Notifier, planner RoutePlanner) *Service {
	return &Service{store: store, publisher: publisher, notifier: notifier, planner: planner}
}

type CreateCommand struct {
	DriverID    types.ID
	Origin      types.Place
	Destination types.Place
	DepartureAt time.Time
	ArrivalAt   time.Time
	Capacity    int
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Ride, error) {
	r := &Ride{
		ID:             types.NewID(),
		DriverID:       cmd.DriverID,
		Origin:         cmd.Origin,
		Destination:    cmd.Destination,
		DepartureAt:    cmd.DepartureAt,
		ArrivalAt:      cmd.ArrivalAt,
		Capacity:       cmd.Capacity,
		SeatsAvailable: cmd.Capacity,
		Status:         StatusScheduled,
		CreatedAt:      time.Now(),
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}

	// A ride without stored legs has no baseline and is invisible to
	// matching until one is saved, so a provider failure here only delays
	// matchability.
	legs, err := s.planner.CalculateTrajectories(ctx, r.Origin.Point, r.Destination.Point)
	if err != nil {
		log.Printf("ride %s: initial route: %v", r.ID, err)
		return r, nil
	}
	if err := s.store.SaveTrajectories(ctx, r.ID, legs); err != nil {
		log.Printf("ride %s: save initial route: %v", r.ID, err)
		return r, nil
	}
	r.Legs = legs
	return r, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Ride, error) {
	return s.store.Get(ctx, id)
}

// Start moves a scheduled ride into progress and broadcasts the start to the
// ride topic.
func (s *Service) Start(ctx context.Context, id, driverID types.ID) error {
	r, err := s.requireDriver(ctx, id, driverID)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, StatusInProgress) {
		return ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, id, r.Status, StatusInProgress)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	if err := s.publisher.Publish(ctx, realtime.RideStartedTopic(id), map[string]any{
		"ride_id":    id,
		"started_at": time.Now().UTC(),
	}); err != nil {
		log.Printf("ride %s: start broadcast: %v", id, err)
	}
	return nil
}

func (s *Service) Finish(ctx context.Context, id, driverID types.ID) error {
	r, err := s.requireDriver(ctx, id, driverID)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, StatusFinished) {
		return ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, id, r.Status, StatusFinished)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// Cancel aborts a non-terminal ride and tells every approved passenger.
func (s *Service) Cancel(ctx context.Context, id, driverID types.ID) error {
	r, err := s.requireDriver(ctx, id, driverID)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, StatusCancelled) {
		return ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, id, r.Status, StatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	payload, _ := json.Marshal(map[string]any{"ride_id": id})
	for _, p := range r.Passengers {
		if _, err := s.notifier.CreateAndSend(ctx, p, notification.TypeRideCancelled, string(payload), false); err != nil {
			log.Printf("ride %s: notify passenger %s: %v", id, p, err)
		}
	}
	return nil
}

// PublishLocation broadcasts a driver position and keeps a snapshot for
// later replay.
func (s *Service) PublishLocation(ctx context.Context, id, driverID types.ID, p types.Point) error {
	r, err := s.requireDriver(ctx, id, driverID)
	if err != nil {
		return err
	}
	if r.Status != StatusInProgress {
		return ErrInvalidState
	}
	now := time.Now().UTC()
	if err := s.publisher.Publish(ctx, realtime.RideLocationTopic(id), map[string]any{
		"ride_id":     id,
		"lat":         p.Lat,
		"lng":         p.Lng,
		"recorded_at": now,
	}); err != nil {
		return fmt.Errorf("location broadcast: %w", err)
	}
	if err := s.store.AppendLocationSnapshot(ctx, id, p, now); err != nil {
		log.Printf("ride %s: location snapshot: %v", id, err)
	}
	return nil
}

func (s *Service) requireDriver(ctx context.Context, id, driverID types.ID) (*Ride, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.DriverID != driverID {
		return nil, ErrPermissionDenied
	}
	return r, nil
}
