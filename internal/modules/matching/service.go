// README: Matching service; fans out candidate scoring and picks the cheapest detour.
package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"unipool/internal/config"
	"unipool/internal/modules/entryrequest"
	"unipool/internal/modules/notification"
	"unipool/internal/modules/ride"
	"unipool/internal/modules/riderequest"
	"unipool/internal/observability"
	"unipool/internal/routing"
	"unipool/internal/types"
)

type StudentDirectory interface {
	ExistsByID(ctx context.Context, id types.ID) (bool, error)
}

// RideFinder narrows the candidate pool store-side: scheduled rides with a
// free seat departing before the desired arrival.
type RideFinder interface {
	FindViable(ctx context.Context, now, desiredArrival time.Time) ([]*ride.Ride, error)
}

type RequestStore interface {
	Create(ctx context.Context, r *riderequest.RideRequest) error
	Cancel(ctx context.Context, id types.ID) (bool, error)
}

type EntryCreator interface {
	Create(ctx context.Context, rideID, requestID, studentID types.ID) (*entryrequest.EntryRequest, error)
}

type Notifier interface {
	CreateAndSend(ctx context.Context, recipient types.ID, kind notification.Type, payload string, requiresResponse bool) (*notification.Notification, error)
}

// RouteQuoter quotes a candidate's baseline and detour costs.
type RouteQuoter interface {
	BaselineRoute(legs []routing.Trajectory) (routing.RouteCost, error)
	DetourRoute(ctx context.Context, origin, pickup, dropoff, destination types.Point) (routing.RouteCost, error)
}

type Service struct {
	students StudentDirectory
	rides    RideFinder
	requests RequestStore
	entries  EntryCreator
	notifier Notifier
	quoter   RouteQuoter
	cfg      config.MatchingConfig

	now func() time.Time
}

func NewService(students StudentDirectory, rides RideFinder, requests RequestStore, entries EntryCreator, notifier Notifier, quoter RouteQuoter, cfg config.MatchingConfig) *Service {
	return &Service{
		students: students,
		rides:    rides,
		requests: requests,
		entries:  entries,
		notifier: notifier,
		quoter:   quoter,
		cfg:      cfg,
		now:      time.Now,
	}
}

// MatchAndAssign scores every viable ride concurrently and links the request
// to the one with the smallest detour. Nothing is persisted unless a match is
// found; the winning ride's seat stays free until the driver approves.
func (s *Service) MatchAndAssign(ctx context.Context, req MatchRequest) (*entryrequest.EntryRequest, error) {
	observability.MatchAttemptsTotal.Inc()
	started := s.now()
	defer func() { observability.MatchLatency.Observe(time.Since(started).Seconds()) }()

	ok, err := s.students.ExistsByID(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.MatchFailuresTotal.WithLabelValues("student_not_found").Inc()
		return nil, ErrStudentNotFound
	}

	candidates, err := s.rides.FindViable(ctx, s.now(), req.DesiredArrival)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		observability.MatchFailuresTotal.WithLabelValues("no_candidates").Inc()
		return nil, ErrNoCompatibleRide
	}

	viable, providerFailures := s.scoreCandidates(ctx, candidates, req)

	if len(viable) == 0 {
		if providerFailures == len(candidates) {
			observability.MatchFailuresTotal.WithLabelValues("route_provider").Inc()
			return nil, fmt.Errorf("%w: all %d candidates failed", routing.ErrRouteProvider, len(candidates))
		}
		observability.MatchFailuresTotal.WithLabelValues("no_viable_ride").Inc()
		return nil, ErrNoCompatibleRide
	}

	best := pickBest(viable)

	rr := riderequest.New(req.StudentID, req.Origin, req.Destination, req.DesiredArrival)
	if err := s.requests.Create(ctx, rr); err != nil {
		return nil, err
	}
	e, err := s.entries.Create(ctx, best.rideID, rr.ID, req.StudentID)
	if err != nil {
		// The request was persisted first; cancel it so no pending request
		// is left behind without an entry linking it to a ride.
		if _, cerr := s.requests.Cancel(ctx, rr.ID); cerr != nil {
			log.Printf("matching: cancel orphaned request %s: %v", rr.ID, cerr)
		}
		return nil, err
	}
	observability.MatchesTotal.Inc()

	s.notifyDriver(ctx, driverOf(candidates, best.rideID), e)
	return e, nil
}

// scoreCandidates runs one quote per candidate concurrently. A provider
// failure only drops that candidate; the caller decides whether the whole
// attempt degrades to a provider error.
func (s *Service) scoreCandidates(ctx context.Context, candidates []*ride.Ride, req MatchRequest) ([]score, int) {
	type result struct {
		s           score
		viable      bool
		providerErr bool
	}

	results := make([]result, len(candidates))
	var wg sync.WaitGroup
	for i, r := range candidates {
		wg.Add(1)
		go func(i int, r *ride.Ride) {
			defer wg.Done()
			sc, err := s.scoreOne(ctx, r, req)
			if err != nil {
				observability.CandidatesSkippedTotal.Inc()
				// A ride with no stored baseline is just not matchable;
				// only provider errors count toward escalation.
				results[i].providerErr = errors.Is(err, routing.ErrRouteProvider)
				log.Printf("matching: skip ride %s: %v", r.ID, err)
				return
			}
			results[i].s = sc
			results[i].viable = s.isViable(sc, req.DesiredArrival)
		}(i, r)
	}
	wg.Wait()

	var viable []score
	providerFailures := 0
	for _, res := range results {
		if res.providerErr {
			providerFailures++
			continue
		}
		if res.viable {
			viable = append(viable, res.s)
		}
	}
	return viable, providerFailures
}

func (s *Service) scoreOne(ctx context.Context, r *ride.Ride, req MatchRequest) (score, error) {
	base, err := s.quoter.BaselineRoute(r.Legs)
	if err != nil {
		return score{}, err
	}
	detour, err := s.quoter.DetourRoute(ctx, r.Origin.Point, req.Origin.Point, req.Destination.Point, r.Destination.Point)
	if err != nil {
		return score{}, err
	}
	return score{
		rideID:           r.ID,
		detourMinutes:    (detour.DurationSec - base.DurationSec) / 60,
		detourKm:         detour.DistanceKm - base.DistanceKm,
		estimatedArrival: r.DepartureAt.Add(time.Duration(detour.DurationSec * float64(time.Second))),
	}, nil
}

func (s *Service) isViable(sc score, desiredArrival time.Time) bool {
	return sc.detourMinutes <= s.cfg.MaxDetourMinutes &&
		sc.detourKm <= s.cfg.MaxDetourKm &&
		!sc.estimatedArrival.After(desiredArrival)
}

// pickBest is deterministic: smallest detour in minutes, ties broken by the
// lexicographically smallest ride ID.
func pickBest(viable []score) score {
	sort.Slice(viable, func(i, j int) bool {
		if viable[i].detourMinutes != viable[j].detourMinutes {
			return viable[i].detourMinutes < viable[j].detourMinutes
		}
		return viable[i].rideID < viable[j].rideID
	})
	return viable[0]
}

func driverOf(candidates []*ride.Ride, rideID types.ID) types.ID {
	for _, r := range candidates {
		if r.ID == rideID {
			return r.DriverID
		}
	}
	return ""
}

func (s *Service) notifyDriver(ctx context.Context, driverID types.ID, e *entryrequest.EntryRequest) {
	payload, _ := json.Marshal(map[string]any{
		"entry_request_id": e.ID,
		"ride_id":          e.RideID,
		"student_id":       e.StudentID,
	})
	if _, err := s.notifier.CreateAndSend(ctx, driverID, notification.TypeEntryRequested, string(payload), true); err != nil {
		log.Printf("matching: notify driver %s: %v", driverID, err)
	}
}
