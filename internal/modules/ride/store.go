// README: Ride store backed by PostgreSQL; rides, passengers, trajectories.
package ride

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"unipool/internal/routing"
	"unipool/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, r *Ride) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rides (
			id, driver_id,
			origin_label, origin_lat, origin_lng,
			destination_label, destination_lat, destination_lng,
			departure_at, arrival_at,
			capacity, seats_available, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		string(r.ID), string(r.DriverID),
		r.Origin.Label, r.Origin.Lat, r.Origin.Lng,
		r.Destination.Label, r.Destination.Lat, r.Destination.Lng,
		r.DepartureAt, r.ArrivalAt,
		r.Capacity, r.SeatsAvailable, string(r.Status), r.CreatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, driver_id,
		       origin_label, origin_lat, origin_lng,
		       destination_label, destination_lat, destination_lng,
		       departure_at, arrival_at,
		       capacity, seats_available, status, created_at
		FROM rides
		WHERE id = $1`, string(id),
	)
	r, err := scanRide(row)
	if err != nil {
		return nil, err
	}
	if r.Passengers, err = s.listPassengers(ctx, r.ID); err != nil {
		return nil, err
	}
	if r.Legs, err = s.Trajectories(ctx, r.ID); err != nil {
		return nil, err
	}
	return r, nil
}

// FindViable returns scheduled rides with free seats that depart before the
// desired arrival and have not already left. The detour and timing
// predicates are evaluated by the matching engine, not here.
func (s *Store) FindViable(ctx context.Context, now, desiredArrival time.Time) ([]*Ride, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, driver_id,
		       origin_label, origin_lat, origin_lng,
		       destination_label, destination_lat, destination_lng,
		       departure_at, arrival_at,
		       capacity, seats_available, status, created_at
		FROM rides
		WHERE status = $1
		  AND seats_available > 0
		  AND departure_at > $2
		  AND departure_at <= $3
		ORDER BY departure_at`,
		string(StatusScheduled), now, desiredArrival,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rides []*Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, r := range rides {
		if r.Legs, err = s.Trajectories(ctx, r.ID); err != nil {
			return nil, err
		}
	}
	return rides, nil
}

// UpdateStatus performs a compare-and-swap status transition. Returns false
// when the ride was no longer in the expected state.
func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from, to Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE rides
		SET status = $1
		WHERE id = $2 AND status = $3`,
		string(to), string(id), string(from),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SaveTrajectories replaces the ride's stored legs.
func (s *Store) SaveTrajectories(ctx context.Context, rideID types.ID, legs []routing.Trajectory) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM ride_trajectories WHERE ride_id = $1`, string(rideID)); err != nil {
		return err
	}
	for i, l := range legs {
		pts, err := json.Marshal(l.Points)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO ride_trajectories (ride_id, position, label, principal, distance_km, duration_sec, points)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			string(rideID), i, l.Label, l.Principal, l.DistanceKm, l.DurationSec, pts,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Trajectories returns the ride's legs in stored order.
func (s *Store) Trajectories(ctx context.Context, rideID types.ID) ([]routing.Trajectory, error) {
	rows, err := s.db.Query(ctx, `
		SELECT label, principal, distance_km, duration_sec, points
		FROM ride_trajectories
		WHERE ride_id = $1
		ORDER BY position`, string(rideID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var legs []routing.Trajectory
	for rows.Next() {
		var l routing.Trajectory
		var pts []byte
		if err := rows.Scan(&l.Label, &l.Principal, &l.DistanceKm, &l.DurationSec, &pts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(pts, &l.Points); err != nil {
			return nil, err
		}
		legs = append(legs, l)
	}
	return legs, rows.Err()
}

// AppendLocationSnapshot persists a driver position report for replay.
func (s *Store) AppendLocationSnapshot(ctx context.Context, rideID types.ID, p types.Point, recordedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ride_location_snapshots (ride_id, lat, lng, recorded_at)
		VALUES ($1, $2, $3, $4)`,
		string(rideID), p.Lat, p.Lng, recordedAt,
	)
	return err
}

func (s *Store) listPassengers(ctx context.Context, rideID types.ID) ([]types.ID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT student_id FROM ride_passengers WHERE ride_id = $1 ORDER BY added_at`, string(rideID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []types.ID
	for rows.Next() {
		var id types.ID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*Ride, error) {
	var r Ride
	err := row.Scan(
		&r.ID, &r.DriverID,
		&r.Origin.Label, &r.Origin.Lat, &r.Origin.Lng,
		&r.Destination.Label, &r.Destination.Lat, &r.Destination.Lng,
		&r.DepartureAt, &r.ArrivalAt,
		&r.Capacity, &r.SeatsAvailable, &r.Status, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
