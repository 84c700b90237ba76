// README: Ride request store backed by PostgreSQL.
package riderequest

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"unipool/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, r *RideRequest) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ride_requests (
			id, student_id,
			origin_label, origin_lat, origin_lng,
			destination_label, destination_lat, destination_lng,
			desired_arrival, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(r.ID),
		string(r.StudentID),
		r.Origin.Label, r.Origin.Lat, r.Origin.Lng,
		r.Destination.Label, r.Destination.Lat, r.Destination.Lng,
		r.DesiredArrival,
		string(r.Status),
		r.CreatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*RideRequest, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, student_id,
		       origin_label, origin_lat, origin_lng,
		       destination_label, destination_lat, destination_lng,
		       desired_arrival, status, created_at
		FROM ride_requests
		WHERE id = $1`, string(id),
	)
	var r RideRequest
	err := row.Scan(
		&r.ID, &r.StudentID,
		&r.Origin.Label, &r.Origin.Lat, &r.Origin.Lng,
		&r.Destination.Label, &r.Destination.Lat, &r.Destination.Lng,
		&r.DesiredArrival, &r.Status, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Cancel flips a pending request to cancelled. Returns false when the
// request was not pending anymore.
func (s *Store) Cancel(ctx context.Context, id types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE ride_requests
		SET status = $1
		WHERE id = $2 AND status = $3`,
		string(StatusCancelled), string(id), string(StatusPending),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
