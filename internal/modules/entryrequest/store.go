// README: Entry request store; seat mutations run under a ride row lock.
package entryrequest

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"unipool/internal/types"
)

// Store is the persistence contract of the ledger.
type Store interface {
	Create(ctx context.Context, e *EntryRequest) error
	Get(ctx context.Context, id types.ID) (*EntryRequest, error)
	// ApproveAndSeat atomically locks the ride row, re-validates the seat
	// invariant, adds the student to the passenger set and flips
	// PENDING -> APPROVED. Fails with ErrSeatConflict when the last seat
	// was taken by a concurrent approval.
	ApproveAndSeat(ctx context.Context, id types.ID) (*EntryRequest, error)
	// CancelAndUnseat flips APPROVED -> CANCELLED, removes the student from
	// the passenger set and frees the seat, all under the same ride lock.
	CancelAndUnseat(ctx context.Context, id types.ID, actorType string, actorID *types.ID) (*EntryRequest, error)
	// UpdateStatus performs a compare-and-swap transition with an audit
	// event. Returns false when the entry was no longer in `from`.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, actorType string, actorID *types.ID) (bool, error)
	// ListPendingByStudentOnOtherScheduledRides backs the approval cascade.
	ListPendingByStudentOnOtherScheduledRides(ctx context.Context, studentID, excludeRideID types.ID) ([]*EntryRequest, error)
	ListApprovedByRide(ctx context.Context, rideID types.ID) ([]*EntryRequest, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const entryColumns = `id, ride_id, ride_request_id, student_id, status, created_at, resolved_at`

func (s *PGStore) Create(ctx context.Context, e *EntryRequest) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO entry_requests (id, ride_id, ride_request_id, student_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.ID), string(e.RideID), string(e.RideRequestID), string(e.StudentID),
		string(e.Status), e.CreatedAt,
	); err != nil {
		return err
	}
	if err := appendEvent(ctx, tx, e.ID, "", e.Status, ActorSystem, nil); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*EntryRequest, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM entry_requests WHERE id = $1`, string(id))
	return scanEntry(row)
}

func (s *PGStore) ApproveAndSeat(ctx context.Context, id types.ID) (*EntryRequest, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM entry_requests WHERE id = $1 FOR UPDATE`, string(id))
	e, err := scanEntry(row)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusPending {
		return nil, ErrInvalidState
	}

	// Exclusive lock on the ride row serializes all seat mutations; the
	// seat count is re-validated after the lock is held.
	var seats int
	var rideStatus string
	if err := tx.QueryRow(ctx, `
		SELECT seats_available, status FROM rides WHERE id = $1 FOR UPDATE`,
		string(e.RideID),
	).Scan(&seats, &rideStatus); err != nil {
		return nil, err
	}
	if rideStatus != "scheduled" {
		return nil, ErrInvalidState
	}

	// The cascade leaves same-ride pending entries alone, so a student can
	// hold several pending entries on one ride. Only the first approval may
	// seat them.
	var seated bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM ride_passengers WHERE ride_id = $1 AND student_id = $2)`,
		string(e.RideID), string(e.StudentID),
	).Scan(&seated); err != nil {
		return nil, err
	}
	if seated {
		return nil, ErrAlreadySeated
	}
	if seats <= 0 {
		return nil, ErrSeatConflict
	}

	now := time.Now()
	if _, err := tx.Exec(ctx, `
		INSERT INTO ride_passengers (ride_id, student_id, added_at) VALUES ($1, $2, $3)`,
		string(e.RideID), string(e.StudentID), now,
	); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE rides SET seats_available = seats_available - 1 WHERE id = $1`,
		string(e.RideID),
	); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE entry_requests SET status = $1, resolved_at = $2 WHERE id = $3`,
		string(StatusApproved), now, string(e.ID),
	); err != nil {
		return nil, err
	}
	if err := appendEvent(ctx, tx, e.ID, StatusPending, StatusApproved, ActorDriver, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	e.Status = StatusApproved
	e.ResolvedAt = &now
	return e, nil
}

func (s *PGStore) CancelAndUnseat(ctx context.Context, id types.ID, actorType string, actorID *types.ID) (*EntryRequest, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM entry_requests WHERE id = $1 FOR UPDATE`, string(id))
	e, err := scanEntry(row)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusApproved {
		return nil, ErrInvalidState
	}

	if _, err := tx.Exec(ctx, `SELECT 1 FROM rides WHERE id = $1 FOR UPDATE`, string(e.RideID)); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM ride_passengers WHERE ride_id = $1 AND student_id = $2`,
		string(e.RideID), string(e.StudentID),
	); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE rides SET seats_available = seats_available + 1 WHERE id = $1`,
		string(e.RideID),
	); err != nil {
		return nil, err
	}
	now := time.Now()
	if _, err := tx.Exec(ctx, `
		UPDATE entry_requests SET status = $1, resolved_at = $2 WHERE id = $3`,
		string(StatusCancelled), now, string(e.ID),
	); err != nil {
		return nil, err
	}
	if err := appendEvent(ctx, tx, e.ID, StatusApproved, StatusCancelled, actorType, actorID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	e.Status = StatusCancelled
	e.ResolvedAt = &now
	return e, nil
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, actorType string, actorID *types.ID) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE entry_requests
		SET status = $1, resolved_at = $2
		WHERE id = $3 AND status = $4`,
		string(to), time.Now(), string(id), string(from),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if err := appendEvent(ctx, tx, id, from, to, actorType, actorID); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (s *PGStore) ListPendingByStudentOnOtherScheduledRides(ctx context.Context, studentID, excludeRideID types.ID) ([]*EntryRequest, error) {
	rows, err := s.db.Query(ctx, `
		SELECT e.id, e.ride_id, e.ride_request_id, e.student_id, e.status, e.created_at, e.resolved_at
		FROM entry_requests e
		JOIN rides r ON r.id = e.ride_id
		WHERE e.student_id = $1
		  AND e.status = $2
		  AND e.ride_id <> $3
		  AND r.status = $4`,
		string(studentID), string(StatusPending), string(excludeRideID), "scheduled",
	)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (s *PGStore) ListApprovedByRide(ctx context.Context, rideID types.ID) ([]*EntryRequest, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM entry_requests
		WHERE ride_id = $1 AND status = $2
		ORDER BY resolved_at`,
		string(rideID), string(StatusApproved),
	)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func appendEvent(ctx context.Context, tx pgx.Tx, id types.ID, from, to Status, actorType string, actorID *types.ID) error {
	var actor *string
	if actorID != nil {
		v := string(*actorID)
		actor = &v
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO entry_request_events (entry_request_id, from_status, to_status, actor_type, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(id), string(from), string(to), actorType, actor, time.Now(),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*EntryRequest, error) {
	var e EntryRequest
	err := row.Scan(&e.ID, &e.RideID, &e.RideRequestID, &e.StudentID, &e.Status, &e.CreatedAt, &e.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]*EntryRequest, error) {
	defer rows.Close()
	var out []*EntryRequest
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
