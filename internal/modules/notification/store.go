// README: Notification store backed by PostgreSQL.
package notification

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"unipool/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, n *Notification) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO notifications (
			id, recipient_id, type, payload, status, requires_response,
			retry_count, last_attempt_at, next_attempt_at, read_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(n.ID), string(n.Recipient), string(n.Type), n.Payload,
		string(n.Status), n.RequiresResponse,
		n.RetryCount, n.LastAttemptAt, n.NextAttemptAt, n.ReadAt, n.CreatedAt,
	)
	return err
}

func (s *PGStore) Update(ctx context.Context, n *Notification) error {
	_, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET status = $1, retry_count = $2, last_attempt_at = $3,
		    next_attempt_at = $4, read_at = $5
		WHERE id = $6`,
		string(n.Status), n.RetryCount, n.LastAttemptAt,
		n.NextAttemptAt, n.ReadAt, string(n.ID),
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Notification, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, recipient_id, type, payload, status, requires_response,
		       retry_count, last_attempt_at, next_attempt_at, read_at, created_at
		FROM notifications
		WHERE id = $1`, string(id),
	)
	return scanNotification(row)
}

// PendingForRetry returns failed deliveries whose next attempt is due and
// which still have retries left.
func (s *PGStore) PendingForRetry(ctx context.Context, now time.Time, maxRetries int) ([]*Notification, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, recipient_id, type, payload, status, requires_response,
		       retry_count, last_attempt_at, next_attempt_at, read_at, created_at
		FROM notifications
		WHERE status = $1
		  AND next_attempt_at IS NOT NULL
		  AND next_attempt_at <= $2
		  AND retry_count < $3
		ORDER BY next_attempt_at`,
		string(StatusFailed), now, maxRetries,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PGStore) UnreadCount(ctx context.Context, recipient types.ID) (int, error) {
	row := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND read_at IS NULL`, string(recipient),
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID, &n.Recipient, &n.Type, &n.Payload, &n.Status, &n.RequiresResponse,
		&n.RetryCount, &n.LastAttemptAt, &n.NextAttemptAt, &n.ReadAt, &n.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}
