// README: Notification dispatcher; one inline attempt, bounded backoff retries out of band.
package notification

import (
	"context"
	"log"
	"time"

	"unipool/internal/config"
	"unipool/internal/observability"
	"unipool/internal/realtime"
	"unipool/internal/types"
)

// Store is the persistence contract the dispatcher needs.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	Update(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id types.ID) (*Notification, error)
	PendingForRetry(ctx context.Context, now time.Time, maxRetries int) ([]*Notification, error)
	UnreadCount(ctx context.Context, recipient types.ID) (int, error)
}

type Service struct {
	store      Store
	publisher  realtime.Publisher
	maxRetries int
	backoff    time.Duration
	now        func() time.Time
}

func NewService(store Store, publisher realtime.Publisher, cfg config.NotificationConfig) *Service {
	return &Service{
		store:      store,
		publisher:  publisher,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.BackoffStep,
		now:        time.Now,
	}
}

type deliveryMessage struct {
	ID               types.ID `json:"id"`
	Type             Type     `json:"type"`
	Payload          string   `json:"payload"`
	RequiresResponse bool     `json:"requires_response"`
}

// CreateAndSend persists the notification and makes one inline delivery
// attempt. Delivery failures are recorded, never returned: the retry sweep
// picks them up later.
func (s *Service) CreateAndSend(ctx context.Context, recipient types.ID, kind Type, payload string, requiresResponse bool) (*Notification, error) {
	n := &Notification{
		ID:               types.NewID(),
		Recipient:        recipient,
		Type:             kind,
		Payload:          payload,
		Status:           StatusPending,
		RequiresResponse: requiresResponse,
		CreatedAt:        s.now(),
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}
	s.attempt(ctx, n)
	return n, nil
}

// Retry makes one more delivery attempt with the same bookkeeping as the
// inline one.
func (s *Service) Retry(ctx context.Context, n *Notification) {
	observability.NotificationRetriesTotal.Inc()
	s.attempt(ctx, n)
}

// attempt publishes to the recipient topic and updates the delivery state:
// success -> SENT; failure -> FAILED with retryCount++ and
// nextAttemptAt = now + backoff*retryCount while retries remain, otherwise
// nextAttemptAt cleared for manual remediation.
func (s *Service) attempt(ctx context.Context, n *Notification) {
	now := s.now()
	n.LastAttemptAt = &now

	msg := deliveryMessage{ID: n.ID, Type: n.Type, Payload: n.Payload, RequiresResponse: n.RequiresResponse}
	if err := s.publisher.Publish(ctx, realtime.UserTopic(n.Recipient), msg); err != nil {
		n.Status = StatusFailed
		if n.RetryCount < s.maxRetries {
			n.RetryCount++
			next := now.Add(time.Duration(n.RetryCount) * s.backoff)
			n.NextAttemptAt = &next
		} else {
			n.NextAttemptAt = nil
		}
		observability.NotificationsFailedTotal.Inc()
	} else {
		n.Status = StatusSent
		n.NextAttemptAt = nil
		observability.NotificationsSentTotal.Inc()
	}
	if err := s.store.Update(ctx, n); err != nil {
		log.Printf("notification %s: record attempt: %v", n.ID, err)
	}
}

// MarkAsRead acknowledges a notification on behalf of its recipient. Calling
// it on an already acknowledged notification is a no-op.
func (s *Service) MarkAsRead(ctx context.Context, id, recipientID types.ID) error {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.Recipient != recipientID {
		return ErrPermissionDenied
	}
	if n.Status == StatusAck {
		return nil
	}
	now := s.now()
	if n.ReadAt == nil {
		n.ReadAt = &now
	}
	if n.RequiresResponse {
		n.Status = StatusAck
		n.NextAttemptAt = nil
	}
	return s.store.Update(ctx, n)
}

// PendingForRetry exposes the retry query; the sweep loop lives in cmd.
func (s *Service) PendingForRetry(ctx context.Context, now time.Time) ([]*Notification, error) {
	return s.store.PendingForRetry(ctx, now, s.maxRetries)
}

// UnreadCount returns how many notifications the recipient has not read.
func (s *Service) UnreadCount(ctx context.Context, recipient types.ID) (int, error) {
	return s.store.UnreadCount(ctx, recipient)
}

// RunRetrySweep polls for failed deliveries that are due and retries them.
// Cadence is the caller's choice; each pass is best-effort.
func (s *Service) RunRetrySweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := s.PendingForRetry(ctx, s.now())
			if err != nil {
				log.Printf("retry sweep: %v", err)
				continue
			}
			for _, n := range due {
				s.Retry(ctx, n)
			}
		}
	}
}
