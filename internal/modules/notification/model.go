// README: Notification entity with delivery bookkeeping.
package notification

import (
	"errors"
	"time"

	"unipool/internal/types"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusAck     Status = "ack"
)

type Type string

const (
	TypeEntryRequested Type = "entry_requested"
	TypeEntryApproved  Type = "entry_approved"
	TypeEntryRejected  Type = "entry_rejected"
	TypeEntryCancelled Type = "entry_cancelled"
	TypeRideCancelled  Type = "ride_cancelled"
)

var (
	ErrNotFound         = errors.New("notification not found")
	ErrPermissionDenied = errors.New("notification belongs to another user")
)

type Notification struct {
	ID               types.ID
	Recipient        types.ID
	Type             Type
	Payload          string
	Status           Status
	RequiresResponse bool
	RetryCount       int
	LastAttemptAt    *time.Time
	NextAttemptAt    *time.Time
	ReadAt           *time.Time
	CreatedAt        time.Time
}
