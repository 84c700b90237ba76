// README: Student read model; registration and profiles live elsewhere.
package student

import (
	"errors"
	"time"

	"unipool/internal/types"
)

var ErrNotFound = errors.New("student not found")

type Student struct {
	ID        types.ID
	Name      string
	Email     string
	CreatedAt time.Time
}
