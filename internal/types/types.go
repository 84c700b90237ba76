// README: Common value objects shared across modules.
package types

import (
	"crypto/rand"
	"encoding/hex"
)

// ID identifies students, rides, requests and notifications.
type ID string

// NewID returns a random 32-char hex identifier.
func NewID() ID {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return ID(hex.EncodeToString(b[:]))
}

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lng float64
}

// Place is a labeled coordinate, e.g. a geocoded address.
type Place struct {
	Label string
	Point
}
