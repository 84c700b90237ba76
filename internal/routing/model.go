// README: Route cost and trajectory types returned by the routing provider.
package routing

import (
	"errors"

	"unipool/internal/types"
)

var (
	// ErrRouteMissing means a ride has no principal leg to use as a baseline.
	ErrRouteMissing = errors.New("ride has no principal route")
	// ErrRouteProvider wraps any non-Ok or transport failure from the provider.
	ErrRouteProvider = errors.New("route provider error")
)

// RouteCost is the cost of driving one route.
type RouteCost struct {
	DistanceKm  float64
	DurationSec float64
}

// Trajectory is a stored route leg. The first leg returned by the provider
// is the principal one; the rest are alternatives.
type Trajectory struct {
	Label       string
	Principal   bool
	DistanceKm  float64
	DurationSec int64
	Points      []types.Point
}

// PrincipalCost returns the cost of the principal leg among legs.
func PrincipalCost(legs []Trajectory) (RouteCost, error) {
	for _, l := range legs {
		if l.Principal {
			return RouteCost{DistanceKm: l.DistanceKm, DurationSec: float64(l.DurationSec)}, nil
		}
	}
	return RouteCost{}, ErrRouteMissing
}
