// README: OSRM-backed route cost client (baseline, detour and trajectory queries).
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"unipool/internal/types"
)

// Client performs route lookups against an OSRM HTTP server.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: 5 * time.Second},
	}
}

// BaselineRoute returns the ride's already-computed principal leg. It never
// calls the provider.
func (c *Client) BaselineRoute(legs []Trajectory) (RouteCost, error) {
	return PrincipalCost(legs)
}

// DetourRoute quotes the ride's route with the passenger's pickup and dropoff
// inserted, in the order origin -> pickup -> dropoff -> destination.
func (c *Client) DetourRoute(ctx context.Context, origin, pickup, dropoff, destination types.Point) (RouteCost, error) {
	out, err := c.route(ctx, []types.Point{origin, pickup, dropoff, destination}, "overview=false")
	if err != nil {
		return RouteCost{}, err
	}
	r := out.Routes[0]
	return RouteCost{DistanceKm: roundKm(r.Distance), DurationSec: math.Round(r.Duration)}, nil
}

// CalculateTrajectories asks the provider for a principal route plus
// alternatives between origin and destination, passing through waypoints.
// Provider coordinates arrive as (lon, lat) and are flipped before storage.
func (c *Client) CalculateTrajectories(ctx context.Context, origin, destination types.Point, waypoints ...types.Point) ([]Trajectory, error) {
	coords := make([]types.Point, 0, len(waypoints)+2)
	coords = append(coords, origin)
	coords = append(coords, waypoints...)
	coords = append(coords, destination)

	out, err := c.route(ctx, coords, "overview=full&geometries=geojson&steps=false&alternatives=true")
	if err != nil {
		return nil, err
	}

	legs := make([]Trajectory, 0, len(out.Routes))
	for i, r := range out.Routes {
		label := "Principal"
		if i > 0 {
			label = fmt.Sprintf("Alternative %d", i)
		}
		pts := make([]types.Point, 0, len(r.Geometry.Coordinates))
		for _, c := range r.Geometry.Coordinates {
			if len(c) < 2 {
				continue
			}
			pts = append(pts, types.Point{Lat: c[1], Lng: c[0]})
		}
		legs = append(legs, Trajectory{
			Label:       label,
			Principal:   i == 0,
			DistanceKm:  roundKm(r.Distance),
			DurationSec: int64(math.Round(r.Duration)),
			Points:      pts,
		})
	}
	return legs, nil
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

func (c *Client) route(ctx context.Context, coords []types.Point, query string) (*osrmResponse, error) {
	var sb strings.Builder
	for i, p := range coords {
		if i > 0 {
			sb.WriteByte(';')
		}
		// OSRM expects lon,lat order.
		fmt.Fprintf(&sb, "%.6f,%.6f", p.Lng, p.Lat)
	}
	url := fmt.Sprintf("%s/route/v1/driving/%s?%s", c.endpoint, sb.String(), query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRouteProvider, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRouteProvider, err)
	}
	defer resp.Body.Close()

	var out osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrRouteProvider, err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return nil, fmt.Errorf("%w: code=%s", ErrRouteProvider, out.Code)
	}
	return &out, nil
}

// roundKm converts meters to kilometers rounded to one decimal.
func roundKm(meters float64) float64 {
	return math.Round(meters/100) / 10
}
