// README: Geocoding service backed by the Google Maps Geocoding API.
package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"unipool/internal/types"
)

// GeocodeService resolves free-text addresses to coordinates.
type GeocodeService struct {
	client *maps.Client
}

// NewGeocodeService creates a new GeocodeService with the given API Key.
func NewGeocodeService(apiKey string) (*GeocodeService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GeocodeService{client: client}, nil
}

// Search geocodes an address and returns candidate places, best match first.
func (s *GeocodeService) Search(ctx context.Context, address string) ([]types.Place, error) {
	resp, err := s.client.Geocode(ctx, &maps.GeocodingRequest{Address: address})
	if err != nil {
		return nil, fmt.Errorf("geocoding api error: %w", err)
	}

	var results []types.Place
	for _, r := range resp {
		results = append(results, types.Place{
			Label: r.FormattedAddress,
			Point: types.Point{
				Lat: r.Geometry.Location.Lat,
				Lng: r.Geometry.Location.Lng,
			},
		})
		if len(results) >= 5 {
			break
		}
	}
	return results, nil
}
