// README: Delivery zone checks against Google Maps driving distance.
package maps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"
)

// ZoneService measures driving distance between a restaurant and a delivery address.
type ZoneService struct {
	client *maps.Client
}

// NewZoneService creates a ZoneService with the given API key. Extra client
// options (a base URL for tests, an HTTP client) are appended.
func NewZoneService(apiKey string, opts ...maps.ClientOption) (*ZoneService, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &ZoneService{client: client}, nil
}

// Route returns the driving distance in kilometers and the travel time.
func (s *ZoneService) Route(ctx context.Context, origin, destination string) (float64, time.Duration, error) {
	r := &maps.DirectionsRequest{
		Origin:      origin,
		Destination: destination,
		Mode:        maps.TravelModeDriving,
		Units:       maps.UnitsMetric,
		Language:    "fr",
		Region:      "fr",
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return 0, 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, 0, fmt.Errorf("no route found from %q to %q", origin, destination)
	}

	leg := routes[0].Legs[0]
	return float64(leg.Distance.Meters) / 1000, leg.Duration, nil
}

func (s *ZoneService) DistanceKm(ctx context.Context, origin, destination string) (float64, error) {
	km, _, err := s.Route(ctx, origin, destination)
	return km, err
}
