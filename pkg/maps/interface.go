package maps

import "context"

// Geocoder resolves coordinates to a human-readable address. The SOS pipeline
// uses it to enrich the trigger location snapshot; failures are absorbed by
// the caller.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error)
}

type GeocodeResult struct {
	PlaceID    string `json:"place_id"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
}
