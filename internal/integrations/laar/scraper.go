package laar

import "context"

// Result carries whatever the upstream tracking page exposed for a parcel.
// Missing fields stay empty; a Status of "No disponible" means every
// extraction strategy missed, which is not an error.
type Result struct {
	ParcelID        string
	Status          string
	OriginCity      string
	DestinationCity string
	DeliveredTo     string
	DeliveredAt     string
}

// Scraper fetches the current tracking state of one parcel. Errors are
// reserved for transport failures; extraction misses are reported in-band.
type Scraper interface {
	Scrape(ctx context.Context, parcelID string) (Result, error)
}
