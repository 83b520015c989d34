package messages

import "time"

// GuiaUpdated is published by the reconcile worker after a scrape result has
// been applied to a guía. The API consumes it to refresh the per-guía cache.
type GuiaUpdated struct {
	ParcelID  string    `json:"parcel_id"`
	CheckedAt time.Time `json:"checked_at"`

	Status          string `json:"status,omitempty"`
	OriginCity      string `json:"origin_city,omitempty"`
	DestinationCity string `json:"destination_city,omitempty"`
	DeliveredTo     string `json:"delivered_to,omitempty"`
	DeliveredAt     string `json:"delivered_at,omitempty"`

	Error *string `json:"error,omitempty"`
}
