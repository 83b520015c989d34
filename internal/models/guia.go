package models

// Guia — one tracked parcel. Timestamps are strings in the store-local
// timezone ("2006-01-02 15:04:05"), matching what the dashboard displays.
type Guia struct {
	ID              string         `json:"id"`
	ParcelID        string         `json:"parcelId"`
	CreatedAt       string         `json:"createdAt"`
	Status          string         `json:"status"`
	OriginCity      string         `json:"originCity"`
	DestinationCity string         `json:"destinationCity"`
	DeliveredTo     string         `json:"deliveredTo"`
	DeliveredAt     string         `json:"deliveredAt"`
	LastUpdatedAt   string         `json:"lastUpdatedAt"`
	History         []HistoryEntry `json:"history"`
}

// HistoryEntry is a snapshot taken when the status changes.
type HistoryEntry struct {
	Status          string `json:"status"`
	OriginCity      string `json:"originCity"`
	DestinationCity string `json:"destinationCity"`
	Timestamp       string `json:"timestamp"`
}

type GuiaCreateInput struct {
	ParcelID        string `json:"parcelId"`
	Status          string `json:"status"`
	OriginCity      string `json:"originCity"`
	DestinationCity string `json:"destinationCity"`
	DeliveredTo     string `json:"deliveredTo"`
	DeliveredAt     string `json:"deliveredAt"`
}

// GuiaUpdateFields is a partial update: nil keeps the stored value,
// a non-nil pointer overwrites it (an empty string overwrites to empty).
type GuiaUpdateFields struct {
	Status          *string `json:"status"`
	OriginCity      *string `json:"originCity"`
	DestinationCity *string `json:"destinationCity"`
	DeliveredTo     *string `json:"deliveredTo"`
	DeliveredAt     *string `json:"deliveredAt"`
}
