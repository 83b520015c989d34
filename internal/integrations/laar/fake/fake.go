package fake

import (
	"context"
	"hash/fnv"
	"time"

	"guiatrack/internal/integrations/laar"
)

// Client is a deterministic stand-in for the LAAR page, used in demos and
// tests so nothing touches the real site. Status is derived from the parcel
// number: a fifth of all parcels come back delivered.
type Client struct{}

func New() *Client { return &Client{} }

func (c *Client) Scrape(ctx context.Context, parcelID string) (laar.Result, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(parcelID))
	v := h.Sum32()

	res := laar.Result{
		ParcelID:        parcelID,
		OriginCity:      "QUITO",
		DestinationCity: "GUAYAQUIL",
	}
	switch v % 5 {
	case 0:
		res.Status = "Entregado a destinatario"
		res.DeliveredTo = "DESTINATARIO"
		res.DeliveredAt = time.Now().Format("2006-01-02")
	case 1:
		res.Status = "En bodega origen"
	default:
		res.Status = "En tránsito"
	}
	return res, nil
}
