package status

import "strings"

const (
	// Unknown is assigned when a guía has no status yet.
	Unknown = "Desconocido"
	// NotAvailable is the sentinel the scraper returns when no extraction
	// strategy produced a status. It is not an error.
	NotAvailable = "No disponible"
)

// finalHints mark a guía as finished: delivered, returned-and-delivered,
// or lost-and-settled. Matching is by substring, so e.g. "Entregado a
// destinatario" and "Entregado parcial" are both final.
var finalHints = []string{
	"entregado",
	"devolución/entrega",
	"devolucion/entrega",
	"siniestro/entrega",
}

// IsFinal reports whether a status string means the parcel's journey has
// concluded and it no longer needs scraping. Empty is never final.
func IsFinal(s string) bool {
	if s == "" {
		return false
	}
	low := strings.ToLower(s)
	for _, hint := range finalHints {
		if strings.Contains(low, hint) {
			return true
		}
	}
	return false
}
