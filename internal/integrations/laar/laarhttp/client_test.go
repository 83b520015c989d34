package laarhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"guiatrack/internal/status"

	"github.com/stretchr/testify/require"
)

func serveHTML(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/Tracking/Guiacompleta.aspx", r.URL.Path)
		require.Equal(t, "LC51960903", r.URL.Query().Get("Guia"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
}

func TestClient_Scrape_DirectSelectors(t *testing.T) {
	srv := serveHTML(t, `<html><body>
<div class="guia-info">
  <span class="estado">Entregado a destinatario</span>
  <span id="origen">QUITO</span>
  <span class="ciudad-destino">GUAYAQUIL</span>
  <span class="receptor">JUAN PEREZ</span>
  <span class="fecha-entrega">2025-01-02</span>
</div>
</body></html>`)
	defer srv.Close()

	c := New(srv.URL)
	res, err := c.Scrape(context.Background(), "LC51960903")
	require.NoError(t, err)
	require.Equal(t, "Entregado a destinatario", res.Status)
	require.Equal(t, "QUITO", res.OriginCity)
	require.Equal(t, "GUAYAQUIL", res.DestinationCity)
	require.Equal(t, "JUAN PEREZ", res.DeliveredTo)
	require.Equal(t, "2025-01-02", res.DeliveredAt)
}

func TestClient_Scrape_TableLookup(t *testing.T) {
	srv := serveHTML(t, `<html><body>
<table>
  <tr><td>Estado</td><td>En tránsito</td></tr>
  <tr><td>Ciudad Origen</td><td>CUENCA</td></tr>
  <tr><td>Ciudad Destino</td><td>LOJA</td></tr>
</table>
</body></html>`)
	defer srv.Close()

	c := New(srv.URL)
	res, err := c.Scrape(context.Background(), "LC51960903")
	require.NoError(t, err)
	require.Equal(t, "En tránsito", res.Status)
	require.Equal(t, "CUENCA", res.OriginCity)
	require.Equal(t, "LOJA", res.DestinationCity)
	require.Empty(t, res.DeliveredTo)
}

func TestClient_Scrape_FreeTextFallback(t *testing.T) {
	srv := serveHTML(t, `<html><body>
<p>Resultado de su consulta</p>
<p>Estado: En bodega origen</p>
</body></html>`)
	defer srv.Close()

	c := New(srv.URL)
	res, err := c.Scrape(context.Background(), "LC51960903")
	require.NoError(t, err)
	require.Equal(t, "En bodega origen", res.Status)
}

func TestClient_Scrape_AllStrategiesMiss(t *testing.T) {
	srv := serveHTML(t, `<html><body><p>Sin resultados para su guía.</p></body></html>`)
	defer srv.Close()

	c := New(srv.URL)
	res, err := c.Scrape(context.Background(), "LC51960903")
	require.NoError(t, err)
	require.Equal(t, status.NotAvailable, res.Status)
	require.Empty(t, res.OriginCity)
}

func TestClient_Scrape_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Scrape(context.Background(), "LC51960903")
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestClient_TrackingURL(t *testing.T) {
	c := New("")
	u, err := c.TrackingURL("LC51960903")
	require.NoError(t, err)
	require.Equal(t, "https://fenixoper.laarcourier.com/Tracking/Guiacompleta.aspx?Guia=LC51960903", u)
}
