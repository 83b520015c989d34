package guias_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"guiatrack/internal/models"
	"guiatrack/internal/services/guias"
	"guiatrack/internal/services/reconciler"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	guia      *models.Guia
	addRes    guias.AddResult
	addErr    error
	batchRes  guias.BatchAddResult
	batchErr  error
	updateRes guias.UpdateResult

	batchGot     []models.GuiaCreateInput
	recentWindow time.Duration
}

func (f *fakeService) GetGuias(_ context.Context) ([]*models.Guia, error) {
	if f.guia == nil {
		return nil, nil
	}
	return []*models.Guia{f.guia}, nil
}

func (f *fakeService) GetGuia(_ context.Context, _ string) (*models.Guia, error) {
	return f.guia, nil
}

func (f *fakeService) AddGuia(_ context.Context, _ models.GuiaCreateInput) (guias.AddResult, error) {
	return f.addRes, f.addErr
}

func (f *fakeService) AddMultipleGuias(_ context.Context, items []models.GuiaCreateInput) (guias.BatchAddResult, error) {
	f.batchGot = items
	return f.batchRes, f.batchErr
}

func (f *fakeService) UpdateGuia(_ context.Context, _ string, _ models.GuiaUpdateFields) (guias.UpdateResult, error) {
	return f.updateRes, nil
}

func (f *fakeService) GetStats(_ context.Context) (guias.Stats, error) {
	return guias.Stats{Total: 1, ByStatus: map[string]int{"En tránsito": 1}, AsOf: "2026-01-01 00:00:00"}, nil
}

func (f *fakeService) GetRecentlyDelivered(_ context.Context, window time.Duration) ([]*models.Guia, error) {
	f.recentWindow = window
	if f.guia == nil {
		return []*models.Guia{}, nil
	}
	return []*models.Guia{f.guia}, nil
}

type fakeReconciler struct {
	sum       reconciler.Summary
	runCalls  int
	oneCalls  int
	rescraped string
}

func (f *fakeReconciler) RunOnce(_ context.Context) (reconciler.Summary, error) {
	f.runCalls++
	return f.sum, nil
}

func (f *fakeReconciler) RescrapeOne(_ context.Context, parcelID string) (reconciler.Summary, error) {
	f.oneCalls++
	f.rescraped = parcelID
	return f.sum, nil
}

func newTestRouter(svc GuiaService, rec Reconciler, secret string) http.Handler {
	r := chi.NewRouter()
	New(svc, rec, secret).Routes(r)
	return r
}

func TestGetGuiaFound(t *testing.T) {
	svc := &fakeService{guia: &models.Guia{ParcelID: "GY1234567", Status: "En tránsito"}}
	h := newTestRouter(svc, nil, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guias/GY1234567", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var g models.Guia
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g))
	require.Equal(t, "GY1234567", g.ParcelID)
}

func TestGetGuiaNotFoundAndInvalid(t *testing.T) {
	h := newTestRouter(&fakeService{}, nil, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guias/GY1234567", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guias/notaguia", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddGuiaStatusCodes(t *testing.T) {
	svc := &fakeService{addRes: guias.AddResult{Success: true, Message: "guia added", ID: "GY1234567-1"}}
	h := newTestRouter(svc, nil, "")

	body := bytes.NewBufferString(`{"parcelId":"GY1234567"}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/guias", body))
	require.Equal(t, http.StatusCreated, rec.Code)

	svc.addRes = guias.AddResult{Success: false, Message: "guia already exists"}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/guias", bytes.NewBufferString(`{"parcelId":"GY1234567"}`)))
	require.Equal(t, http.StatusConflict, rec.Code)

	svc.addErr = errors.New(`invalid parcel number "BAD"`)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/guias", bytes.NewBufferString(`{"parcelId":"BAD"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/guias", bytes.NewBufferString(`{bad`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddBatchAlways200WithBreakdown(t *testing.T) {
	svc := &fakeService{batchRes: guias.BatchAddResult{
		Added: 1, Skipped: 1,
		Details: []guias.BatchDetail{
			{Guia: "GY1111111", Status: "added"},
			{Guia: "GY2222222", Status: "skipped", Reason: "guia already exists"},
		},
	}}
	h := newTestRouter(svc, nil, "")

	body := bytes.NewBufferString(`{"guias":[{"parcelId":"GY1111111"},{"parcelId":"GY2222222"}]}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/guias/batch", body))

	require.Equal(t, http.StatusOK, rec.Code)
	var res guias.BatchAddResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, 1, res.Added)
	require.Len(t, res.Details, 2)
}

func TestAddBatchOversizedIsBadRequest(t *testing.T) {
	svc := &fakeService{batchErr: errors.New("too many items (max 50)")}
	h := newTestRouter(svc, nil, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/guias/batch", bytes.NewBufferString(`{"guias":[{"parcelId":"GY1111111"}]}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateGuia(t *testing.T) {
	svc := &fakeService{updateRes: guias.UpdateResult{Success: true, Message: "guia updated"}}
	h := newTestRouter(svc, nil, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/guias/GY1234567", bytes.NewBufferString(`{"status":"Entregado"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	svc.updateRes = guias.UpdateResult{Success: false, Message: "guia not found"}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/guias/GY1234567", bytes.NewBufferString(`{"status":"Entregado"}`)))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsAndRecentDelivered(t *testing.T) {
	svc := &fakeService{guia: &models.Guia{ParcelID: "GY1234567", Status: "Entregado a destinatario"}}
	h := newTestRouter(svc, nil, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guias/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st guias.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Equal(t, 1, st.Total)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guias/recent-delivered?hours=48", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 48*time.Hour, svc.recentWindow)

	// no hours param delegates the default window to the service
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guias/recent-delivered", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, time.Duration(0), svc.recentWindow)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guias/recent-delivered?hours=zero", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddBatchGuiasTextParsed(t *testing.T) {
	svc := &fakeService{batchRes: guias.BatchAddResult{Added: 2, Details: []guias.BatchDetail{}}}
	h := newTestRouter(svc, nil, "")

	body := bytes.NewBufferString(`{"guiasText":"gy 1111111, GY2222222, notaguia, GY2222222"}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/guias/batch", body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.batchGot, 2)
	require.Equal(t, "GY1111111", svc.batchGot[0].ParcelID)
	require.Equal(t, "GY2222222", svc.batchGot[1].ParcelID)
}

func TestRescrapeEndpoint(t *testing.T) {
	frec := &fakeReconciler{sum: reconciler.Summary{Updated: 1}}
	h := newTestRouter(&fakeService{}, frec, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/guias/GY1234567/rescrape", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, frec.oneCalls)
	require.Equal(t, "GY1234567", frec.rescraped)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/guias/bad/rescrape", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCronUpdateAuth(t *testing.T) {
	frec := &fakeReconciler{sum: reconciler.Summary{Pending: 2, Updated: 1}}
	h := newTestRouter(&fakeService{}, frec, "s3cret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cron/update-status", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, 0, frec.runCalls)

	req := httptest.NewRequest(http.MethodPost, "/cron/update-status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, frec.runCalls)

	// no secret configured means the endpoint is open
	open := newTestRouter(&fakeService{}, frec, "")
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cron/update-status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListGuiasEmptyIsArray(t *testing.T) {
	h := newTestRouter(&fakeService{}, nil, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guias", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[]\n", rec.Body.String())
}
