package guias_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"guiatrack/internal/guianum"
	"guiatrack/internal/models"
	"guiatrack/internal/services/guias"
	"guiatrack/internal/services/reconciler"

	"github.com/go-chi/chi/v5"
)

type GuiaService interface {
	GetGuias(ctx context.Context) ([]*models.Guia, error)
	GetGuia(ctx context.Context, parcelID string) (*models.Guia, error)
	AddGuia(ctx context.Context, in models.GuiaCreateInput) (guias.AddResult, error)
	AddMultipleGuias(ctx context.Context, items []models.GuiaCreateInput) (guias.BatchAddResult, error)
	UpdateGuia(ctx context.Context, parcelID string, fields models.GuiaUpdateFields) (guias.UpdateResult, error)
	GetStats(ctx context.Context) (guias.Stats, error)
	GetRecentlyDelivered(ctx context.Context, window time.Duration) ([]*models.Guia, error)
}

type Reconciler interface {
	RunOnce(ctx context.Context) (reconciler.Summary, error)
	RescrapeOne(ctx context.Context, parcelID string) (reconciler.Summary, error)
}

type Server struct {
	svc        GuiaService
	reconciler Reconciler
	cronSecret string
}

func New(svc GuiaService, rec Reconciler, cronSecret string) *Server {
	return &Server{svc: svc, reconciler: rec, cronSecret: cronSecret}
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/guias", s.listGuias)
	r.Get("/guias/stats", s.stats)
	r.Get("/guias/recent-delivered", s.recentDelivered)
	r.Get("/guias/{numero}", s.getGuia)
	r.Post("/guias", s.addGuia)
	r.Post("/guias/batch", s.addBatch)
	r.Patch("/guias/{numero}", s.updateGuia)
	r.Post("/guias/{numero}/rescrape", s.rescrape)
	r.Post("/cron/update-status", s.cronUpdate)
}

func (s *Server) listGuias(w http.ResponseWriter, r *http.Request) {
	all, err := s.svc.GetGuias(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if all == nil {
		all = []*models.Guia{}
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) getGuia(w http.ResponseWriter, r *http.Request) {
	numero := chi.URLParam(r, "numero")
	if !guianum.IsValid(guianum.Clean(numero)) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid parcel number"})
		return
	}

	g, err := s.svc.GetGuia(r.Context(), numero)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if g == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "guia not found"})
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) addGuia(w http.ResponseWriter, r *http.Request) {
	var in models.GuiaCreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}

	res, err := s.svc.AddGuia(r.Context(), in)
	if err != nil {
		if strings.Contains(err.Error(), "invalid parcel number") {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type batchRequest struct {
	Guias []models.GuiaCreateInput `json:"guias"`

	// Comma-separated parcel numbers, the dashboard's paste-a-list flow.
	GuiasText string `json:"guiasText"`
}

// addBatch always answers 200 with the per-item breakdown; only a malformed
// request or an oversized batch is an HTTP error.
func (s *Server) addBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	for _, n := range guianum.ParseList(req.GuiasText) {
		req.Guias = append(req.Guias, models.GuiaCreateInput{ParcelID: n})
	}

	res, err := s.svc.AddMultipleGuias(r.Context(), req.Guias)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) updateGuia(w http.ResponseWriter, r *http.Request) {
	numero := chi.URLParam(r, "numero")

	var fields models.GuiaUpdateFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}

	res, err := s.svc.UpdateGuia(r.Context(), numero, fields)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusNotFound, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// recentDelivered passes a zero window when no hours param is given, so the
// service applies its configured default.
func (s *Server) recentDelivered(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := r.URL.Query().Get("hours"); raw != "" {
		h, err := strconv.Atoi(raw)
		if err != nil || h <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "hours must be a positive integer"})
			return
		}
		window = time.Duration(h) * time.Hour
	}

	out, err := s.svc.GetRecentlyDelivered(r.Context(), window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) rescrape(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reconciler not wired"})
		return
	}
	numero := guianum.Clean(chi.URLParam(r, "numero"))
	if !guianum.IsValid(numero) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid parcel number"})
		return
	}

	sum, err := s.reconciler.RescrapeOne(r.Context(), numero)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// cronUpdate runs a full reconcile pass. When a cron secret is configured
// the request must carry it as a bearer token.
func (s *Server) cronUpdate(w http.ResponseWriter, r *http.Request) {
	if s.cronSecret != "" {
		auth := r.Header.Get("Authorization")
		if auth != "Bearer "+s.cronSecret {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
	}
	if s.reconciler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reconciler not wired"})
		return
	}

	sum, err := s.reconciler.RunOnce(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	slog.Error("handle request", "error", err.Error())
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
