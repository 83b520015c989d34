package guias

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"guiatrack/internal/cache"
	"guiatrack/internal/guianum"
	"guiatrack/internal/history"
	"guiatrack/internal/localtime"
	"guiatrack/internal/models"
	"guiatrack/internal/status"

	"github.com/pkg/errors"
)

const defaultMaxBatch = 50

type Repository interface {
	GetAll(ctx context.Context) ([]*models.Guia, error)
	Find(ctx context.Context, parcelID string) (*models.Guia, error)
	Insert(ctx context.Context, g *models.Guia) (bool, error)
	Update(ctx context.Context, parcelID string, mutate func(g *models.Guia) error) (bool, error)
}

type Service struct {
	repo         Repository
	cache        cache.BytesCache
	currentTTL   time.Duration
	clock        *localtime.Clock
	maxBatch     int
	recentWindow time.Duration
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration, clock *localtime.Clock, maxBatch int) *Service {
	if clock == nil {
		clock, _ = localtime.New("")
	}
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}
	return &Service{
		repo: repo, cache: c, currentTTL: currentTTL, clock: clock, maxBatch: maxBatch,
		recentWindow: 24 * time.Hour,
	}
}

// WithRecentDeliveredWindow overrides the default trailing window used when
// a caller does not ask for one explicitly.
func (s *Service) WithRecentDeliveredWindow(window time.Duration) *Service {
	if window > 0 {
		s.recentWindow = window
	}
	return s
}

type AddResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

type UpdateResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type BatchDetail struct {
	Guia   string `json:"guia"`
	Status string `json:"status"` // "added" | "updated" | "skipped" | "error"
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

type BatchAddResult struct {
	Added   int           `json:"added"`
	Skipped int           `json:"skipped"`
	Errors  int           `json:"errors"`
	Details []BatchDetail `json:"details"`
}

type PendingUpdate struct {
	ParcelID string                  `json:"parcelId"`
	Fields   models.GuiaUpdateFields `json:"fields"`
}

type UpdatePendingResult struct {
	Updated int           `json:"updated"`
	Skipped int           `json:"skipped"`
	Errors  int           `json:"errors"`
	Details []BatchDetail `json:"details"`
}

type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
	AsOf     string         `json:"asOf"`
}

func (s *Service) GetGuias(ctx context.Context) ([]*models.Guia, error) {
	return s.repo.GetAll(ctx)
}

func (s *Service) GetGuia(ctx context.Context, parcelID string) (*models.Guia, error) {
	parcelID = guianum.Clean(parcelID)
	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(parcelID)); err == nil && ok {
			var g models.Guia
			if json.Unmarshal(b, &g) == nil {
				return &g, nil
			}
		}
	}

	g, err := s.repo.Find(ctx, parcelID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, nil
	}
	s.fillCache(ctx, g)
	return g, nil
}

// AddGuia creates a record with a seeded one-entry history. Duplicate parcel
// numbers are rejected as a structured result, never merged.
func (s *Service) AddGuia(ctx context.Context, in models.GuiaCreateInput) (AddResult, error) {
	in.ParcelID = guianum.Clean(in.ParcelID)
	if !guianum.IsValid(in.ParcelID) {
		return AddResult{}, errors.Errorf("invalid parcel number %q", in.ParcelID)
	}

	nowT := time.Now()
	now := s.clock.Format(nowT)
	st := in.Status
	if st == "" {
		st = status.Unknown
	}

	g := &models.Guia{
		ID:              guianum.NewID(in.ParcelID, nowT),
		ParcelID:        in.ParcelID,
		CreatedAt:       now,
		Status:          st,
		OriginCity:      in.OriginCity,
		DestinationCity: in.DestinationCity,
		DeliveredTo:     in.DeliveredTo,
		DeliveredAt:     in.DeliveredAt,
		LastUpdatedAt:   now,
		History: history.Append(nil, models.HistoryEntry{
			Status:          st,
			OriginCity:      in.OriginCity,
			DestinationCity: in.DestinationCity,
			Timestamp:       now,
		}),
	}

	inserted, err := s.repo.Insert(ctx, g)
	if err != nil {
		return AddResult{}, err
	}
	if !inserted {
		return AddResult{Success: false, Message: "guia already exists"}, nil
	}
	s.fillCache(ctx, g)
	return AddResult{Success: true, Message: "guia added", ID: g.ID}, nil
}

// UpdateGuia merges the provided fields over the stored record: nil keeps
// the prior value, a set pointer overwrites (an explicit empty string wins).
// lastUpdatedAt is bumped on every call, even when nothing changed; a
// history entry is appended only when the status actually differs. The merge
// runs inside the repository's row lock, so a concurrent writer's fields and
// history entries survive.
func (s *Service) UpdateGuia(ctx context.Context, parcelID string, fields models.GuiaUpdateFields) (UpdateResult, error) {
	parcelID = guianum.Clean(parcelID)
	now := s.clock.Now()

	var updated *models.Guia
	found, err := s.repo.Update(ctx, parcelID, func(g *models.Guia) error {
		mergeFields(g, fields, now)
		cp := *g
		updated = &cp
		return nil
	})
	if err != nil {
		return UpdateResult{}, err
	}
	if !found {
		return UpdateResult{Success: false, Message: "guia not found"}, nil
	}
	s.fillCache(ctx, updated)
	return UpdateResult{Success: true, Message: "guia updated"}, nil
}

// AddMultipleGuias runs sequential adds; one item's failure never aborts
// the batch, it is tallied instead.
func (s *Service) AddMultipleGuias(ctx context.Context, items []models.GuiaCreateInput) (BatchAddResult, error) {
	if len(items) == 0 {
		return BatchAddResult{}, errors.New("items is empty")
	}
	if len(items) > s.maxBatch {
		return BatchAddResult{}, errors.Errorf("too many items (max %d)", s.maxBatch)
	}

	res := BatchAddResult{Details: []BatchDetail{}}
	for _, in := range items {
		r, err := s.AddGuia(ctx, in)
		if err != nil {
			res.Errors++
			res.Details = append(res.Details, BatchDetail{Guia: in.ParcelID, Status: "error", Error: err.Error()})
			continue
		}
		if !r.Success {
			res.Skipped++
			res.Details = append(res.Details, BatchDetail{Guia: in.ParcelID, Status: "skipped", Reason: r.Message})
			continue
		}
		res.Added++
		res.Details = append(res.Details, BatchDetail{Guia: in.ParcelID, Status: "added"})
	}
	return res, nil
}

// UpdatePendingOnly applies each update unless the stored record is missing
// or already in a final state; final-state rows are never written. The gate
// runs inside the row lock, so a guía that went final since it was listed is
// left untouched.
func (s *Service) UpdatePendingOnly(ctx context.Context, updates []PendingUpdate) (UpdatePendingResult, error) {
	res := UpdatePendingResult{Details: []BatchDetail{}}
	for _, up := range updates {
		parcelID := guianum.Clean(up.ParcelID)
		now := s.clock.Now()

		var updated *models.Guia
		found, err := s.repo.Update(ctx, parcelID, func(g *models.Guia) error {
			if status.IsFinal(g.Status) {
				return errFinalState
			}
			mergeFields(g, up.Fields, now)
			cp := *g
			updated = &cp
			return nil
		})
		switch {
		case errors.Is(err, errFinalState):
			res.Skipped++
			res.Details = append(res.Details, BatchDetail{Guia: parcelID, Status: "skipped", Reason: "final state"})
		case err != nil:
			res.Errors++
			res.Details = append(res.Details, BatchDetail{Guia: parcelID, Status: "error", Error: err.Error()})
		case !found:
			res.Skipped++
			res.Details = append(res.Details, BatchDetail{Guia: parcelID, Status: "skipped", Reason: "not found"})
		default:
			res.Updated++
			res.Details = append(res.Details, BatchDetail{Guia: parcelID, Status: "updated"})
			s.fillCache(ctx, updated)
		}
	}
	return res, nil
}

func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	all, err := s.repo.GetAll(ctx)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		Total:    len(all),
		ByStatus: map[string]int{},
		AsOf:     s.clock.Now(),
	}
	for _, g := range all {
		key := g.Status
		if key == "" {
			key = status.Unknown
		}
		st.ByStatus[key]++
	}
	return st, nil
}

// GetRecentlyDelivered returns final-state guías whose lastUpdatedAt falls
// within the trailing window; zero means the configured default.
// Unparsable timestamps are excluded.
func (s *Service) GetRecentlyDelivered(ctx context.Context, window time.Duration) ([]*models.Guia, error) {
	if window <= 0 {
		window = s.recentWindow
	}
	all, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-window)
	out := []*models.Guia{}
	for _, g := range all {
		if !status.IsFinal(g.Status) || g.LastUpdatedAt == "" {
			continue
		}
		t, err := s.clock.Parse(g.LastUpdatedAt)
		if err != nil {
			continue
		}
		if !t.Before(cutoff) {
			out = append(out, g)
		}
	}
	return out, nil
}

// RefreshCachedGuia reloads one record into the cache, dropping the entry
// when the record is gone. Used by the GuiaUpdated consumer.
func (s *Service) RefreshCachedGuia(ctx context.Context, parcelID string) error {
	parcelID = guianum.Clean(parcelID)
	g, err := s.repo.Find(ctx, parcelID)
	if err != nil {
		return err
	}
	if g == nil {
		if s.cache != nil {
			_ = s.cache.Del(ctx, currentKey(parcelID))
		}
		return nil
	}
	s.fillCache(ctx, g)
	return nil
}

func (s *Service) fillCache(ctx context.Context, g *models.Guia) {
	if s.cache == nil || s.currentTTL <= 0 {
		return
	}
	b, _ := json.Marshal(g)
	_ = s.cache.Set(ctx, currentKey(g.ParcelID), b, s.currentTTL)
}

// errFinalState aborts a pending-only mutate; never surfaced to callers.
var errFinalState = errors.New("final state")

// mergeFields applies the partial update, appends a history snapshot when
// the status actually changed, and bumps lastUpdatedAt unconditionally.
func mergeFields(g *models.Guia, f models.GuiaUpdateFields, now string) {
	prevStatus := g.Status
	applyFields(g, f)
	if f.Status != nil && *f.Status != prevStatus {
		g.History = history.Append(g.History, models.HistoryEntry{
			Status:          g.Status,
			OriginCity:      g.OriginCity,
			DestinationCity: g.DestinationCity,
			Timestamp:       now,
		})
	}
	g.LastUpdatedAt = now
}

func applyFields(g *models.Guia, f models.GuiaUpdateFields) {
	if f.Status != nil {
		g.Status = *f.Status
	}
	if f.OriginCity != nil {
		g.OriginCity = *f.OriginCity
	}
	if f.DestinationCity != nil {
		g.DestinationCity = *f.DestinationCity
	}
	if f.DeliveredTo != nil {
		g.DeliveredTo = *f.DeliveredTo
	}
	if f.DeliveredAt != nil {
		g.DeliveredAt = *f.DeliveredAt
	}
}

func currentKey(parcelID string) string {
	return fmt.Sprintf("guia:%s:current", parcelID)
}
