package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"guiatrack/internal/broker/messages"
	"guiatrack/internal/integrations/laar"
	"guiatrack/internal/localtime"
	"guiatrack/internal/models"
	"guiatrack/internal/services/guias"
	"guiatrack/internal/status"

	"github.com/pkg/errors"
)

type Store interface {
	GetGuias(ctx context.Context) ([]*models.Guia, error)
	UpdatePendingOnly(ctx context.Context, updates []guias.PendingUpdate) (guias.UpdatePendingResult, error)
}

type Locker interface {
	TryReconcileLock(ctx context.Context) (release func(context.Context), ok bool, err error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Reconciler scrapes the carrier page for every non-final guía and writes
// the results back, one guía at a time with a fixed delay between calls.
type Reconciler struct {
	store    Store
	scraper  laar.Scraper
	producer Producer
	rl       RateLimiter
	locker   Locker
	clock    *localtime.Clock

	topic string

	runInterval        time.Duration
	scrapeDelay        time.Duration
	rateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano int64
	lastRunUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalRuns         atomic.Int64
	totalScraped      atomic.Int64
	totalUpdated      atomic.Int64
	totalErrors       atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(store Store, scraper laar.Scraper, producer Producer, rl RateLimiter, clock *localtime.Clock, topic string) *Reconciler {
	if clock == nil {
		clock, _ = localtime.New("")
	}
	return &Reconciler{
		store: store, scraper: scraper, producer: producer, rl: rl, clock: clock, topic: topic,
		runInterval:        30 * time.Minute,
		scrapeDelay:        2000 * time.Millisecond,
		rateLimitPerMinute: 60,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (r *Reconciler) WithSettings(runInterval, scrapeDelay time.Duration, rlPerMin int64) *Reconciler {
	if runInterval > 0 {
		r.runInterval = runInterval
	}
	if scrapeDelay > 0 {
		r.scrapeDelay = scrapeDelay
	}
	if rlPerMin > 0 {
		r.rateLimitPerMinute = rlPerMin
	}
	return r
}

func (r *Reconciler) WithLocker(l Locker) *Reconciler {
	r.locker = l
	return r
}

// Trigger forces an immediate reconcile run (best-effort, non-blocking).
func (r *Reconciler) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Detail struct {
	Guia   string `json:"guia"`
	Status string `json:"status"` // "updated" | "skipped" | "error"
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Summary struct {
	Total   int      `json:"total"`
	Pending int      `json:"pending"`
	Scraped int      `json:"scraped"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Errors  int      `json:"errors"`
	Message string   `json:"message,omitempty"`
	Details []Detail `json:"details"`
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalRuns     int64      `json:"totalRuns"`
	TotalScraped  int64      `json:"totalScraped"`
	TotalUpdated  int64      `json:"totalUpdated"`
	TotalErrors   int64      `json:"totalErrors"`
	LastError     string     `json:"lastError,omitempty"`
}

func (r *Reconciler) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalRuns:    r.totalRuns.Load(),
		TotalScraped: r.totalScraped.Load(),
		TotalUpdated: r.totalUpdated.Load(),
		TotalErrors:  r.totalErrors.Load(),
	}
	if n := r.lastRunUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastRunAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func (r *Reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.runInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := r.RunOnce(ctx); err != nil {
				slog.Error("reconcile run", "error", err.Error())
			}
		case <-r.triggerCh:
			if _, err := r.RunOnce(ctx); err != nil {
				slog.Error("reconcile run", "error", err.Error())
			}
		}
	}
}

// RunOnce performs one full reconcile pass. When another process holds the
// lock the run is reported as skipped, not failed.
func (r *Reconciler) RunOnce(ctx context.Context) (Summary, error) {
	r.lastRunUnixNano.Store(time.Now().UTC().UnixNano())
	r.totalRuns.Add(1)

	if r.locker != nil {
		release, ok, err := r.locker.TryReconcileLock(ctx)
		if err != nil {
			r.recordError(err)
			return Summary{}, errors.Wrap(err, "acquire reconcile lock")
		}
		if !ok {
			return Summary{Message: "reconcile already running", Details: []Detail{}}, nil
		}
		defer release(context.WithoutCancel(ctx))
	}

	all, err := r.store.GetGuias(ctx)
	if err != nil {
		r.recordError(err)
		return Summary{}, errors.Wrap(err, "load guias")
	}

	pending := make([]*models.Guia, 0, len(all))
	for _, g := range all {
		if !status.IsFinal(g.Status) {
			pending = append(pending, g)
		}
	}

	sum := Summary{Total: len(all), Pending: len(pending), Details: []Detail{}}
	if len(pending) == 0 {
		sum.Message = "no pending guias"
		return sum, nil
	}

	updates := make([]guias.PendingUpdate, 0, len(pending))
	checkedAt := map[string]time.Time{}
	for i, g := range pending {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		res, err := r.scrapeOne(ctx, g.ParcelID)
		checkedAt[g.ParcelID] = time.Now().UTC()
		if err != nil {
			sum.Errors++
			r.recordError(err)
			sum.Details = append(sum.Details, Detail{Guia: g.ParcelID, Status: "error", Error: err.Error()})
			slog.Error("scrape guia", "guia", g.ParcelID, "error", err.Error())
			e := err.Error()
			r.publish(ctx, messages.GuiaUpdated{ParcelID: g.ParcelID, CheckedAt: checkedAt[g.ParcelID], Error: &e})
		} else {
			sum.Scraped++
			r.totalScraped.Add(1)
			updates = append(updates, pendingUpdate(g.ParcelID, res))
		}

		if i < len(pending)-1 {
			select {
			case <-ctx.Done():
				return sum, ctx.Err()
			case <-time.After(r.scrapeDelay):
			}
		}
	}

	upd, err := r.store.UpdatePendingOnly(ctx, updates)
	if err != nil {
		r.recordError(err)
		return sum, errors.Wrap(err, "apply updates")
	}
	sum.Updated = upd.Updated
	sum.Skipped = upd.Skipped
	sum.Errors += upd.Errors
	r.totalUpdated.Add(int64(upd.Updated))
	r.totalErrors.Add(int64(upd.Errors))

	for _, d := range upd.Details {
		sum.Details = append(sum.Details, Detail{Guia: d.Guia, Status: d.Status, Reason: d.Reason, Error: d.Error})
		if d.Status != "updated" {
			continue
		}
		at, ok := checkedAt[d.Guia]
		if !ok {
			at = time.Now().UTC()
		}
		r.publishUpdated(ctx, d.Guia, at, updates)
	}

	sum.Message = fmt.Sprintf("updated %d of %d pending", sum.Updated, sum.Pending)
	return sum, nil
}

// RescrapeOne refreshes a single guía on demand, bypassing the run lock
// and the inter-request delay.
func (r *Reconciler) RescrapeOne(ctx context.Context, parcelID string) (Summary, error) {
	res, err := r.scrapeOne(ctx, parcelID)
	if err != nil {
		r.recordError(err)
		return Summary{}, errors.Wrapf(err, "scrape guia %s", parcelID)
	}
	r.totalScraped.Add(1)

	updates := []guias.PendingUpdate{pendingUpdate(parcelID, res)}
	upd, err := r.store.UpdatePendingOnly(ctx, updates)
	if err != nil {
		r.recordError(err)
		return Summary{}, errors.Wrap(err, "apply update")
	}

	sum := Summary{Total: 1, Pending: 1, Scraped: 1, Updated: upd.Updated, Skipped: upd.Skipped, Errors: upd.Errors, Details: []Detail{}}
	for _, d := range upd.Details {
		sum.Details = append(sum.Details, Detail{Guia: d.Guia, Status: d.Status, Reason: d.Reason, Error: d.Error})
		if d.Status == "updated" {
			r.totalUpdated.Add(1)
			r.publishUpdated(ctx, d.Guia, time.Now().UTC(), updates)
		}
	}
	return sum, nil
}

func (r *Reconciler) scrapeOne(ctx context.Context, parcelID string) (laar.Result, error) {
	if r.rl != nil && r.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:laar:%s", time.Now().UTC().Format("200601021504"))
		allowed, n, err := r.rl.Allow(ctx, minuteKey, r.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return laar.Result{}, err
		}
		if !allowed {
			slog.Warn("rate limit exceeded", "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}
	return r.scraper.Scrape(ctx, parcelID)
}

func (r *Reconciler) publishUpdated(ctx context.Context, parcelID string, checkedAt time.Time, updates []guias.PendingUpdate) {
	msg := messages.GuiaUpdated{ParcelID: parcelID, CheckedAt: checkedAt}
	for _, up := range updates {
		if up.ParcelID != parcelID {
			continue
		}
		if up.Fields.Status != nil {
			msg.Status = *up.Fields.Status
		}
		if up.Fields.OriginCity != nil {
			msg.OriginCity = *up.Fields.OriginCity
		}
		if up.Fields.DestinationCity != nil {
			msg.DestinationCity = *up.Fields.DestinationCity
		}
		if up.Fields.DeliveredTo != nil {
			msg.DeliveredTo = *up.Fields.DeliveredTo
		}
		if up.Fields.DeliveredAt != nil {
			msg.DeliveredAt = *up.Fields.DeliveredAt
		}
		break
	}
	r.publish(ctx, msg)
}

func (r *Reconciler) publish(ctx context.Context, msg messages.GuiaUpdated) {
	if r.producer == nil || r.topic == "" {
		return
	}

	b, err := json.Marshal(msg)
	if err != nil {
		r.recordError(err)
		return
	}

	// Kafka may not be ready right after startup, retry briefly.
	var pubErr error
	for i := 0; i < 10; i++ {
		if pubErr = r.producer.Publish(ctx, r.topic, []byte(msg.ParcelID), b); pubErr == nil {
			break
		}
		time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
	}
	if pubErr != nil {
		r.recordError(pubErr)
		slog.Error("publish guia updated", "guia", msg.ParcelID, "error", pubErr.Error())
	}
}

func pendingUpdate(parcelID string, res laar.Result) guias.PendingUpdate {
	status := res.Status
	origin := res.OriginCity
	dest := res.DestinationCity
	deliveredTo := res.DeliveredTo
	deliveredAt := res.DeliveredAt
	return guias.PendingUpdate{
		ParcelID: parcelID,
		Fields: models.GuiaUpdateFields{
			Status:          &status,
			OriginCity:      &origin,
			DestinationCity: &dest,
			DeliveredTo:     &deliveredTo,
			DeliveredAt:     &deliveredAt,
		},
	}
}

func (r *Reconciler) recordError(err error) {
	r.totalErrors.Add(1)
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}
