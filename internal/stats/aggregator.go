package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKey = "libpresence:stats"

// Store is the read-only query surface the aggregator projects over.
// The ledger's LogStore satisfies it.
type Store interface {
	CountEnteredBetween(ctx context.Context, from, to time.Time) (int, error)
	CountDistinctEnteredBetween(ctx context.Context, from, to time.Time) (int, error)
	CountOpen(ctx context.Context) (int, error)
	EntryTimesBetween(ctx context.Context, from, to time.Time) ([]time.Time, error)
}

// Snapshot is the live dashboard projection.
type Snapshot struct {
	TotalEntriesToday   int    `json:"total_entries_today"`
	UniqueVisitorsToday int    `json:"unique_visitors_today"`
	CurrentlyInside     int    `json:"currently_inside"`
	PeakHourToday       string `json:"peak_hour_today"`
}

// Aggregator computes dashboard stats from the ledger's query surface.
// It never mutates ledger state. A redis client, when provided, caches
// the snapshot for a short TTL; redis being down only costs the cache.
type Aggregator struct {
	store Store
	cache *redis.Client
	ttl   time.Duration
	loc   *time.Location
	now   func() time.Time
}

// Config holds the aggregator knobs.
type Config struct {
	Cache    *redis.Client // optional
	CacheTTL time.Duration
	Location *time.Location
	Now      func() time.Time
}

func NewAggregator(store Store, cfg Config) *Aggregator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Aggregator{
		store: store,
		cache: cfg.Cache,
		ttl:   cfg.CacheTTL,
		loc:   cfg.Location,
		now:   cfg.Now,
	}
}

// Snapshot returns the current projection, from cache when fresh.
func (a *Aggregator) Snapshot(ctx context.Context) (Snapshot, error) {
	if a.cache != nil {
		if raw, err := a.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			var s Snapshot
			if json.Unmarshal(raw, &s) == nil {
				return s, nil
			}
		}
	}

	s, err := a.compute(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	if a.cache != nil {
		if raw, err := json.Marshal(s); err == nil {
			_ = a.cache.Set(ctx, cacheKey, raw, a.ttl).Err()
		}
	}
	return s, nil
}

// Refresh recomputes the snapshot and rewrites the cache. Used by the
// worker on each scan event.
func (a *Aggregator) Refresh(ctx context.Context) (Snapshot, error) {
	s, err := a.compute(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if a.cache != nil {
		if raw, err := json.Marshal(s); err == nil {
			_ = a.cache.Set(ctx, cacheKey, raw, a.ttl).Err()
		}
	}
	return s, nil
}

func (a *Aggregator) compute(ctx context.Context) (Snapshot, error) {
	now := a.now().In(a.loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	total, err := a.store.CountEnteredBetween(ctx, dayStart, dayEnd)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count entries: %w", err)
	}
	unique, err := a.store.CountDistinctEnteredBetween(ctx, dayStart, dayEnd)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count visitors: %w", err)
	}
	inside, err := a.store.CountOpen(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count open: %w", err)
	}
	entries, err := a.store.EntryTimesBetween(ctx, dayStart, dayEnd)
	if err != nil {
		return Snapshot{}, fmt.Errorf("entry times: %w", err)
	}

	return Snapshot{
		TotalEntriesToday:   total,
		UniqueVisitorsToday: unique,
		CurrentlyInside:     inside,
		PeakHourToday:       a.peakHour(entries),
	}, nil
}

// peakHour finds the hour of day with the most entries, ties broken by
// the later hour, rendered on a 12-hour clock. "N/A" when there are no
// entries.
func (a *Aggregator) peakHour(entries []time.Time) string {
	if len(entries) == 0 {
		return "N/A"
	}
	var counts [24]int
	for _, t := range entries {
		counts[t.In(a.loc).Hour()]++
	}
	best := -1
	for h := 0; h < 24; h++ {
		if counts[h] > 0 && counts[h] >= countAt(counts, best) {
			best = h
		}
	}
	if best < 0 {
		return "N/A"
	}
	return hourLabel(best)
}

func countAt(counts [24]int, h int) int {
	if h < 0 {
		return 0
	}
	return counts[h]
}

func hourLabel(h int) string {
	switch {
	case h == 0:
		return "12 AM"
	case h < 12:
		return fmt.Sprintf("%d AM", h)
	case h == 12:
		return "12 PM"
	default:
		return fmt.Sprintf("%d PM", h-12)
	}
}
