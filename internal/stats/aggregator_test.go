package stats_test

import (
	"context"
	"testing"
	"time"

	"libpresence/internal/identity"
	"libpresence/internal/ledger"
	"libpresence/internal/ledger/memory"
	"libpresence/internal/stats"
)

var now = time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)

func newAggregator(store *memory.Store) *stats.Aggregator {
	return stats.NewAggregator(store, stats.Config{
		Location: time.UTC,
		Now:      func() time.Time { return now },
	})
}

func addLog(t *testing.T, store *memory.Store, regNo string, entryAt time.Time, open bool) {
	t.Helper()
	l := ledger.PresenceLog{
		ID:      regNo + entryAt.Format("150405"),
		RegNo:   regNo,
		Name:    "Person " + regNo,
		Role:    identity.RoleStudent,
		EntryAt: entryAt,
	}
	if !open {
		exit := entryAt.Add(time.Hour)
		l.ExitAt = &exit
	}
	if err := store.Insert(context.Background(), l); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func at(hour int) time.Time {
	return time.Date(2026, 8, 31, hour, 0, 0, 0, time.UTC)
}

func TestSnapshot_Counts(t *testing.T) {
	store := memory.New()
	addLog(t, store, "231405123", at(9), false)
	addLog(t, store, "231405123", at(11), true) // re-entered, still inside
	addLog(t, store, "231499876", at(10), false)
	// Yesterday's visit must not count toward today.
	addLog(t, store, "231477777", at(9).AddDate(0, 0, -1), false)

	snap, err := newAggregator(store).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if snap.TotalEntriesToday != 3 {
		t.Errorf("total entries = %d, want 3", snap.TotalEntriesToday)
	}
	if snap.UniqueVisitorsToday != 2 {
		t.Errorf("unique visitors = %d, want 2", snap.UniqueVisitorsToday)
	}
	if snap.CurrentlyInside != 1 {
		t.Errorf("currently inside = %d, want 1", snap.CurrentlyInside)
	}
}

func TestSnapshot_PeakHourTieBreaksLater(t *testing.T) {
	store := memory.New()
	for i, h := range []int{9, 9, 9, 14, 14, 14} {
		addLog(t, store, "2314000"+string(rune('1'+i))+"0", at(h), false)
	}

	snap, err := newAggregator(store).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.PeakHourToday != "2 PM" {
		t.Errorf("peak hour = %q, want \"2 PM\"", snap.PeakHourToday)
	}
}

func TestSnapshot_PeakHourEmptyDay(t *testing.T) {
	snap, err := newAggregator(memory.New()).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.PeakHourToday != "N/A" {
		t.Errorf("peak hour = %q, want \"N/A\"", snap.PeakHourToday)
	}
}

func TestSnapshot_PeakHourLabels(t *testing.T) {
	cases := []struct {
		hour int
		want string
	}{
		{0, "12 AM"},
		{5, "5 AM"},
		{12, "12 PM"},
		{23, "11 PM"},
	}
	for _, tc := range cases {
		store := memory.New()
		addLog(t, store, "231405123", at(tc.hour), false)
		snap, err := newAggregator(store).Snapshot(context.Background())
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if snap.PeakHourToday != tc.want {
			t.Errorf("hour %d = %q, want %q", tc.hour, snap.PeakHourToday, tc.want)
		}
	}
}
