package reconcile_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"libpresence/internal/identity"
	idmemory "libpresence/internal/identity/memory"
	"libpresence/internal/ledger"
	"libpresence/internal/ledger/memory"
	"libpresence/internal/reconcile"
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// fixture builds a ledger over a memory store with the clock pinned to
// 2026-08-31 10:00 UTC.
func fixture(t *testing.T) (*ledger.Service, *memory.Store, time.Time) {
	t.Helper()
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	dir := idmemory.NewDirectory()
	resolver := identity.NewResolver(dir, identity.LookupExact)
	store := memory.New()
	svc := ledger.NewService(store, resolver, ledger.Config{
		Now: func() time.Time { return now },
	})
	return svc, store, now
}

func openLog(regNo string, entryAt time.Time) ledger.PresenceLog {
	return ledger.PresenceLog{
		ID:      "log-" + regNo,
		RegNo:   regNo,
		Name:    "Person " + regNo,
		Role:    identity.RoleStudent,
		Reason:  "Self Study",
		EntryAt: entryAt,
	}
}

func TestStartupPass_ClosesStaleLeavesToday(t *testing.T) {
	svc, store, now := fixture(t)
	ctx := context.Background()

	yesterday := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	today := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	if err := store.Insert(ctx, openLog("231405123", yesterday)); err != nil {
		t.Fatalf("insert stale: %v", err)
	}
	if err := store.Insert(ctx, openLog("231499876", today)); err != nil {
		t.Fatalf("insert fresh: %v", err)
	}

	c := reconcile.NewCloser(svc, reconcile.Config{
		CutoffHour: 16, CutoffMinute: 30,
		Location: time.UTC,
		Now:      func() time.Time { return now },
	}, silentLogger())

	c.StartupPass(ctx)

	for _, l := range store.All() {
		switch l.RegNo {
		case "231405123":
			if l.Open() {
				t.Error("stale log left open")
			} else if !l.ExitAt.Equal(now) {
				t.Errorf("stale log closed at %v, want reconciliation time %v", l.ExitAt, now)
			}
		case "231499876":
			if !l.Open() {
				t.Error("today's open log was closed by startup reconciliation")
			}
		}
	}
}

func TestStartupPass_NoStaleIsNoOp(t *testing.T) {
	svc, store, now := fixture(t)
	ctx := context.Background()

	today := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	if err := store.Insert(ctx, openLog("231499876", today)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	c := reconcile.NewCloser(svc, reconcile.Config{
		CutoffHour: 16, CutoffMinute: 30,
		Location: time.UTC,
		Now:      func() time.Time { return now },
	}, silentLogger())

	c.StartupPass(ctx)

	if open, _ := store.CountOpen(ctx); open != 1 {
		t.Errorf("expected today's log untouched, %d open", open)
	}
}

func TestCloser_StartStop(t *testing.T) {
	svc, _, now := fixture(t)

	c := reconcile.NewCloser(svc, reconcile.Config{
		CutoffHour: 16, CutoffMinute: 30,
		Location: time.UTC,
		Now:      func() time.Time { return now },
	}, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	// Multiple stops should not panic or hang.
	c.Stop()
	c.Stop()
}
