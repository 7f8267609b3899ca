package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"libpresence/internal/identity"
	idmemory "libpresence/internal/identity/memory"
	"libpresence/internal/ledger"
	"libpresence/internal/ledger/memory"
)

// newTestService builds a ledger service over in-memory stores with a
// controllable clock, returning the service, the log store for
// inspection, and the clock setter.
func newTestService(t *testing.T, cfg ledger.Config, persons ...identity.Person) (*ledger.Service, *memory.Store, func(time.Time)) {
	t.Helper()
	if len(persons) == 0 {
		persons = []identity.Person{
			{RegNo: "231405123", Name: "Asha", Role: identity.RoleStudent},
		}
	}
	dir := idmemory.NewDirectory(persons...)
	resolver := identity.NewResolver(dir, identity.LookupSuffix)
	store := memory.New()

	current := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	cfg.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	setNow := func(t time.Time) {
		mu.Lock()
		defer mu.Unlock()
		current = t
	}

	return ledger.NewService(store, resolver, cfg), store, setNow
}

func TestAttempt_TogglesEntryThenExit(t *testing.T) {
	svc, store, setNow := newTestService(t, ledger.Config{})
	ctx := context.Background()

	res, err := svc.Attempt(ctx, "05123", identity.RoleStudent, "")
	if err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if res.Direction != ledger.Entered {
		t.Fatalf("expected entered, got %s", res.Direction)
	}
	if res.Log.Reason != "Self Study" {
		t.Errorf("expected default reason, got %q", res.Log.Reason)
	}

	setNow(time.Date(2026, 8, 31, 11, 30, 0, 0, time.UTC))

	res, err = svc.Attempt(ctx, "05123", identity.RoleStudent, "")
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if res.Direction != ledger.Exited {
		t.Fatalf("expected exited, got %s", res.Direction)
	}

	logs := store.All()
	if len(logs) != 1 {
		t.Fatalf("expected exactly one log, got %d", len(logs))
	}
	l := logs[0]
	if l.Open() {
		t.Fatal("log still open after exit")
	}
	if l.ExitAt.Before(l.EntryAt) {
		t.Errorf("exit %v before entry %v", l.ExitAt, l.EntryAt)
	}
}

func TestAttempt_RoleMismatchLeavesOpenLogUntouched(t *testing.T) {
	// Same registration number rostered under both roles; the 4-digit
	// faculty code suffix-matches the same number.
	svc, store, _ := newTestService(t, ledger.Config{},
		identity.Person{RegNo: "23455", Name: "Kiran", Role: identity.RoleStudent},
		identity.Person{RegNo: "23455", Name: "Kiran", Role: identity.RoleFaculty},
	)
	ctx := context.Background()

	if _, err := svc.Attempt(ctx, "23455", identity.RoleStudent, ""); err != nil {
		t.Fatalf("entry: %v", err)
	}

	_, err := svc.Attempt(ctx, "3455", identity.RoleFaculty, "")
	if !errors.Is(err, ledger.ErrRoleMismatch) {
		t.Fatalf("expected ErrRoleMismatch, got %v", err)
	}

	open, err := svc.OpenLogByCode(ctx, "23455")
	if err != nil {
		t.Fatalf("open lookup: %v", err)
	}
	if open == nil || open.Role != identity.RoleStudent {
		t.Fatalf("open log altered by rejected exit: %+v", open)
	}

	res, err := svc.Attempt(ctx, "23455", identity.RoleStudent, "")
	if err != nil || res.Direction != ledger.Exited {
		t.Fatalf("matching-role exit failed: %v %v", res.Direction, err)
	}

	if got := len(store.All()); got != 1 {
		t.Errorf("expected 1 log, got %d", got)
	}
}

func TestAttempt_InvalidCodeDoesNotTouchStore(t *testing.T) {
	svc, store, _ := newTestService(t, ledger.Config{})

	_, err := svc.Attempt(context.Background(), "9876", identity.RoleStudent, "")
	if !errors.Is(err, identity.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if len(store.All()) != 0 {
		t.Error("store touched by invalid code")
	}
}

func TestEnter_RejectsWhenAlreadyOpen(t *testing.T) {
	svc, _, _ := newTestService(t, ledger.Config{})
	ctx := context.Background()

	if _, err := svc.Enter(ctx, "05123", identity.RoleStudent, "Reading"); err != nil {
		t.Fatalf("enter: %v", err)
	}
	_, err := svc.Enter(ctx, "05123", identity.RoleStudent, "Reading")
	if !errors.Is(err, ledger.ErrAlreadyOpen) {
		t.Errorf("expected ErrAlreadyOpen, got %v", err)
	}
}

func TestEnter_HoursPolicyStrictPathOnly(t *testing.T) {
	svc, _, setNow := newTestService(t, ledger.Config{
		Hours: ledger.HoursPolicy{Enforced: true, OpenHour: 7, CloseHour: 20},
	})
	ctx := context.Background()

	setNow(time.Date(2026, 8, 31, 22, 0, 0, 0, time.UTC))

	_, err := svc.Enter(ctx, "05123", identity.RoleStudent, "")
	if !errors.Is(err, ledger.ErrOutsideHours) {
		t.Fatalf("expected ErrOutsideHours on strict entry, got %v", err)
	}

	// The toggle path never applies the hours policy.
	if _, err := svc.Attempt(ctx, "05123", identity.RoleStudent, ""); err != nil {
		t.Errorf("toggle entry outside hours: %v", err)
	}
}

func TestExit_RejectsWhenNotInside(t *testing.T) {
	svc, _, _ := newTestService(t, ledger.Config{})

	_, err := svc.Exit(context.Background(), "05123", identity.RoleStudent)
	if !errors.Is(err, ledger.ErrNotInside) {
		t.Errorf("expected ErrNotInside, got %v", err)
	}
}

func TestForceCloseOpen_Idempotent(t *testing.T) {
	svc, store, _ := newTestService(t, ledger.Config{},
		identity.Person{RegNo: "231405123", Name: "Asha", Role: identity.RoleStudent},
		identity.Person{RegNo: "231499876", Name: "Ravi", Role: identity.RoleStudent},
	)
	ctx := context.Background()

	if _, err := svc.Attempt(ctx, "05123", identity.RoleStudent, ""); err != nil {
		t.Fatalf("entry 1: %v", err)
	}
	if _, err := svc.Attempt(ctx, "99876", identity.RoleStudent, ""); err != nil {
		t.Fatalf("entry 2: %v", err)
	}

	closed, failed, err := svc.ForceCloseOpen(ctx)
	if err != nil {
		t.Fatalf("force close: %v", err)
	}
	if closed != 2 || failed != 0 {
		t.Fatalf("expected closed=2 failed=0, got %d/%d", closed, failed)
	}

	closed, failed, err = svc.ForceCloseOpen(ctx)
	if err != nil {
		t.Fatalf("second force close: %v", err)
	}
	if closed != 0 || failed != 0 {
		t.Errorf("second run should close nothing, got %d/%d", closed, failed)
	}

	for _, l := range store.All() {
		if l.Open() {
			t.Errorf("log %s still open", l.RegNo)
		}
	}
}

func TestAttempt_ConcurrentSingleCode(t *testing.T) {
	svc, store, _ := newTestService(t, ledger.Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Attempt(ctx, "05123", identity.RoleStudent, ""); err != nil {
				t.Errorf("attempt: %v", err)
			}
		}()
	}
	wg.Wait()

	open := 0
	for _, l := range store.All() {
		if l.Open() {
			open++
		}
		if l.ExitAt != nil && l.ExitAt.Before(l.EntryAt) {
			t.Errorf("exit before entry on %s", l.ID)
		}
	}
	if open > 1 {
		t.Errorf("invariant violated: %d open logs for one code", open)
	}
}

func TestAttempt_DistinctCodesDoNotInterfere(t *testing.T) {
	svc, store, _ := newTestService(t, ledger.Config{},
		identity.Person{RegNo: "231405123", Name: "Asha", Role: identity.RoleStudent},
		identity.Person{RegNo: "231499876", Name: "Ravi", Role: identity.RoleStudent},
	)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, code := range []string{"05123", "99876"} {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			if _, err := svc.Attempt(ctx, code, identity.RoleStudent, ""); err != nil {
				t.Errorf("attempt %s: %v", code, err)
			}
		}(code)
	}
	wg.Wait()

	if got, _ := store.CountOpen(ctx); got != 2 {
		t.Errorf("expected 2 open logs, got %d", got)
	}
}
