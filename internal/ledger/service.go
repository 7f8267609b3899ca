package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"libpresence/internal/identity"
)

// HoursPolicy is the optional facility-hours check. It applies to the
// strict entry path only; the toggle path never enforces it.
type HoursPolicy struct {
	Enforced  bool
	OpenHour  int // inclusive, facility local time
	CloseHour int // exclusive
}

// Config holds the ledger service knobs.
type Config struct {
	// Location is the fixed facility timezone all timestamps are recorded
	// and compared in. Defaults to UTC.
	Location *time.Location

	// DefaultReason is used when an entry supplies none.
	DefaultReason string

	Hours HoursPolicy

	// StoreTimeout bounds every persistence call. Defaults to 5s.
	StoreTimeout time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Service is the presence state machine. It decides whether a scan is an
// entry or an exit, enforces role consistency across the pair, and is the
// sole writer of presence logs. All read-modify-write sequences for one
// registration code are serialized through a per-code lock; distinct codes
// never contend.
type Service struct {
	store         LogStore
	resolver      *identity.Resolver
	locks         *keyedMutex
	loc           *time.Location
	defaultReason string
	hours         HoursPolicy
	timeout       time.Duration
	now           func() time.Time
}

// NewService creates the ledger service.
func NewService(store LogStore, resolver *identity.Resolver, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DefaultReason == "" {
		cfg.DefaultReason = "Self Study"
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:         store,
		resolver:      resolver,
		locks:         newKeyedMutex(),
		loc:           cfg.Location,
		defaultReason: cfg.DefaultReason,
		hours:         cfg.Hours,
		timeout:       cfg.StoreTimeout,
		now:           cfg.Now,
	}
}

// Location returns the facility timezone the service records in.
func (s *Service) Location() *time.Location { return s.loc }

// Attempt is the toggle scan: with no open log it records an entry, with a
// matching open log it records the exit. A role disagreement rejects the
// scan and leaves the open log untouched.
func (s *Service) Attempt(ctx context.Context, code string, role identity.Role, reason string) (Result, error) {
	p, err := s.resolver.Resolve(ctx, code, role)
	if err != nil {
		return Result{}, err
	}

	unlock := s.locks.lock(p.RegNo)
	defer unlock()

	open, err := s.openByCode(ctx, p.RegNo)
	if err != nil {
		return Result{}, err
	}
	if open == nil {
		return s.enter(ctx, p, role, reason)
	}
	if open.Role != role {
		return Result{}, fmt.Errorf("%w: entered as %s", ErrRoleMismatch, open.Role)
	}
	return s.exit(ctx, p, *open)
}

// Enter is the strict entry path: it rejects when a log is already open,
// and applies the hours policy when enforced.
func (s *Service) Enter(ctx context.Context, code string, role identity.Role, reason string) (Result, error) {
	p, err := s.resolver.Resolve(ctx, code, role)
	if err != nil {
		return Result{}, err
	}

	if s.hours.Enforced {
		h := s.now().In(s.loc).Hour()
		if h < s.hours.OpenHour || h >= s.hours.CloseHour {
			return Result{}, fmt.Errorf("%w: hours %d-%d", ErrOutsideHours, s.hours.OpenHour, s.hours.CloseHour)
		}
	}

	unlock := s.locks.lock(p.RegNo)
	defer unlock()

	open, err := s.openByCode(ctx, p.RegNo)
	if err != nil {
		return Result{}, err
	}
	if open != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrAlreadyOpen, p.Name)
	}
	return s.enter(ctx, p, role, reason)
}

// Exit is the strict exit path: it rejects when nothing is open.
func (s *Service) Exit(ctx context.Context, code string, role identity.Role) (Result, error) {
	p, err := s.resolver.Resolve(ctx, code, role)
	if err != nil {
		return Result{}, err
	}

	unlock := s.locks.lock(p.RegNo)
	defer unlock()

	open, err := s.openByCode(ctx, p.RegNo)
	if err != nil {
		return Result{}, err
	}
	if open == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrNotInside, p.Name)
	}
	if open.Role != role {
		return Result{}, fmt.Errorf("%w: entered as %s", ErrRoleMismatch, open.Role)
	}
	return s.exit(ctx, p, *open)
}

// Status resolves the code and reports whether the person is inside.
func (s *Service) Status(ctx context.Context, code string, role identity.Role) (identity.Person, *PresenceLog, error) {
	p, err := s.resolver.Resolve(ctx, code, role)
	if err != nil {
		return identity.Person{}, nil, err
	}
	open, err := s.openByCode(ctx, p.RegNo)
	if err != nil {
		return identity.Person{}, nil, err
	}
	return p, open, nil
}

// OpenLogByCode returns the open log for a full registration number, or
// nil when the person is outside.
func (s *Service) OpenLogByCode(ctx context.Context, regNo string) (*PresenceLog, error) {
	return s.openByCode(ctx, regNo)
}

// ListOpen returns everyone currently inside.
func (s *Service) ListOpen(ctx context.Context) ([]PresenceLog, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.ListOpen(ctx)
}

// LogsBetween returns visit history for reports, entry in [from, to).
func (s *Service) LogsBetween(ctx context.Context, from, to time.Time) ([]PresenceLog, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.LogsBetween(ctx, from, to)
}

// CountStaleOpen counts open logs entered before t. Used by the startup
// reconciliation to decide whether a force-close is needed.
func (s *Service) CountStaleOpen(ctx context.Context, t time.Time) (int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.CountOpenEnteredBefore(ctx, t)
}

// ForceCloseOpen closes every open log at the current time. Each close is
// an independent atomic unit taken under the same per-code lock as scans,
// and a single failed row never aborts the batch. Running it twice in
// succession is a no-op the second time. Returns how many logs were closed
// and how many rows failed.
func (s *Service) ForceCloseOpen(ctx context.Context) (closed, failed int, err error) {
	return s.forceClose(ctx, func(PresenceLog) bool { return true })
}

// ForceCloseEnteredBefore closes only the open logs whose entry predates
// t. The startup reconciliation uses it so visitors who entered earlier
// today are left alone while cross-day leftovers are repaired.
func (s *Service) ForceCloseEnteredBefore(ctx context.Context, t time.Time) (closed, failed int, err error) {
	return s.forceClose(ctx, func(l PresenceLog) bool { return l.EntryAt.Before(t) })
}

func (s *Service) forceClose(ctx context.Context, want func(PresenceLog) bool) (closed, failed int, err error) {
	listCtx, cancel := s.bound(ctx)
	open, err := s.store.ListOpen(listCtx)
	cancel()
	if err != nil {
		return 0, 0, fmt.Errorf("list open logs: %w", err)
	}

	for _, l := range open {
		if !want(l) {
			continue
		}
		if ctx.Err() != nil {
			// Shutdown mid-batch: remaining rows are picked up by the
			// next startup reconciliation.
			return closed, failed, ctx.Err()
		}
		if s.forceCloseOne(ctx, l) {
			closed++
		} else {
			failed++
		}
	}
	return closed, failed, nil
}

func (s *Service) forceCloseOne(ctx context.Context, l PresenceLog) bool {
	unlock := s.locks.lock(l.RegNo)
	defer unlock()

	exitAt := s.now().In(s.loc)
	if exitAt.Before(l.EntryAt) {
		exitAt = l.EntryAt
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()
	ok, err := s.store.CloseIfOpen(ctx, l.RegNo, exitAt)
	if err != nil {
		log.Printf("force-close %s failed: %v", l.RegNo, err)
		return false
	}
	// ok=false means a concurrent scan closed it first; that still leaves
	// zero open logs for the code, so count it as done.
	_ = ok
	return true
}

func (s *Service) enter(ctx context.Context, p identity.Person, role identity.Role, reason string) (Result, error) {
	if reason == "" {
		reason = s.defaultReason
	}
	l := PresenceLog{
		ID:      uuid.NewString(),
		RegNo:   p.RegNo,
		Name:    p.Name,
		Branch:  p.Branch,
		Year:    p.Year,
		Role:    role,
		Reason:  reason,
		EntryAt: s.now().In(s.loc),
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.store.Insert(ctx, l); err != nil {
		return Result{}, fmt.Errorf("record entry: %w", err)
	}
	return Result{Direction: Entered, Person: p, Log: l}, nil
}

func (s *Service) exit(ctx context.Context, p identity.Person, open PresenceLog) (Result, error) {
	exitAt := s.now().In(s.loc)
	if exitAt.Before(open.EntryAt) {
		exitAt = open.EntryAt
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()
	ok, err := s.store.CloseIfOpen(ctx, p.RegNo, exitAt)
	if err != nil {
		return Result{}, fmt.Errorf("record exit: %w", err)
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNotInside, p.Name)
	}
	open.ExitAt = &exitAt
	return Result{Direction: Exited, Person: p, Log: open}, nil
}

func (s *Service) openByCode(ctx context.Context, regNo string) (*PresenceLog, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	open, err := s.store.OpenByCode(ctx, regNo)
	if err != nil {
		return nil, fmt.Errorf("lookup open log: %w", err)
	}
	return open, nil
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}
