package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"libpresence/internal/ledger"
)

// Store is an in-memory LogStore for tests and dev environments. It
// enforces the single-open-log invariant the same way the Postgres
// partial unique index does.
type Store struct {
	mu   sync.Mutex
	logs []ledger.PresenceLog
}

func New() *Store {
	return &Store{}
}

func (s *Store) Insert(_ context.Context, l ledger.PresenceLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.logs {
		if existing.RegNo == l.RegNo && existing.Open() {
			return fmt.Errorf("open log already exists for %s", l.RegNo)
		}
	}
	s.logs = append(s.logs, l)
	return nil
}

func (s *Store) CloseIfOpen(_ context.Context, regNo string, exitAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.logs {
		if s.logs[i].RegNo == regNo && s.logs[i].Open() {
			t := exitAt
			s.logs[i].ExitAt = &t
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) OpenByCode(_ context.Context, regNo string) (*ledger.PresenceLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.logs {
		if s.logs[i].RegNo == regNo && s.logs[i].Open() {
			l := s.logs[i]
			return &l, nil
		}
	}
	return nil, nil
}

func (s *Store) ListOpen(_ context.Context) ([]ledger.PresenceLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []ledger.PresenceLog
	for _, l := range s.logs {
		if l.Open() {
			res = append(res, l)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].EntryAt.Before(res[j].EntryAt) })
	return res, nil
}

func (s *Store) CountOpenEnteredBefore(_ context.Context, t time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.logs {
		if l.Open() && l.EntryAt.Before(t) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountOpen(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.logs {
		if l.Open() {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountEnteredBetween(_ context.Context, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.logs {
		if inRange(l.EntryAt, from, to) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountDistinctEnteredBetween(_ context.Context, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for _, l := range s.logs {
		if inRange(l.EntryAt, from, to) {
			seen[l.RegNo] = struct{}{}
		}
	}
	return len(seen), nil
}

func (s *Store) EntryTimesBetween(_ context.Context, from, to time.Time) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []time.Time
	for _, l := range s.logs {
		if inRange(l.EntryAt, from, to) {
			res = append(res, l.EntryAt)
		}
	}
	return res, nil
}

func (s *Store) LogsBetween(_ context.Context, from, to time.Time) ([]ledger.PresenceLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []ledger.PresenceLog
	for _, l := range s.logs {
		if inRange(l.EntryAt, from, to) {
			res = append(res, l)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[j].EntryAt.Before(res[i].EntryAt) })
	return res, nil
}

// All returns a copy of every log. Test-only helper.
func (s *Store) All() []ledger.PresenceLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.PresenceLog, len(s.logs))
	copy(out, s.logs)
	return out
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
