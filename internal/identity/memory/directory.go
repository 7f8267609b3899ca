package memory

import (
	"context"
	"strings"
	"sync"

	"libpresence/internal/identity"
)

// Directory is an in-memory person roster for tests and dev environments.
// Keyed by (reg_no, role): the same registration number may exist under
// two roles, matching the source system's separate per-role rosters.
type Directory struct {
	mu      sync.RWMutex
	persons map[key]identity.Person
}

type key struct {
	regNo string
	role  identity.Role
}

func NewDirectory(persons ...identity.Person) *Directory {
	d := &Directory{persons: make(map[key]identity.Person)}
	for _, p := range persons {
		d.persons[key{p.RegNo, p.Role}] = p
	}
	return d
}

func (d *Directory) FindBySuffix(_ context.Context, role identity.Role, suffix string) ([]identity.Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var res []identity.Person
	for k, p := range d.persons {
		if k.role == role && strings.HasSuffix(k.regNo, suffix) {
			res = append(res, p)
		}
	}
	return res, nil
}

func (d *Directory) FindExact(_ context.Context, role identity.Role, code string) (*identity.Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.persons[key{code, role}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (d *Directory) Upsert(_ context.Context, p identity.Person) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.persons[key{p.RegNo, p.Role}] = p
	return nil
}

// Len returns the roster size. Test-only helper.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.persons)
}
