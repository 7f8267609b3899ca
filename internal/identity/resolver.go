package identity

import (
	"context"
	"fmt"
	"strings"
)

// LookupStrategy selects how a code is matched against stored registration
// numbers. Students always match by suffix (stored numbers carry a
// year/branch prefix); faculty match exact or by suffix depending on
// deployment.
type LookupStrategy string

const (
	LookupExact  LookupStrategy = "exact"
	LookupSuffix LookupStrategy = "suffix"
)

// Resolver maps a scanned partial code plus declared role to a single
// roster person. Ambiguous suffix matches are rejected rather than
// guessed at, so a log can never be attributed to the wrong person.
type Resolver struct {
	dir           Directory
	facultyLookup LookupStrategy
}

// NewResolver creates a resolver. An unrecognized faculty strategy falls
// back to exact matching.
func NewResolver(dir Directory, facultyLookup LookupStrategy) *Resolver {
	if facultyLookup != LookupSuffix {
		facultyLookup = LookupExact
	}
	return &Resolver{dir: dir, facultyLookup: facultyLookup}
}

// Resolve validates the code shape for the role and returns the matching
// person, ErrInvalidCode, ErrNotFound or ErrAmbiguousCode.
func (r *Resolver) Resolve(ctx context.Context, code string, role Role) (Person, error) {
	code = strings.TrimSpace(code)

	want, ok := codeLength[role]
	if !ok {
		return Person{}, ErrInvalidRole
	}
	if len(code) != want || !allDigits(code) {
		return Person{}, fmt.Errorf("%w: enter a valid %d-digit code for %s", ErrInvalidCode, want, role)
	}

	strategy := LookupSuffix
	if role == RoleFaculty {
		strategy = r.facultyLookup
	}

	switch strategy {
	case LookupExact:
		p, err := r.dir.FindExact(ctx, role, code)
		if err != nil {
			return Person{}, err
		}
		if p == nil {
			return Person{}, fmt.Errorf("%w: no %s with code %s", ErrNotFound, role, code)
		}
		return *p, nil
	default:
		matches, err := r.dir.FindBySuffix(ctx, role, code)
		if err != nil {
			return Person{}, err
		}
		switch len(matches) {
		case 0:
			return Person{}, fmt.Errorf("%w: no %s with code %s", ErrNotFound, role, code)
		case 1:
			return matches[0], nil
		default:
			return Person{}, fmt.Errorf("%w: suffix %s", ErrAmbiguousCode, code)
		}
	}
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
