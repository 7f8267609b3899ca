package identity_test

import (
	"context"
	"errors"
	"testing"

	"libpresence/internal/identity"
	"libpresence/internal/identity/memory"
)

func roster() *memory.Directory {
	return memory.NewDirectory(
		identity.Person{RegNo: "231405123", Name: "Asha", Role: identity.RoleStudent, Branch: "CSE", Year: "3"},
		identity.Person{RegNo: "231499876", Name: "Ravi", Role: identity.RoleStudent},
		identity.Person{RegNo: "9021", Name: "Dr. Rao", Role: identity.RoleFaculty},
	)
}

func TestResolve_StudentBySuffix(t *testing.T) {
	r := identity.NewResolver(roster(), identity.LookupExact)

	p, err := r.Resolve(context.Background(), "05123", identity.RoleStudent)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.RegNo != "231405123" || p.Name != "Asha" {
		t.Errorf("resolved wrong person: %+v", p)
	}
}

func TestResolve_TrimsInput(t *testing.T) {
	r := identity.NewResolver(roster(), identity.LookupExact)

	if _, err := r.Resolve(context.Background(), "  05123 ", identity.RoleStudent); err != nil {
		t.Fatalf("Resolve with padding: %v", err)
	}
}

func TestResolve_FacultyExact(t *testing.T) {
	r := identity.NewResolver(roster(), identity.LookupExact)

	p, err := r.Resolve(context.Background(), "9021", identity.RoleFaculty)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Name != "Dr. Rao" {
		t.Errorf("expected Dr. Rao, got %q", p.Name)
	}
}

func TestResolve_FacultySuffixStrategy(t *testing.T) {
	dir := memory.NewDirectory(
		identity.Person{RegNo: "889021", Name: "Dr. Rao", Role: identity.RoleFaculty},
	)
	r := identity.NewResolver(dir, identity.LookupSuffix)

	p, err := r.Resolve(context.Background(), "9021", identity.RoleFaculty)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.RegNo != "889021" {
		t.Errorf("expected suffix match on 889021, got %q", p.RegNo)
	}
}

func TestResolve_CodeShape(t *testing.T) {
	r := identity.NewResolver(roster(), identity.LookupExact)

	cases := []struct {
		name string
		code string
		role identity.Role
	}{
		{"student code too short", "9876", identity.RoleStudent},
		{"faculty code too long", "05123", identity.RoleFaculty},
		{"non-digit", "05a23", identity.RoleStudent},
		{"empty", "", identity.RoleStudent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tc.code, tc.role)
			if !errors.Is(err, identity.ErrInvalidCode) {
				t.Errorf("expected ErrInvalidCode, got %v", err)
			}
		})
	}
}

func TestResolve_NotFound(t *testing.T) {
	r := identity.NewResolver(roster(), identity.LookupExact)

	_, err := r.Resolve(context.Background(), "00000", identity.RoleStudent)
	if !errors.Is(err, identity.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolve_AmbiguousSuffixFailsClosed(t *testing.T) {
	dir := memory.NewDirectory(
		identity.Person{RegNo: "231405123", Name: "Asha", Role: identity.RoleStudent},
		identity.Person{RegNo: "999905123", Name: "Meena", Role: identity.RoleStudent},
	)
	r := identity.NewResolver(dir, identity.LookupExact)

	_, err := r.Resolve(context.Background(), "05123", identity.RoleStudent)
	if !errors.Is(err, identity.ErrAmbiguousCode) {
		t.Errorf("expected ErrAmbiguousCode, got %v", err)
	}
}
