package identity

import (
	"context"
	"errors"
	"strings"
)

// Role classifies a person and fixes the shape of their scan code.
type Role string

const (
	RoleStudent Role = "Student"
	RoleFaculty Role = "Faculty"
)

// codeLength is the exact number of digits a scan code must carry per role.
var codeLength = map[Role]int{
	RoleStudent: 5,
	RoleFaculty: 4,
}

// ParseRole maps user input onto a known role.
func ParseRole(s string) (Role, error) {
	switch strings.TrimSpace(s) {
	case string(RoleStudent):
		return RoleStudent, nil
	case string(RoleFaculty):
		return RoleFaculty, nil
	default:
		return "", ErrInvalidRole
	}
}

// Person is an identity record from the roster. The presence core never
// writes persons; only the roster importer does.
type Person struct {
	RegNo  string `json:"reg_no"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	Branch string `json:"branch,omitempty"`
	Year   string `json:"year,omitempty"`
	Email  string `json:"email,omitempty"`
}

var (
	ErrInvalidRole   = errors.New("invalid role")
	ErrInvalidCode   = errors.New("invalid registration code")
	ErrNotFound      = errors.New("no person found for code")
	ErrAmbiguousCode = errors.New("registration code matches multiple persons")
)

// Directory is the read/write surface over the person roster.
type Directory interface {
	// FindBySuffix returns persons of the role whose full registration
	// number ends with suffix. Implementations may cap the result at two
	// rows; the resolver only distinguishes zero, one and many.
	FindBySuffix(ctx context.Context, role Role, suffix string) ([]Person, error)

	// FindExact returns the person of the role with the exact registration
	// number, or nil when absent.
	FindExact(ctx context.Context, role Role, code string) (*Person, error)

	// Upsert inserts or updates a roster record.
	Upsert(ctx context.Context, p Person) error
}
