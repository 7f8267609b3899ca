package ledger

import (
	"errors"
	"time"

	"libpresence/internal/identity"
)

// PresenceLog is one visit: a single entry and at most one exit. A log
// with no exit timestamp is OPEN (the person is inside); setting the exit
// closes it permanently. Closed logs are never mutated or deleted.
type PresenceLog struct {
	ID      string        `json:"id"`
	RegNo   string        `json:"reg_no"`
	Name    string        `json:"name"`
	Branch  string        `json:"branch,omitempty"`
	Year    string        `json:"year,omitempty"`
	Role    identity.Role `json:"role"`
	Reason  string        `json:"reason,omitempty"`
	EntryAt time.Time     `json:"entry_at"`
	ExitAt  *time.Time    `json:"exit_at,omitempty"`
}

// Open reports whether the visit is still in progress.
func (l PresenceLog) Open() bool { return l.ExitAt == nil }

// Direction says which transition a scan produced.
type Direction string

const (
	Entered Direction = "entered"
	Exited  Direction = "exited"
)

// Result is the outcome of a successful scan.
type Result struct {
	Direction Direction       `json:"direction"`
	Person    identity.Person `json:"person"`
	Log       PresenceLog     `json:"log"`
}

var (
	// ErrRoleMismatch: an exit was declared with a different role than the
	// open log was entered under. The open log is left untouched.
	ErrRoleMismatch = errors.New("role does not match the open log")

	// ErrAlreadyOpen: the strict entry path found an existing open log.
	ErrAlreadyOpen = errors.New("person is already inside")

	// ErrNotInside: the strict exit path found no open log.
	ErrNotInside = errors.New("person is not currently inside")

	// ErrOutsideHours: the strict entry path was used while the facility
	// is closed and the hours policy is enforced.
	ErrOutsideHours = errors.New("facility is closed")
)
