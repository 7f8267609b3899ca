package ledger

import (
	"context"
	"time"
)

// LogStore is the persistence surface for presence logs. Implementations
// must make CloseIfOpen a single conditional update (close-if-open) so a
// racing close applies exactly once, and should enforce the single-open-log
// invariant as a backstop where the backend allows it.
type LogStore interface {
	// Insert writes a new open log.
	Insert(ctx context.Context, l PresenceLog) error

	// CloseIfOpen sets the exit timestamp on the open log for regNo, if
	// one exists. Returns false when there was nothing open to close.
	CloseIfOpen(ctx context.Context, regNo string, exitAt time.Time) (bool, error)

	// OpenByCode returns the open log for regNo, or nil.
	OpenByCode(ctx context.Context, regNo string) (*PresenceLog, error)

	// ListOpen returns all open logs, oldest entry first.
	ListOpen(ctx context.Context) ([]PresenceLog, error)

	// CountOpenEnteredBefore counts open logs whose entry predates t.
	CountOpenEnteredBefore(ctx context.Context, t time.Time) (int, error)

	// CountOpen counts all open logs.
	CountOpen(ctx context.Context) (int, error)

	// CountEnteredBetween counts logs with entry in [from, to).
	CountEnteredBetween(ctx context.Context, from, to time.Time) (int, error)

	// CountDistinctEnteredBetween counts distinct registration codes with
	// an entry in [from, to).
	CountDistinctEnteredBetween(ctx context.Context, from, to time.Time) (int, error)

	// EntryTimesBetween returns the entry timestamps in [from, to).
	EntryTimesBetween(ctx context.Context, from, to time.Time) ([]time.Time, error)

	// LogsBetween returns logs with entry in [from, to), newest first.
	LogsBetween(ctx context.Context, from, to time.Time) ([]PresenceLog, error)
}
