package audit

import (
	"context"
	"errors"
	"time"
)

// Status values for Entry.Status.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrConflict is returned when an entry with the same ID already exists.
var ErrConflict = errors.New("audit entry already exists")

// Entry describes one completed tool call.
type Entry struct {
	ID         string    `json:"id"`
	Tool       string    `json:"tool"`
	SessionID  string    `json:"session_id,omitempty"`
	Status     string    `json:"status"`
	Code       string    `json:"code,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recorder receives audit entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Store is a Recorder that can also list what it holds.
type Store interface {
	Recorder

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// HealthCheck reports whether the backing store is reachable.
	HealthCheck(ctx context.Context) error

	Close() error
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) Recent(context.Context, int) ([]Entry, error) { return nil, nil }

func (Nop) HealthCheck(context.Context) error { return nil }

func (Nop) Close() error { return nil }
