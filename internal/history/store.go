package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/agentcarbon/internal/billing"
	"github.com/zombor/agentcarbon/internal/emission"
)

// ErrNotFound is returned when an entry id is unknown to the store
var ErrNotFound = errors.New("entry not found")

// Store persists processed documents for trend analysis
type Store interface {
	// Put saves fields and emissions and returns the new entry id
	Put(ctx context.Context, fields billing.Fields, emissions emission.Record) (string, error)

	// List returns up to limit entries, most recent first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Entry, error)

	// Get returns one entry by id
	Get(ctx context.Context, id string) (*Entry, error)

	// Close releases the store
	Close() error
}

// IDGenerator generates unique IDs for entries
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// UUIDGenerator produces time-ordered UUIDv7 ids, so key order matches insert order
type UUIDGenerator struct{}

func (UUIDGenerator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SystemTime provides the wall clock
type SystemTime struct{}

func (SystemTime) Now() time.Time {
	return time.Now().UTC()
}
