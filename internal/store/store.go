// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/geminichat/internal/domain"
)

// Repository defines the interface for persisting visitors and transcripts.
type Repository interface {
	// GetUser retrieves a visitor by their user ID. Returns nil, nil if absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a visitor record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a visitor.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// RecordMessage appends one conversation message to the transcript log.
	RecordMessage(ctx context.Context, entry domain.TranscriptEntry) error

	// PruneTranscripts removes transcript entries older than retention.
	PruneTranscripts(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
