// Package store persists chat transcripts: one record per message with its
// role, content and session linkage key.
package store

import (
	"context"
	"errors"
	"time"

	"chat-relay/types"
)

// ErrNotFound is returned when a session has no stored messages
var ErrNotFound = errors.New("session not found")

// Record is one persisted transcript message
type Record struct {
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is a transcript backend
type Store interface {
	// Append stores messages for a session in order
	Append(ctx context.Context, sessionID string, msgs ...types.HistoryMessage) error

	// Records returns the last limit records of a session in chronological
	// order, or all of them when limit <= 0.
	Records(ctx context.Context, sessionID string, limit int) ([]Record, error)

	Close() error
}

// History returns the last limit messages of a session as upstream history
func History(ctx context.Context, s Store, sessionID string, limit int) ([]types.HistoryMessage, error) {
	records, err := s.Records(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	history := make([]types.HistoryMessage, len(records))
	for i, r := range records {
		history[i] = types.HistoryMessage{Role: r.Role, Content: r.Content}
	}
	return history, nil
}

func tail(records []Record, limit int) []Record {
	if limit > 0 && len(records) > limit {
		return records[len(records)-limit:]
	}
	return records
}
