package store

import (
	"context"
	"sync"
	"time"

	"chat-relay/types"
)

// MemoryStore keeps transcripts in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Record
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]Record),
		now:      time.Now,
	}
}

// Append implements Store
func (m *MemoryStore) Append(ctx context.Context, sessionID string, msgs ...types.HistoryMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, msg := range msgs {
		m.sessions[sessionID] = append(m.sessions[sessionID], Record{
			SessionID: sessionID,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: now,
		})
	}
	return nil
}

// Records implements Store
func (m *MemoryStore) Records(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	records = tail(records, limit)
	out := make([]Record, len(records))
	copy(out, records)
	return out, nil
}

// Close implements Store
func (m *MemoryStore) Close() error {
	return nil
}
