// Package store defines the connection persistence boundary. The core only
// depends on the interface; the in-memory implementation serves development
// and tests, real persistence lives with the embedding application.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/feedbacktaker/chatbridge/internal/discord"
	"github.com/feedbacktaker/chatbridge/internal/errs"
)

// ErrNotFound is returned when no connection exists for a user.
var ErrNotFound = errs.New(errs.KindValidation, "not_connected", "no platform connection for this user")

// ConnectionStore persists Discord connections keyed by local user ID.
type ConnectionStore interface {
	// Save creates or replaces the connection for conn.UserID.
	Save(ctx context.Context, conn *discord.Connection) error

	// Get returns the connection for userID, or ErrNotFound.
	Get(ctx context.Context, userID string) (*discord.Connection, error)

	// Delete removes a user's connection. Deleting a missing connection is
	// not an error.
	Delete(ctx context.Context, userID string) error

	// List returns all connections ordered by user ID.
	List(ctx context.Context) ([]*discord.Connection, error)
}

// MemoryStore is a mutex-guarded in-memory ConnectionStore.
type MemoryStore struct {
	mu    sync.RWMutex
	conns map[string]*discord.Connection
	now   func() time.Time
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conns: make(map[string]*discord.Connection),
		now:   time.Now,
	}
}

// Save stores a copy of conn so later caller mutations cannot corrupt the
// stored value. CreatedAt is preserved across replacements.
func (s *MemoryStore) Save(_ context.Context, conn *discord.Connection) error {
	if conn == nil || conn.UserID == "" {
		return errs.New(errs.KindValidation, "missing_user", "connection must carry a user ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *conn
	now := s.now()
	if existing, ok := s.conns[conn.UserID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.conns[conn.UserID] = &stored
	return nil
}

// Get returns a copy of the stored connection.
func (s *MemoryStore) Get(_ context.Context, userID string) (*discord.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.conns[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *conn
	return &out, nil
}

// Delete removes a connection if present.
func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, userID)
	return nil
}

// List returns copies of all connections, ordered by user ID.
func (s *MemoryStore) List(_ context.Context) ([]*discord.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*discord.Connection, 0, len(s.conns))
	for _, conn := range s.conns {
		c := *conn
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
