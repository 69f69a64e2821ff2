package presence

import (
	"context"
	"sync"

	"github.com/arturoeanton/runcoach/internal/port"
)

// MemoryRegistry tracks connections in process. Presence is lost on restart
// and is not shared between instances.
type MemoryRegistry struct {
	mu    sync.RWMutex
	conns map[string]map[string]struct{}
}

var _ port.PresenceRegistry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{conns: make(map[string]map[string]struct{})}
}

// Add records an open connection for the user.
func (r *MemoryRegistry) Add(_ context.Context, userID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		r.conns[userID] = set
	}
	set[connID] = struct{}{}
	return nil
}

// Remove forgets a connection. The user's entry is dropped with its last connection.
func (r *MemoryRegistry) Remove(_ context.Context, userID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		return nil
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.conns, userID)
	}
	return nil
}

// IsOnline reports whether the user has any open connection.
func (r *MemoryRegistry) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := r.Connections(ctx, userID)
	return n > 0, err
}

// Connections returns the number of open connections for the user.
func (r *MemoryRegistry) Connections(_ context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]), nil
}
