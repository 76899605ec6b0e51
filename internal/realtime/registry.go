package realtime

import (
	"sort"
	"sync"
)

// Session is a live transport connection bound to one user. Implementations
// must tolerate concurrent Send calls.
type Session interface {
	Send(event any) error
}

// Registry is the authoritative user-to-session routing table. It holds at
// most one session per user; a new registration for the same user silently
// replaces the previous one (last-connection-wins). The table is process
// scoped and starts empty on every restart.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int]Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int]Session)}
}

// Register installs or replaces the session for userID, making the user
// reachable for fan-out until removed or replaced. The superseded session is
// not closed here; its own read loop owns that.
func (r *Registry) Register(userID int, session Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[userID] = session
}

// Unregister removes the mapping for userID. Calling it for an unmapped user
// is a no-op.
func (r *Registry) Unregister(userID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}

// Lookup returns the active session for userID, if any.
func (r *Registry) Lookup(userID int) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[userID]
	return session, ok
}

// Snapshot returns the ids of all currently reachable users, sorted.
func (r *Registry) Snapshot() []int {
	r.mu.RLock()
	ids := make([]int, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Ints(ids)
	return ids
}
