package agent

import "sync"

// Registry tracks live sessions keyed by room name. Entries are removed
// when the room's data channel disconnects.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Put registers a session. Returns false when the room already has one.
func (r *Registry) Put(roomName string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[roomName]; exists {
		return false
	}
	r.sessions[roomName] = s
	return true
}

func (r *Registry) Get(roomName string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[roomName]
	return s, ok
}

func (r *Registry) Remove(roomName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, roomName)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
