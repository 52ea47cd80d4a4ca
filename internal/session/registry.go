package session

import (
	"sync"

	"github.com/voicewire/voicewire/internal/util"
)

// Factory builds a Responder session for a newly observed client identity.
type Factory func(clientID string) (*Session, error)

// Registry routes inbound signaling to the right session among N concurrent
// clients, keyed by the client identifier carried in the connect URL. The
// registry-wide mutex only guards the key→entry map; each entry carries its
// own lock, so create/remove races on one key never stall the others.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	factory Factory
}

type entry struct {
	mu      sync.Mutex
	removed bool // entry deleted from the map; holders must re-lookup
	session *Session
}

// NewRegistry creates an empty registry with the given session factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		factory: factory,
	}
}

// GetOrCreate returns the live session for clientID, creating a
// Responder-role session on first contact. A reconnect with the same
// identifier resumes the existing session; a terminal session is replaced.
func (r *Registry) GetOrCreate(clientID string) (*Session, error) {
	for {
		r.mu.Lock()
		e, ok := r.entries[clientID]
		if !ok {
			e = &entry{}
			r.entries[clientID] = e
		}
		r.mu.Unlock()

		e.mu.Lock()
		if e.removed {
			// Lost the race against Remove; start over with a fresh entry.
			e.mu.Unlock()
			continue
		}
		if e.session == nil || e.session.State().Terminal() {
			sess, err := r.factory(clientID)
			if err != nil {
				e.mu.Unlock()
				return nil, err
			}
			e.session = sess
			util.Stats.AddSession()
			util.LogInfo("session %s created for client %s", sess.ID(), clientID)
		}
		sess := e.session
		e.mu.Unlock()
		return sess, nil
	}
}

// Get returns the session for clientID without creating one.
func (r *Registry) Get(clientID string) (*Session, bool) {
	r.mu.Lock()
	e, ok := r.entries[clientID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.session == nil {
		return nil, false
	}
	return e.session, true
}

// Remove tears down the entry for clientID if its session is terminal (or
// absent). A live session is left in place: removal only applies once no
// reconnect can resume it. Safe against a concurrent GetOrCreate for the
// same key — the loser of the race re-creates cleanly.
func (r *Registry) Remove(clientID string) {
	r.mu.Lock()
	e, ok := r.entries[clientID]
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		if !e.session.State().Terminal() {
			return
		}
		e.session.Close()
		e.session = nil
		util.Stats.RemoveSession()
	}
	e.removed = true

	r.mu.Lock()
	if cur, ok := r.entries[clientID]; ok && cur == e {
		delete(r.entries, clientID)
	}
	r.mu.Unlock()
}

// Len returns the number of registered client identities.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close force-closes every session. Used on server shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := make(map[string]*entry, len(r.entries))
	for id, e := range r.entries {
		entries[id] = e
	}
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for id, e := range entries {
		e.mu.Lock()
		if e.session != nil {
			e.session.Close()
			e.session = nil
			util.Stats.RemoveSession()
		}
		e.removed = true
		e.mu.Unlock()
		util.LogDebug("session for client %s closed", id)
	}
}
