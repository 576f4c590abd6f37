package stream

import (
	"sync"

	"github.com/your-org/visionguard/internal/observability"
)

// Session pairs a peer connection with its processor.
type Session struct {
	Processor *Processor
	Peer      *Peer
}

// Close tears down the peer connection and stops the pipeline.
func (s *Session) Close() {
	if s.Peer != nil {
		s.Peer.Close()
	}
	if s.Processor != nil {
		s.Processor.Stop()
	}
}

// Registry indexes live sessions by stream id and by user id. Both indexes
// mutate under one lock so they can never disagree.
type Registry struct {
	mu     sync.Mutex
	byID   map[string]*Session
	byUser map[string]map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Session),
		byUser: make(map[string]map[string]*Session),
	}
}

// Add registers a session. A stream id collision replaces the old session;
// the caller closes the returned previous session, if any.
func (r *Registry) Add(userID string, s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.byID[s.Processor.ID]
	if prev != nil {
		r.removeLocked(prev.Processor.UserID, prev.Processor.ID)
	}

	r.byID[s.Processor.ID] = s
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*Session)
	}
	r.byUser[userID][s.Processor.ID] = s

	observability.ActiveStreams.Set(float64(len(r.byID)))
	return prev
}

// Remove drops one stream. Returns the removed session or nil.
func (r *Registry) Remove(userID, streamID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.byUser[userID][streamID]
	if s == nil {
		return nil
	}
	r.removeLocked(userID, streamID)
	observability.ActiveStreams.Set(float64(len(r.byID)))
	return s
}

// RemoveUser drops every stream a user owns and returns them for teardown.
func (r *Registry) RemoveUser(userID string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*Session
	for id, s := range r.byUser[userID] {
		removed = append(removed, s)
		r.removeLocked(userID, id)
	}
	observability.ActiveStreams.Set(float64(len(r.byID)))
	return removed
}

// RemoveAll empties the registry and returns every session.
func (r *Registry) RemoveAll() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*Session
	for id, s := range r.byID {
		removed = append(removed, s)
		r.removeLocked(s.Processor.UserID, id)
	}
	observability.ActiveStreams.Set(0)
	return removed
}

func (r *Registry) Get(streamID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[streamID]
}

// ListUser returns the stream ids a user owns.
func (r *Registry) ListUser(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *Registry) removeLocked(userID, streamID string) {
	delete(r.byID, streamID)
	if m := r.byUser[userID]; m != nil {
		delete(m, streamID)
		if len(m) == 0 {
			delete(r.byUser, userID)
		}
	}
}
