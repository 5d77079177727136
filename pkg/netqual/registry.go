package netqual

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jellydator/ttlcache/v3"
)

// Registry keeps at most one Session per target. Sessions not accessed for
// longer than the configured TTL are evicted and stopped.
type Registry struct {
	config   Config
	sessions *ttlcache.Cache[string, *Session]

	// mu serializes replacements and removals of a session.
	mu sync.Mutex
}

// NewRegistry returns a Registry creating sessions with config. If ttl is
// zero, sessions are never evicted. Close must be called to release the
// Registry's resources.
func NewRegistry(config Config, ttl time.Duration) *Registry {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *Session](ttl),
	)
	cache.OnEviction(func(ctx context.Context,
		er ttlcache.EvictionReason,
		i *ttlcache.Item[string, *Session]) {
		log.Debug("Session evicted", "target", i.Key(), "id", i.Value().ID(), "reason", er)
		i.Value().Stop()
	})
	go cache.Start()
	return &Registry{
		config:   config,
		sessions: cache,
	}
}

// Start starts a new Session for target and returns it. An existing session
// for the same target is stopped and replaced.
func (r *Registry) Start(target string) *Session {
	s := NewSession(target, r.config)
	r.mu.Lock()
	defer r.mu.Unlock()
	// Set updates an existing item in place, so the old session must be read
	// before replacing it.
	var old *Session
	if item := r.sessions.Get(s.Target()); item != nil {
		old = item.Value()
	}
	r.sessions.Set(s.Target(), s, ttlcache.DefaultTTL)
	if old != nil {
		log.Debug("Replacing session", "target", s.Target(), "old", old.ID(), "new", s.ID())
		old.Stop()
	}
	return s
}

// Get returns the session for target, or nil if there is none. Get extends
// the session's lifetime.
func (r *Registry) Get(target string) *Session {
	t, err := parseTarget(target)
	key := target
	if err == nil {
		key = t.url
	}
	item := r.sessions.Get(key)
	if item == nil {
		return nil
	}
	return item.Value()
}

// Stop stops and removes the session for target. It returns false if there
// was no such session.
func (r *Registry) Stop(target string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.Get(target)
	if s == nil {
		return false
	}
	r.sessions.Delete(s.Target())
	s.Stop()
	return true
}

// StopAll stops and removes all the sessions.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.sessions.Items()
	r.sessions.DeleteAll()
	for _, item := range items {
		item.Value().Stop()
	}
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	return r.sessions.Len()
}

// Close stops all the sessions and the Registry's expiration loop.
func (r *Registry) Close() {
	r.StopAll()
	r.sessions.Stop()
}
