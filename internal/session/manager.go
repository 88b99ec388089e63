package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/jellydator/ttlcache/v3"

	"github.com/livefir/liveregion/internal/region"
)

// Session is the set of live regions shared by every connection of one visitor
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	Regions   *region.Registry
}

// Manager handles session lifecycle. Sessions expire after ttl without access;
// an expired or deleted session drops its regions from the store.
type Manager struct {
	cache       *ttlcache.Cache[string, *Session]
	newRegistry func(sessionID string) *region.Registry
	ttl         time.Duration

	mu        sync.Mutex // serializes get-or-create
	lmu       sync.Mutex
	listeners []func(*Session)
}

// NewManager creates a new session manager
func NewManager(ttl time.Duration, newRegistry func(sessionID string) *region.Registry) *Manager {
	if ttl == 0 {
		ttl = 24 * time.Hour // Default 24 hours
	}

	m := &Manager{
		cache: ttlcache.New[string, *Session](
			ttlcache.WithTTL[string, *Session](ttl),
		),
		newRegistry: newRegistry,
		ttl:         ttl,
	}

	m.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Session]) {
		sess := item.Value()
		glog.V(1).Infof("session %s evicted (reason %d)", sess.ID, reason)
		if err := sess.Regions.Drop(ctx); err != nil {
			glog.Warningf("session %s: failed to drop regions: %v", sess.ID, err)
		}
		m.lmu.Lock()
		listeners := append([]func(*Session){}, m.listeners...)
		m.lmu.Unlock()
		for _, fn := range listeners {
			fn(sess)
		}
	})

	return m
}

// OnEviction registers fn to run after a session has been removed
func (m *Manager) OnEviction(fn func(*Session)) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start runs the expiry loop until ctx is done
func (m *Manager) Start(ctx context.Context) {
	go m.cache.Start()
	go func() {
		<-ctx.Done()
		m.cache.Stop()
	}()
}

// GetOrCreate returns the session with the given id, creating it when absent.
// The second result reports whether the session was created.
func (m *Manager) GetOrCreate(sessionID, userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item := m.cache.Get(sessionID); item != nil {
		return item.Value(), false
	}

	sess := &Session{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: time.Now(),
		Regions:   m.newRegistry(sessionID),
	}
	m.cache.Set(sessionID, sess, ttlcache.DefaultTTL)
	glog.V(1).Infof("session %s created", sessionID)
	return sess, true
}

// GetSession retrieves a session by ID and extends its lifetime
func (m *Manager) GetSession(sessionID string) (*Session, bool) {
	item := m.cache.Get(sessionID)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// DeleteSession removes a session and its regions
func (m *Manager) DeleteSession(sessionID string) {
	m.cache.Delete(sessionID)
}

// CleanupExpiredSessions removes expired sessions now instead of waiting for the
// expiry loop and returns how many were removed
func (m *Manager) CleanupExpiredSessions() int {
	before := m.cache.Len()
	m.cache.DeleteExpired()
	return before - m.cache.Len()
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	return m.cache.Len()
}

// TTL returns the idle timeout
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// NewID creates a cryptographically secure session ID
func NewID() (string, error) {
	bytes := make([]byte, 32) // 256-bit session ID
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
