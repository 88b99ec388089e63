package liveregion

import (
	"sort"
	"sync"
)

// ConnectionRegistry indexes open connections by session and by user. A push to
// a region fans out over the session index, since every tab of a session may
// mirror the region.
type ConnectionRegistry struct {
	mu        sync.RWMutex
	bySession map[string]map[string]*Connection // session ID → connection ID → connection
	byUser    map[string]map[string]*Connection // "" collects anonymous connections
}

// NewConnectionRegistry creates an empty registry
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		bySession: make(map[string]map[string]*Connection),
		byUser:    make(map[string]map[string]*Connection),
	}
}

// Register adds conn to both indexes
func (r *ConnectionRegistry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	index(r.bySession, conn.SessionID, conn)
	index(r.byUser, conn.UserID, conn)
}

// Unregister removes conn; unknown connections are ignored
func (r *ConnectionRegistry) Unregister(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	unindex(r.bySession, conn.SessionID, conn)
	unindex(r.byUser, conn.UserID, conn)
}

// BySession returns the session's connections, oldest first
func (r *ConnectionRegistry) BySession(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sorted(r.bySession[sessionID])
}

// ByUser returns the user's connections across sessions, oldest first
func (r *ConnectionRegistry) ByUser(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sorted(r.byUser[userID])
}

// All returns every open connection
func (r *ConnectionRegistry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*Connection
	for _, conns := range r.bySession {
		for _, conn := range conns {
			all = append(all, conn)
		}
	}
	return all
}

// Len returns the number of open connections
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, conns := range r.bySession {
		n += len(conns)
	}
	return n
}

// Sessions returns the number of sessions with an open connection
func (r *ConnectionRegistry) Sessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession)
}

// Users returns the number of distinct users connected; anonymous counts once
func (r *ConnectionRegistry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func index(m map[string]map[string]*Connection, key string, conn *Connection) {
	conns, ok := m[key]
	if !ok {
		conns = make(map[string]*Connection)
		m[key] = conns
	}
	conns[conn.ID] = conn
}

func unindex(m map[string]map[string]*Connection, key string, conn *Connection) {
	conns, ok := m[key]
	if !ok || conns[conn.ID] != conn {
		return
	}
	delete(conns, conn.ID)
	if len(conns) == 0 {
		delete(m, key)
	}
}

// sorted orders by connection ID; IDs are ULIDs, so this is connect order
func sorted(conns map[string]*Connection) []*Connection {
	out := make([]*Connection, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
