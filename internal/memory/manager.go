// Package memory accounts for the region sources held in memory and enforces
// per-session and global budgets.
package memory

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBudgetExceeded is returned when an allocation would exceed a limit
var ErrBudgetExceeded = errors.New("memory budget exceeded")

// Level classifies global usage against the configured thresholds
type Level string

const (
	LevelOK       Level = "OK"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Config defines memory manager configuration
type Config struct {
	MaxSessionKB         int // Limit per session, 0 disables the check
	MaxTotalMB           int // Limit across all sessions, 0 disables the check
	WarningThresholdPct  int // Warning threshold percentage of MaxTotalMB
	CriticalThresholdPct int // Critical threshold percentage of MaxTotalMB
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxSessionKB:         512,
		MaxTotalMB:           100,
		WarningThresholdPct:  75,
		CriticalThresholdPct: 90,
	}
}

// Manager tracks bytes per region, grouped by session
type Manager struct {
	maxSession int64
	maxTotal   int64
	warnAt     int64
	criticalAt int64

	mu       sync.Mutex
	total    int64
	sessions map[string]map[string]int64 // session ID → region ID → bytes
}

// NewManager creates a manager; a nil config uses DefaultConfig
func NewManager(config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	maxTotal := int64(config.MaxTotalMB) << 20
	return &Manager{
		maxSession: int64(config.MaxSessionKB) << 10,
		maxTotal:   maxTotal,
		warnAt:     maxTotal * int64(config.WarningThresholdPct) / 100,
		criticalAt: maxTotal * int64(config.CriticalThresholdPct) / 100,
		sessions:   make(map[string]map[string]int64),
	}
}

// Allocate records that a region now holds size bytes. It replaces any previous
// amount for the region and fails without changing anything if a limit would be
// exceeded.
func (m *Manager) Allocate(sessionID, regionID string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	regions := m.sessions[sessionID]
	delta := size - regions[regionID]

	if m.maxSession > 0 {
		if held := sum(regions) + delta; held > m.maxSession {
			return fmt.Errorf("%w: session %s would hold %d bytes, limit %d",
				ErrBudgetExceeded, sessionID, held, m.maxSession)
		}
	}
	if m.maxTotal > 0 && m.total+delta > m.maxTotal {
		return fmt.Errorf("%w: %d + %d > %d", ErrBudgetExceeded, m.total, delta, m.maxTotal)
	}

	if regions == nil {
		regions = make(map[string]int64)
		m.sessions[sessionID] = regions
	}
	regions[regionID] = size
	m.total += delta
	return nil
}

// Revert undoes an Allocate of reserved bytes whose write never landed, putting
// the region back at prior bytes. A prior of 0 forgets the region. Nothing
// changes if a later allocation has already replaced the reservation.
func (m *Manager) Revert(sessionID, regionID string, reserved, prior int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	regions := m.sessions[sessionID]
	held, ok := regions[regionID]
	if !ok || held != reserved {
		return false
	}
	if prior == 0 {
		delete(regions, regionID)
		if len(regions) == 0 {
			delete(m.sessions, sessionID)
		}
	} else {
		regions[regionID] = prior
	}
	m.total += prior - reserved
	return true
}

// ReleaseSession frees everything held by a session and returns the freed bytes
func (m *Manager) ReleaseSession(sessionID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	freed := sum(m.sessions[sessionID])
	delete(m.sessions, sessionID)
	m.total -= freed
	return freed
}

// SessionUsage returns the bytes held by a session
func (m *Manager) SessionUsage(sessionID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sum(m.sessions[sessionID])
}

// Status is a point-in-time view of global usage
type Status struct {
	Used     int64   `json:"used"`
	Limit    int64   `json:"limit"` // 0 when unlimited
	Percent  float64 `json:"percent"`
	Level    Level   `json:"level"`
	Sessions int     `json:"sessions"`
}

// Usage reports global usage; the level stays OK without a global limit
func (m *Manager) Usage() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{Used: m.total, Limit: m.maxTotal, Level: LevelOK, Sessions: len(m.sessions)}
	if m.maxTotal > 0 {
		st.Percent = float64(m.total) / float64(m.maxTotal) * 100
		switch {
		case m.total >= m.criticalAt:
			st.Level = LevelCritical
		case m.total >= m.warnAt:
			st.Level = LevelWarning
		}
	}
	return st
}

func sum(regions map[string]int64) int64 {
	var n int64
	for _, size := range regions {
		n += size
	}
	return n
}
