package client

import (
	"fmt"

	"github.com/livefir/liveregion/diff"
	"github.com/livefir/liveregion/internal/region"
	"github.com/livefir/liveregion/protocol"
)

// Outcome of offering a diff update to the mirror
type Outcome int

const (
	// Applied means the mirror advanced and the region must be reconciled.
	Applied Outcome = iota
	// Desync means the update did not fit the mirror; ask for a full update.
	Desync
	// Dropped means a full update is already outstanding for the region.
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Desync:
		return "desync"
	case Dropped:
		return "dropped"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

type mirrored struct {
	source   string
	hash     string
	awaiting bool // desync sent, waiting for the full update
}

// Mirror holds the client's copy of each region's source and hash. A diff is
// only applied when its base hash matches the mirrored hash.
type Mirror struct {
	regions map[string]*mirrored
}

// NewMirror creates an empty mirror
func NewMirror() *Mirror {
	return &Mirror{regions: make(map[string]*mirrored)}
}

// Init stores the state of every region in p
func (m *Mirror) Init(p protocol.InitPayload) {
	for id, st := range p.Regions {
		m.regions[id] = &mirrored{source: st.Source, hash: st.Hash}
	}
}

// Full replaces a region's state unconditionally
func (m *Mirror) Full(p protocol.FullUpdatePayload) {
	m.regions[p.RegionID] = &mirrored{source: p.Source, hash: p.Hash}
}

// Diff applies p if it was computed from the mirrored hash and returns the new
// source. A mismatch, a malformed script, or a result whose hash differs from
// the declared one leaves the mirror untouched and reports Desync once; further
// updates for the region are Dropped until a full update arrives.
func (m *Mirror) Diff(p protocol.DiffUpdatePayload) (string, Outcome) {
	st, ok := m.regions[p.RegionID]
	if !ok {
		st = &mirrored{}
		m.regions[p.RegionID] = st
	}
	if st.awaiting {
		return "", Dropped
	}
	if st.hash == "" || st.hash != p.FromHash {
		st.awaiting = true
		return "", Desync
	}

	next, err := diff.Apply(st.source, p.Diff)
	if err != nil || region.Hash(next) != p.Hash {
		st.awaiting = true
		return "", Desync
	}

	st.source, st.hash = next, p.Hash
	return next, Applied
}

// State returns the mirrored source and hash of a region
func (m *Mirror) State(regionID string) (source, hash string, ok bool) {
	st, ok := m.regions[regionID]
	if !ok {
		return "", "", false
	}
	return st.source, st.hash, true
}

// Awaiting reports whether a full update is outstanding for the region
func (m *Mirror) Awaiting(regionID string) bool {
	st, ok := m.regions[regionID]
	return ok && st.awaiting
}
