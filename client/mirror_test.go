package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/livefir/liveregion/diff"
	"github.com/livefir/liveregion/internal/region"
	"github.com/livefir/liveregion/protocol"
)

func diffUpdate(id, from, to string) protocol.DiffUpdatePayload {
	return protocol.DiffUpdatePayload{
		RegionID: id,
		Diff:     diff.Diff(from, to),
		FromHash: region.Hash(from),
		Hash:     region.Hash(to),
	}
}

func TestMirror_AppliesMatchingDiff(t *testing.T) {
	m := NewMirror()
	m.Init(protocol.InitPayload{Regions: map[string]protocol.RegionState{
		"counter": {Source: "<span>0</span>", Hash: region.Hash("<span>0</span>")},
	}})

	source, outcome := m.Diff(diffUpdate("counter", "<span>0</span>", "<span>1</span>"))
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, "<span>1</span>", source)

	got, hash, ok := m.State("counter")
	assert.True(t, ok)
	assert.Equal(t, "<span>1</span>", got)
	assert.Equal(t, region.Hash("<span>1</span>"), hash)
}

func TestMirror_DesyncGate(t *testing.T) {
	m := NewMirror()
	h0 := region.Hash("<span>0</span>")
	m.Init(protocol.InitPayload{Regions: map[string]protocol.RegionState{
		"counter": {Source: "<span>0</span>", Hash: h0},
	}})

	stale := diffUpdate("counter", "<span>8</span>", "<span>9</span>")
	_, outcome := m.Diff(stale)
	assert.Equal(t, Desync, outcome, "a foreign base hash asks for a full update")

	source, hash, _ := m.State("counter")
	assert.Equal(t, "<span>0</span>", source, "the mirror is untouched")
	assert.Equal(t, h0, hash)

	// exactly one desync while the full update is outstanding
	_, outcome = m.Diff(stale)
	assert.Equal(t, Dropped, outcome)
	_, outcome = m.Diff(diffUpdate("counter", "<span>0</span>", "<span>1</span>"))
	assert.Equal(t, Dropped, outcome)
	assert.True(t, m.Awaiting("counter"))

	m.Full(protocol.FullUpdatePayload{RegionID: "counter", Source: "<span>1</span>", Hash: region.Hash("<span>1</span>")})
	assert.False(t, m.Awaiting("counter"))

	source, outcome = m.Diff(diffUpdate("counter", "<span>1</span>", "<span>2</span>"))
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, "<span>2</span>", source)
}

func TestMirror_UnknownRegionDesyncs(t *testing.T) {
	m := NewMirror()
	_, outcome := m.Diff(diffUpdate("late", "a", "b"))
	assert.Equal(t, Desync, outcome, "no hash held yet")
}

func TestMirror_VerifiesResultHash(t *testing.T) {
	m := NewMirror()
	m.Full(protocol.FullUpdatePayload{RegionID: "r", Source: "abc", Hash: region.Hash("abc")})

	u := diffUpdate("r", "abc", "abd")
	u.Hash = region.Hash("something else")
	_, outcome := m.Diff(u)
	assert.Equal(t, Desync, outcome)

	source, _, _ := m.State("r")
	assert.Equal(t, "abc", source)
}

func TestMirror_MalformedScript(t *testing.T) {
	m := NewMirror()
	m.Full(protocol.FullUpdatePayload{RegionID: "r", Source: "abc", Hash: region.Hash("abc")})

	u := protocol.DiffUpdatePayload{
		RegionID: "r",
		Diff:     diff.Script{diff.EqualOp(10)},
		FromHash: region.Hash("abc"),
		Hash:     region.Hash("abc"),
	}
	_, outcome := m.Diff(u)
	assert.Equal(t, Desync, outcome)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "applied", Applied.String())
	assert.Equal(t, "desync", Desync.String())
	assert.Equal(t, "dropped", Dropped.String())
}
