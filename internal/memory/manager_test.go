package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SessionBudget(t *testing.T) {
	manager := NewManager(&Config{MaxSessionKB: 1, MaxTotalMB: 1, WarningThresholdPct: 75, CriticalThresholdPct: 90})

	require.NoError(t, manager.Allocate("s1", "r1", 600))
	require.NoError(t, manager.Allocate("s1", "r2", 400))
	assert.Equal(t, int64(1000), manager.SessionUsage("s1"))

	err := manager.Allocate("s1", "r3", 100)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, int64(1000), manager.SessionUsage("s1"), "failed allocation must not change usage")

	// shrinking a region makes room
	require.NoError(t, manager.Allocate("s1", "r1", 100))
	require.NoError(t, manager.Allocate("s1", "r3", 500))
	assert.Equal(t, int64(1000), manager.SessionUsage("s1"))

	// other sessions have their own budget
	require.NoError(t, manager.Allocate("s2", "r1", 1024))
}

func TestManager_ReleaseSession(t *testing.T) {
	manager := NewManager(nil)

	require.NoError(t, manager.Allocate("s1", "r1", 300))
	require.NoError(t, manager.Allocate("s1", "r2", 200))
	require.NoError(t, manager.Allocate("s2", "r1", 50))

	assert.Equal(t, int64(500), manager.ReleaseSession("s1"))
	assert.Equal(t, int64(0), manager.SessionUsage("s1"))
	assert.Equal(t, int64(0), manager.ReleaseSession("s1"))

	status := manager.Usage()
	assert.Equal(t, int64(50), status.Used)
	assert.Equal(t, 1, status.Sessions)
	assert.Equal(t, LevelOK, status.Level)
}

func TestManager_GlobalLimitAndLevels(t *testing.T) {
	manager := NewManager(&Config{MaxTotalMB: 1, WarningThresholdPct: 50, CriticalThresholdPct: 90})
	mb := int64(1024 * 1024)

	require.NoError(t, manager.Allocate("s1", "r1", mb/2))
	assert.Equal(t, LevelWarning, manager.Usage().Level)

	require.NoError(t, manager.Allocate("s2", "r1", mb*4/10))
	assert.Equal(t, LevelCritical, manager.Usage().Level)

	assert.ErrorIs(t, manager.Allocate("s3", "r1", mb/5), ErrBudgetExceeded)
}

func TestManager_Unlimited(t *testing.T) {
	manager := NewManager(&Config{})
	require.NoError(t, manager.Allocate("s1", "r1", 1<<30))

	status := manager.Usage()
	assert.Equal(t, LevelOK, status.Level)
	assert.Zero(t, status.Limit)
	assert.Zero(t, status.Percent)
}

func TestManager_Revert(t *testing.T) {
	manager := NewManager(nil)

	require.NoError(t, manager.Allocate("s1", "r1", 100))
	require.NoError(t, manager.Allocate("s1", "r1", 400))
	assert.True(t, manager.Revert("s1", "r1", 400, 100))
	assert.Equal(t, int64(100), manager.SessionUsage("s1"))

	// a newer reservation is left alone
	require.NoError(t, manager.Allocate("s1", "r1", 400))
	require.NoError(t, manager.Allocate("s1", "r1", 250))
	assert.False(t, manager.Revert("s1", "r1", 400, 100))
	assert.Equal(t, int64(250), manager.SessionUsage("s1"))

	require.NoError(t, manager.Allocate("s2", "r9", 70))
	assert.True(t, manager.Revert("s2", "r9", 70, 0))
	assert.False(t, manager.Revert("s2", "r9", 70, 0))
	status := manager.Usage()
	assert.Equal(t, int64(250), status.Used)
	assert.Equal(t, 1, status.Sessions)
}
