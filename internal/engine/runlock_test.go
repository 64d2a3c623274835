package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func holder(id string) RunHolder {
	return RunHolder{RunID: id, Mode: ModeFull, StartedAt: time.Now()}
}

func TestRunLockExclusive(t *testing.T) {
	l := NewRunLock("")
	lease, err := l.Acquire(holder("a"), false)
	require.NoError(t, err)

	_, err = l.Acquire(holder("b"), false)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "a", conflict.RunID)

	lease.Release()
	lease.Release()

	again, err := l.Acquire(holder("c"), false)
	require.NoError(t, err)
	again.Release()
}

func TestRunLockForceSupersedes(t *testing.T) {
	l := NewRunLock("")
	old, err := l.Acquire(holder("old"), false)
	require.NoError(t, err)

	forced, err := l.Acquire(holder("new"), true)
	require.NoError(t, err)
	require.NotNil(t, forced.Previous())
	assert.Equal(t, "old", forced.Previous().RunID)
	assert.True(t, old.Superseded())
	assert.False(t, forced.Superseded())

	// The superseded lease must not free the newer holder.
	old.Release()
	cur, held := l.Current()
	assert.True(t, held)
	assert.Equal(t, "new", cur.RunID)

	forced.Release()
	_, held = l.Current()
	assert.False(t, held)
}

func TestRunLockAcrossProcessesViaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	a := NewRunLock(path)
	b := NewRunLock(path)

	lease, err := a.Acquire(holder("a"), false)
	require.NoError(t, err)

	_, err = b.Acquire(holder("b"), true)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, conflict.Host, "run:a")

	lease.Release()
	other, err := b.Acquire(holder("b"), false)
	require.NoError(t, err)
	other.Release()
}
