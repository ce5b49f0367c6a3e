package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockstep-sim/lockstep/sim"
)

func openTestStore(t *testing.T, path string, session uuid.UUID) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(path, session)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_PutAndLatest(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "snap.db"), uuid.New())

	require.NoError(t, s.Put(0, []byte("base")))
	require.NoError(t, s.Put(300, []byte("mid")))

	at, blob, err := s.LatestAtOrBefore(299)
	require.NoError(t, err)
	assert.Equal(t, int64(0), at)
	assert.Equal(t, []byte("base"), blob)

	at, blob, err = s.LatestAtOrBefore(1000)
	require.NoError(t, err)
	assert.Equal(t, int64(300), at)
	assert.Equal(t, []byte("mid"), blob)
}

func TestSQLiteStore_Empty_ErrNoSnapshot(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "snap.db"), uuid.New())

	_, _, err := s.LatestAtOrBefore(10)
	assert.ErrorIs(t, err, sim.ErrNoSnapshot)
}

func TestSQLiteStore_SessionsAreIsolated(t *testing.T) {
	// GIVEN two sessions sharing one database file
	path := filepath.Join(t.TempDir(), "shared.db")
	a := openTestStore(t, path, uuid.New())
	require.NoError(t, a.Put(5, []byte("a")))
	require.NoError(t, a.Close())
	b := openTestStore(t, path, uuid.New())

	// WHEN the second session looks up a tick the first one stored
	_, _, err := b.LatestAtOrBefore(5)

	// THEN it sees nothing
	assert.ErrorIs(t, err, sim.ErrNoSnapshot)
}

func TestSQLiteStore_Prune_KeepsBaselineAndNewest(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "snap.db"), uuid.New())
	for tick := int64(0); tick <= 400; tick += 100 {
		require.NoError(t, s.Put(tick, []byte("x")))
	}

	require.NoError(t, s.Prune(1))

	ticks, err := s.Ticks()
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 400}, ticks)
}

func TestOpenSQLite_EmptyPath_Error(t *testing.T) {
	_, err := OpenSQLite("", uuid.New())
	assert.Error(t, err)
}
