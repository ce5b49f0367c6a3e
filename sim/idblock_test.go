package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDBlock_InvalidRange_Panics(t *testing.T) {
	assert.PanicsWithValue(t, "IDBlock: BlockStart must be >= 0, got -1", func() { NewIDBlock(0, -1, 10) })
	assert.PanicsWithValue(t, "IDBlock: BlockSize must be > 0, got 0", func() { NewIDBlock(0, 0, 0) })
}

func TestIDBlock_NextID_SequentialThenExhausted(t *testing.T) {
	b := NewIDBlock(1, 100, 3)

	for want := int64(100); want < 103; want++ {
		id, err := b.NextID()
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	_, err := b.NextID()
	assert.ErrorIs(t, err, ErrBlockExhausted)
	assert.True(t, b.Exhausted())
	assert.Equal(t, int32(0), b.Remaining())
}

func TestIDBlocks_DisjointRanges_NeverCollide(t *testing.T) {
	// GIVEN two disjoint blocks
	a := NewIDBlock(1, 0, 500)
	b := NewIDBlock(2, 500, 500)
	require.False(t, a.Overlaps(b))

	// WHEN both are drained, interleaved
	seen := make(map[int64]bool)
	for i := 0; i < 500; i++ {
		for _, blk := range []*IDBlock{a, b} {
			id, err := blk.NextID()
			require.NoError(t, err)
			// THEN no id repeats and all are non-negative
			assert.False(t, seen[id], "duplicate id %d", id)
			assert.GreaterOrEqual(t, id, int64(0))
			seen[id] = true
		}
	}
	assert.Len(t, seen, 1000)
}

func TestIDAllocator_LocalIDs_StrictlyNegative(t *testing.T) {
	a := NewIDAllocator(NewIDConfig(0, 0, 10, 0, 0))

	assert.Equal(t, int64(-1), a.NextLocalID())
	assert.Equal(t, int64(-2), a.NextLocalID())
	id, err := a.NextGlobalID()
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)
	assert.Equal(t, int64(-3), a.NextLocalID())
}

func TestIDAllocator_NoGlobalBlock_ErrNoBlock(t *testing.T) {
	a := NewIDAllocator(NewIDConfig(0, 0, 0, 0, 0))

	_, err := a.NextGlobalID()
	assert.ErrorIs(t, err, ErrNoBlock)
	_, err = a.NextIDFor(3)
	assert.ErrorIs(t, err, ErrNoBlock)
}

func TestIDAllocator_ReassignInUseBlock_PreviousWins(t *testing.T) {
	// GIVEN a global block that has issued ids and not asked for renewal
	a := NewIDAllocator(NewIDConfig(0, 0, 10, 0, 0))
	_, err := a.NextGlobalID()
	require.NoError(t, err)

	// WHEN another block is installed
	var ok bool
	output := captureLogOutput(func() { ok = a.SetGlobalBlock(NewIDBlock(0, 100, 10)) })

	// THEN it is refused and the old block keeps serving
	assert.False(t, ok)
	assert.Equal(t, 1, a.Conflicts())
	assert.Contains(t, output, "keeping it")
	id, err := a.NextGlobalID()
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestIDAllocator_OwnerBlock_KeptDisjointFromGlobalGrants(t *testing.T) {
	// GIVEN a global block [0,10) and an owner block granted after it
	a := NewIDAllocator(NewIDConfig(0, 0, 10, 0, 0))
	require.True(t, a.AssignBlock(1, a.NextGrant(1, 20)))

	// WHEN the owner draws and the next global grant is computed
	id, err := a.NextIDFor(1)
	require.NoError(t, err)
	next := a.NextGrant(0, 10)

	// THEN the owner block starts after the global one and the grant after both
	assert.Equal(t, int64(10), id)
	assert.Equal(t, int64(30), next.BlockStart)
	assert.True(t, a.SetGlobalBlock(next))
	assert.Equal(t, int32(1), a.BlockFor(1).Cursor)
}

func TestIDAllocator_OverlappingBlock_Refused(t *testing.T) {
	a := NewIDAllocator(NewIDConfig(0, 0, 10, 0, 0))
	require.True(t, a.AssignBlock(1, NewIDBlock(1, 10, 10)))

	var ok bool
	output := captureLogOutput(func() { ok = a.AssignBlock(2, NewIDBlock(2, 15, 10)) })

	assert.False(t, ok)
	assert.Nil(t, a.BlockFor(2))
	assert.Contains(t, output, "overlaps")
}

func TestIDAllocator_HighWater_FiresOncePerBlock(t *testing.T) {
	// GIVEN a 10-id block with a 50% high-water mark
	a := NewIDAllocator(NewIDConfig(0, 0, 10, 0.5, 0))
	var fired []*IDBlock
	a.OnHighWater = func(b *IDBlock) { fired = append(fired, b) }

	// WHEN all ten ids are drawn
	for i := 0; i < 10; i++ {
		_, err := a.NextGlobalID()
		require.NoError(t, err)
	}

	// THEN the renewal hook fired exactly once, at the sixth id
	require.Len(t, fired, 1)
	assert.True(t, fired[0].OverflowRequested)
}

func TestIDAllocator_RenewAfterRequest_NextGrantIsDisjoint(t *testing.T) {
	// GIVEN a block that crossed its high-water mark
	a := NewIDAllocator(NewIDConfig(0, 0, 4, 0.5, 0))
	for i := 0; i < 3; i++ {
		_, err := a.NextGlobalID()
		require.NoError(t, err)
	}
	require.True(t, a.GlobalBlock().OverflowRequested)

	// WHEN the next grant is installed
	grant := a.NextGrant(0, 4)
	require.True(t, a.SetGlobalBlock(grant))

	// THEN it starts right after the old block
	assert.Equal(t, int64(4), grant.BlockStart)
	id, err := a.NextGlobalID()
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)
}

func TestIDAllocator_MessageIDs_TransientNegativeHistoricalSequential(t *testing.T) {
	a := NewIDAllocator(NewIDConfig(0, 0, 10, 0, 0))

	assert.Equal(t, int64(0), a.NextMessageID(true))
	assert.Equal(t, int64(-1), a.NextMessageID(false))
	assert.Equal(t, int64(1), a.NextMessageID(true))
	assert.Equal(t, int64(-2), a.NextMessageID(false))
}

func TestIDAllocator_ExportImport_RestoresReplicatedState(t *testing.T) {
	// GIVEN an allocator with a used global block and a participant block
	a := NewIDAllocator(NewIDConfig(0, 0, 10, 0, 0))
	require.True(t, a.AssignBlock(2, NewIDBlock(2, 50, 5)))
	_, _ = a.NextGlobalID()
	_, _ = a.NextIDFor(2)
	a.NextMessageID(true)
	st := a.Export()

	// WHEN more ids are drawn and then the state is imported back
	_, _ = a.NextGlobalID()
	_, _ = a.NextIDFor(2)
	a.NextMessageID(true)
	local := a.NextLocalID()
	a.Import(st)

	// THEN replicated counters rewind while local ones keep going
	id, err := a.NextGlobalID()
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	id, err = a.NextIDFor(2)
	require.NoError(t, err)
	assert.Equal(t, int64(51), id)
	assert.Equal(t, int64(1), a.NextMessageID(true))
	assert.Equal(t, local-1, a.NextLocalID())
}
