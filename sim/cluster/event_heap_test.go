package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockstep-sim/lockstep/sim"
)

func sub(tick, seq int64, p sim.ParticipantID) Submission {
	return Submission{Command: sim.Command{Tick: tick, Seq: seq, Participant: p}}
}

func TestSubmissionHeap_OrdersByTickSeqParticipant(t *testing.T) {
	h := NewSubmissionHeap()
	h.Schedule(sub(5, 2, 0))
	h.Schedule(sub(3, 9, 1))
	h.Schedule(sub(5, 1, 3))
	h.Schedule(sub(5, 1, 2))
	h.Schedule(sub(3, 4, 0))

	var got [][3]int64
	for h.Len() > 0 {
		s, ok := h.PopNext()
		require.True(t, ok)
		got = append(got, [3]int64{s.Command.Tick, s.Command.Seq, int64(s.Command.Participant)})
	}

	assert.Equal(t, [][3]int64{{3, 4, 0}, {3, 9, 1}, {5, 1, 2}, {5, 1, 3}, {5, 2, 0}}, got)
}

func TestSubmissionHeap_Empty(t *testing.T) {
	h := NewSubmissionHeap()

	_, ok := h.Peek()
	assert.False(t, ok)
	_, ok = h.PopNext()
	assert.False(t, ok)
}

func TestSubmissionHeap_PeekDoesNotRemove(t *testing.T) {
	h := NewSubmissionHeap()
	h.Schedule(sub(2, 0, 0))
	h.Schedule(sub(1, 1, 0))

	s, ok := h.Peek()

	require.True(t, ok)
	assert.Equal(t, int64(1), s.Command.Tick)
	assert.Equal(t, 2, h.Len())
}
