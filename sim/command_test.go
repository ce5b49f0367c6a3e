package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandLog_Add_OrdersBySeqThenParticipant(t *testing.T) {
	// GIVEN commands for one tick added out of order
	l := NewCommandLog()
	l.Add(cmd(5, 2, 3, "c"))
	l.Add(cmd(5, 1, 3, "b"))
	l.Add(cmd(5, 9, 1, "a"))
	l.Add(cmd(6, 0, 0, "d"))

	// THEN the tick's commands come back by (seq, participant)
	var kinds []string
	for _, c := range l.At(5) {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []string{"a", "b", "c"}, kinds)
	assert.Len(t, l.At(6), 1)
	assert.Empty(t, l.At(7))
	assert.Equal(t, 4, l.Len())
}
