package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	for _, st := range []*SimulationTrace{nil, NewSimulationTrace(TraceConfig{Level: TraceLevelTicks})} {
		s := Summarize(st)
		assert.Equal(t, 0, s.TotalTicks)
		assert.Equal(t, 0, s.TotalCommands)
		assert.Equal(t, 0, s.Reloads)
		assert.NotNil(t, s.KindDistribution)
		assert.Empty(t, s.KindDistribution)
	}
}

func TestSummarize_PopulatedTrace_CorrectCounts(t *testing.T) {
	// GIVEN a trace with a reload and mixed local/remote commands
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelTicks})
	st.RecordTick(TickRecord{Tick: 1, Commands: 2, AllocatedIDs: []int64{0, 1}})
	st.RecordTick(TickRecord{Tick: 2, Commands: 1, AllocatedIDs: []int64{2}})
	st.RecordTick(TickRecord{Tick: 2, Commands: 1, AllocatedIDs: []int64{2}, Resimulated: true})
	st.RecordCommand(CommandRecord{Tick: 1, Kind: "colony.spawn", Execution: "local"})
	st.RecordCommand(CommandRecord{Tick: 1, Kind: "colony.spawn", Execution: "remote"})
	st.RecordCommand(CommandRecord{Tick: 2, Kind: "colony.move", Execution: "remote", Err: "unknown pawn"})
	st.RecordReload(ReloadRecord{FromTick: 2, SnapshotTick: 1, TargetTick: 2})

	// WHEN summarized
	s := Summarize(st)

	// THEN every counter reflects the records
	assert.Equal(t, 3, s.TotalTicks)
	assert.Equal(t, 1, s.ResimulatedTicks)
	assert.Equal(t, 4, s.AllocatedIDs)
	assert.Equal(t, 3, s.TotalCommands)
	assert.Equal(t, 1, s.LocalCommands)
	assert.Equal(t, 2, s.RemoteCommands)
	assert.Equal(t, 1, s.FailedCommands)
	assert.Equal(t, 1, s.Reloads)
	assert.Equal(t, map[string]int{"colony.spawn": 2, "colony.move": 1}, s.KindDistribution)
}
