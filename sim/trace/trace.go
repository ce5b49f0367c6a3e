package trace

// TraceLevel controls the verbosity of tick tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelTicks captures every simulated tick, applied command and allocated id.
	TraceLevelTicks TraceLevel = "ticks"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:  true,
	TraceLevelTicks: true,
	"":              true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects tick records during a session.
type SimulationTrace struct {
	Config   TraceConfig
	Ticks    []TickRecord
	Commands []CommandRecord
	Reloads  []ReloadRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:   config,
		Ticks:    make([]TickRecord, 0),
		Commands: make([]CommandRecord, 0),
		Reloads:  make([]ReloadRecord, 0),
	}
}

// Enabled reports whether records should be collected. Safe on nil.
func (st *SimulationTrace) Enabled() bool {
	return st != nil && st.Config.Level == TraceLevelTicks
}

// RecordTick appends a tick record.
func (st *SimulationTrace) RecordTick(record TickRecord) {
	st.Ticks = append(st.Ticks, record)
}

// RecordCommand appends a command application record.
func (st *SimulationTrace) RecordCommand(record CommandRecord) {
	st.Commands = append(st.Commands, record)
}

// RecordReload appends a snapshot reload record.
func (st *SimulationTrace) RecordReload(record ReloadRecord) {
	st.Reloads = append(st.Reloads, record)
}

// Digests returns the digest recorded for each tick. When a tick was
// simulated more than once the latest record wins.
func (st *SimulationTrace) Digests() map[int64]string {
	out := make(map[int64]string)
	if st == nil {
		return out
	}
	for _, r := range st.Ticks {
		if r.Digest != "" {
			out[r.Tick] = r.Digest
		}
	}
	return out
}

// AllocatedIDs returns every id allocated on first simulation of a tick, in order.
// Resimulated ticks are skipped so the sequence matches a forward-only run.
func (st *SimulationTrace) AllocatedIDs() []int64 {
	var out []int64
	if st == nil {
		return out
	}
	for _, r := range st.Ticks {
		if !r.Resimulated {
			out = append(out, r.AllocatedIDs...)
		}
	}
	return out
}
