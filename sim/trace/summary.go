package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalTicks       int
	ResimulatedTicks int
	TotalCommands    int
	LocalCommands    int
	RemoteCommands   int
	FailedCommands   int
	AllocatedIDs     int
	Reloads          int
	KindDistribution map[string]int // command kind → count of applications
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		KindDistribution: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalTicks = len(st.Ticks)
	for _, t := range st.Ticks {
		if t.Resimulated {
			summary.ResimulatedTicks++
		}
		summary.AllocatedIDs += len(t.AllocatedIDs)
	}

	summary.TotalCommands = len(st.Commands)
	for _, c := range st.Commands {
		summary.KindDistribution[c.Kind]++
		switch c.Execution {
		case "local":
			summary.LocalCommands++
		case "remote":
			summary.RemoteCommands++
		}
		if c.Err != "" {
			summary.FailedCommands++
		}
	}

	summary.Reloads = len(st.Reloads)
	return summary
}
