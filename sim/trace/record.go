// Package trace provides tick-trace recording for lockstep sessions.
// It has no dependencies on sim/ and stores plain data types.
package trace

// TickRecord captures one simulated tick.
type TickRecord struct {
	Tick         int64
	Commands     int     // commands applied during the tick
	AllocatedIDs []int64 // replicated ids drawn during the tick, in order
	Digest       string  // host digest after the tick ("" when not sampled)
	Resimulated  bool    // true when the tick was simulated again after a reload
}

// CommandRecord captures a single command application.
type CommandRecord struct {
	Tick        int64
	Participant int32
	Seq         int64
	Kind        string
	Execution   string // "local" or "remote"
	Err         string // empty on success
}

// ReloadRecord captures a rewind: the snapshot reloaded to reach TargetTick.
type ReloadRecord struct {
	FromTick     int64
	SnapshotTick int64
	TargetTick   int64
}
