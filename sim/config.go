package sim

// TimingConfig groups tick pacing parameters.
type TimingConfig struct {
	TicksPerSecond   int       // ticks per real second at multiplier 1 (must be > 0)
	MaxTicksPerFrame int       // cap on ticks simulated per host frame, running or catching up (must be > 0)
	InitialSpeed     TimeSpeed // speed applied when the controller starts running
	ForcedNormal     bool      // slow-mode override pinning the multiplier to 1
	AckGated         bool      // never advance past the transport-acknowledged tick
}

// IDConfig groups identifier partitioning parameters.
type IDConfig struct {
	Coordinator      ParticipantID // participant holding the global block
	GlobalBlockStart int64         // first identifier of the initial global block
	GlobalBlockSize  int32         // size of the initial global block (0 = none)
	HighWater        float64       // used fraction that triggers a renewal request (0 = never)
	RenewalBlockSize int32         // size of renewed global blocks (0 = same as initial)
}

// SnapshotConfig groups rewind snapshot parameters.
type SnapshotConfig struct {
	Interval int64 // take a snapshot every Interval ticks (0 = baseline only)
	Retain   int   // snapshots kept besides the baseline (0 = unlimited)
}

// SessionConfig groups everything a Session and its Controller need.
type SessionConfig struct {
	Seed             int64
	LocalParticipant ParticipantID // Observer for local replay sessions
	MultiParty       bool          // enables scope entry; false preserves single-party behavior
	FallbackParty    PartyID       // party exposed by regions with no active scope
	DigestInterval   int64         // record a host digest every DigestInterval ticks (0 = never)

	Timing    TimingConfig
	IDs       IDConfig
	Snapshots SnapshotConfig
}

// NewTimingConfig creates a TimingConfig. All fields are explicit; zero values are kept.
func NewTimingConfig(ticksPerSecond, maxTicksPerFrame int, speed TimeSpeed, forcedNormal, ackGated bool) TimingConfig {
	return TimingConfig{
		TicksPerSecond:   ticksPerSecond,
		MaxTicksPerFrame: maxTicksPerFrame,
		InitialSpeed:     speed,
		ForcedNormal:     forcedNormal,
		AckGated:         ackGated,
	}
}

// NewIDConfig creates an IDConfig. All fields are explicit; zero values are kept.
func NewIDConfig(coordinator ParticipantID, start int64, size int32, highWater float64, renewal int32) IDConfig {
	return IDConfig{
		Coordinator:      coordinator,
		GlobalBlockStart: start,
		GlobalBlockSize:  size,
		HighWater:        highWater,
		RenewalBlockSize: renewal,
	}
}

// NewSnapshotConfig creates a SnapshotConfig.
func NewSnapshotConfig(interval int64, retain int) SnapshotConfig {
	return SnapshotConfig{Interval: interval, Retain: retain}
}

// DefaultSessionConfig returns the configuration used when nothing is overridden:
// 60 ticks/s, catch-up batches of 200 ticks, one global block of 1,000,000 ids
// renewed at 95%, a snapshot every 300 ticks.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Seed:             42,
		LocalParticipant: 0,
		MultiParty:       true,
		FallbackParty:    NeutralParty,
		DigestInterval:   60,
		Timing:           NewTimingConfig(60, 200, SpeedNormal, false, false),
		IDs:              NewIDConfig(0, 0, 1_000_000, 0.95, 0),
		Snapshots:        NewSnapshotConfig(300, 0),
	}
}
