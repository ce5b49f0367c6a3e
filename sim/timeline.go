package sim

import (
	"errors"
	"fmt"
)

// NoTarget marks a timeline with no pending skip target.
const NoTarget int64 = -1

// ErrNoSnapshot is returned by a SnapshotStore holding no snapshot at or before the requested tick.
var ErrNoSnapshot = errors.New("no snapshot at or before tick")

// ControllerState is the tick controller's mode.
type ControllerState int

const (
	StatePaused ControllerState = iota
	StateRunning
	StateCatchingUp
	StateRewinding
)

func (s ControllerState) String() string {
	switch s {
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	case StateCatchingUp:
		return "catching-up"
	case StateRewinding:
		return "rewinding"
	default:
		return fmt.Sprintf("ControllerState(%d)", int(s))
	}
}

// TimelineState is the controller's view of simulated time.
// CurrentTick only decreases through a snapshot reload.
type TimelineState struct {
	CurrentTick       int64
	TargetTick        int64 // NoTarget when idle
	ReplayWindowStart int64
	ReplayWindowEnd   int64 // -1 = unbounded
}

// HasTarget reports whether a skip target is pending.
func (t TimelineState) HasTarget() bool {
	return t.TargetTick != NoTarget
}

// clamp bounds tick to the replay window.
func (t TimelineState) clamp(tick int64) int64 {
	if tick < t.ReplayWindowStart {
		tick = t.ReplayWindowStart
	}
	if t.ReplayWindowEnd >= 0 && tick > t.ReplayWindowEnd {
		tick = t.ReplayWindowEnd
	}
	return tick
}

// SnapshotStore holds session snapshots keyed by tick for the rewind path.
// Implementations live in sim/snapshot.
type SnapshotStore interface {
	// Put stores blob as the snapshot taken after tick, replacing any previous one.
	Put(tick int64, blob []byte) error
	// LatestAtOrBefore returns the newest snapshot whose tick is <= tick,
	// or an error wrapping ErrNoSnapshot.
	LatestAtOrBefore(tick int64) (int64, []byte, error)
	// Prune keeps the oldest snapshot (the baseline) and the newest keep others.
	Prune(keep int) error
}

// Persister is the persistence collaborator of the rewind path.
// *Session implements it.
type Persister interface {
	Snapshot(tick int64) ([]byte, error)
	Restore(blob []byte) (int64, error)
}

var _ Persister = (*Session)(nil)
