package cluster

import (
	"errors"

	"github.com/lockstep-sim/lockstep/sim"
)

// ErrSettingsMismatch is returned by Replay when the session configuration
// differs from the settings recorded in the journal.
var ErrSettingsMismatch = errors.New("session settings differ from the journal")

// Submission is a command waiting in the relay for its tick to close.
type Submission struct {
	Command  sim.Command
	IssuedAt int64 // tick the author was on when it issued the command
}

// LateJoin makes a participant absent until tick At. On joining it
// receives the full ordered stream and catches up in bounded batches.
type LateJoin struct {
	Participant sim.ParticipantID
	At          int64
}

// Rewind makes a participant scrub back to tick To during round At and
// then resimulate forward to the shared tick.
type Rewind struct {
	Participant sim.ParticipantID
	At          int64
	To          int64
}

// Desync records a digest mismatch between participants at a tick.
type Desync struct {
	Tick    int64
	Digests map[sim.ParticipantID]string
}

// Recorder receives the ordered stream as the relay releases it.
// *journal.Writer implements it.
type Recorder interface {
	WriteCommand(cmd sim.Command) error
	WriteDigest(tick int64, digest string) error
}
