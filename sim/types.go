package sim

// Identity types
type ParticipantID int32
type PartyID int32
type RegionID int32

const (
	// NoRegion marks a context frame or actor that is not placed in any region.
	NoRegion RegionID = -1

	// NeutralParty is the fallback party whose sub-state a region exposes
	// when no scope is active on it.
	NeutralParty PartyID = 0

	// Observer is a participant identity that never authors commands.
	// Local replay sessions run as Observer so every command is remote.
	Observer ParticipantID = -1
)

// Actor is anything that can be "currently acting" inside a context frame.
// Region reports where the actor is placed right now; the context stack
// compares it against the region captured at push time.
type Actor interface {
	ActorID() int64
	Region() RegionID
}
