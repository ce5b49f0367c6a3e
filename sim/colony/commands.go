package colony

import (
	"encoding/json"
	"errors"

	"github.com/lockstep-sim/lockstep/sim"
)

// Command kinds understood by Colony.
const (
	KindSpawn     = "colony.spawn"
	KindDesignate = "colony.designate"
	KindMove      = "colony.move"
	KindStockpile = "colony.stockpile"
)

var (
	ErrUnknownCommand = errors.New("unknown command kind")
	ErrUnknownRegion  = errors.New("unknown region")
	ErrUnknownPawn    = errors.New("unknown pawn")
)

type SpawnPayload struct {
	Region sim.RegionID `json:"region"`
	Party  sim.PartyID  `json:"party"`
	Name   string       `json:"name"`
}

type DesignatePayload struct {
	Region sim.RegionID `json:"region"`
	Party  sim.PartyID  `json:"party"`
	X      int          `json:"x"`
	Y      int          `json:"y"`
	Kind   string       `json:"kind"`
}

// MovePayload moves a pawn to another region. The pawn is addressed by
// Name when set, otherwise by its id; scripted clients only know names.
type MovePayload struct {
	Pawn int64        `json:"pawn"`
	Name string       `json:"name,omitempty"`
	To   sim.RegionID `json:"to"`
}

type StockpilePayload struct {
	Region sim.RegionID `json:"region"`
	Party  sim.PartyID  `json:"party"`
	Amount int64        `json:"amount"`
}

// NewCommand builds a command of kind carrying payload. The tick and
// sequence number are assigned by whoever orders the stream.
func NewCommand(author sim.ParticipantID, kind string, payload any) sim.Command {
	b, err := json.Marshal(payload)
	if err != nil {
		// payload types above always marshal
		panic(err)
	}
	return sim.Command{Participant: author, Kind: kind, Payload: b}
}
