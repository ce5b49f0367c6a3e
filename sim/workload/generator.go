package workload

import (
	"fmt"
	"math/rand"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/colony"
)

// Scripted is a command a participant issues at IssuedAt. The relay that
// orders the stream assigns its execution tick and sequence number.
type Scripted struct {
	IssuedAt int64
	Command  sim.Command
}

var designationKinds = []string{"mine", "chop", "haul", "build"}

// Generate expands a scenario into its command script.
// Deterministic given the same scenario and seed.
// Returns commands ordered by issue tick, then by client order.
func Generate(sc *Scenario) ([]Scripted, error) {
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(sc.Seed))
	workloadRNG := rng.ForSubsystem(sim.SubsystemWorkload)

	// per-client RNGs are derived up front so adding a client appends streams
	clientRNGs := make([]*rand.Rand, len(sc.Clients))
	for i := range sc.Clients {
		clientRNGs[i] = rand.New(rand.NewSource(workloadRNG.Int63()))
	}

	spawned := make([]bool, len(sc.Clients))
	names := make([][]string, len(sc.Clients)) // pawns each client has spawned, in issue order
	var out []Scripted
	for tick := int64(1); tick <= sc.Horizon; tick++ {
		for i := range sc.Clients {
			c := &sc.Clients[i]
			if !c.Active(tick) {
				continue
			}
			r := clientRNGs[i]
			author := sim.ParticipantID(c.Participant)
			party := sim.PartyID(c.Party)
			home := sim.RegionID(c.Region)
			// only pawns issued on earlier ticks can be moved
			movable := names[i]

			if !spawned[i] {
				spawned[i] = true
				for p := 0; p < c.Pawns; p++ {
					name := fmt.Sprintf("%s-%d", c.ID, p)
					names[i] = append(names[i], name)
					out = append(out, Scripted{IssuedAt: tick, Command: colony.NewCommand(author, colony.KindSpawn,
						colony.SpawnPayload{Region: home, Party: party, Name: name})})
				}
			}
			if r.Float64() < c.Rates.Spawn {
				name := fmt.Sprintf("%s-t%d", c.ID, tick)
				names[i] = append(names[i], name)
				out = append(out, Scripted{IssuedAt: tick, Command: colony.NewCommand(author, colony.KindSpawn,
					colony.SpawnPayload{Region: home, Party: party, Name: name})})
			}
			if r.Float64() < c.Rates.Designate {
				out = append(out, Scripted{IssuedAt: tick, Command: colony.NewCommand(author, colony.KindDesignate,
					colony.DesignatePayload{
						Region: sim.RegionID(r.Intn(sc.Regions)),
						Party:  party,
						X:      r.Intn(64),
						Y:      r.Intn(64),
						Kind:   designationKinds[r.Intn(len(designationKinds))],
					})})
			}
			if r.Float64() < c.Rates.Stockpile {
				out = append(out, Scripted{IssuedAt: tick, Command: colony.NewCommand(author, colony.KindStockpile,
					colony.StockpilePayload{Region: home, Party: party, Amount: int64(r.Intn(5)) - 1})})
			}
			// a zero move rate draws nothing
			if c.Rates.Move > 0 && r.Float64() < c.Rates.Move && len(movable) > 0 {
				out = append(out, Scripted{IssuedAt: tick, Command: colony.NewCommand(author, colony.KindMove,
					colony.MovePayload{
						Name: movable[r.Intn(len(movable))],
						To:   sim.RegionID(r.Intn(sc.Regions)),
					})})
			}
		}
	}
	return out, nil
}

// DefaultScenario returns a scenario with n participants, each leading its
// own party from its own home region.
func DefaultScenario(n int, seed, horizon int64) *Scenario {
	sc := &Scenario{
		Version:      CurrentVersion,
		Name:         "default",
		Seed:         seed,
		Horizon:      horizon,
		Regions:      n,
		CommandDelay: 2,
	}
	for i := 0; i < n; i++ {
		sc.Clients = append(sc.Clients, ClientSpec{
			ID:          fmt.Sprintf("client-%d", i),
			Participant: int32(i),
			Party:       int32(i + 1),
			Region:      i,
			Pawns:       2,
			Rates:       RateSpec{Designate: 0.2, Stockpile: 0.05, Spawn: 0.01, Move: 0.02},
		})
	}
	return sc
}
