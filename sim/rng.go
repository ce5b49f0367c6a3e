package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two sessions with the same SimulationKey and the same command stream
// MUST produce bit-for-bit identical results.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemWorkload is the RNG subsystem for scripted command generation.
	// Uses master seed directly; it is never reseeded per tick.
	SubsystemWorkload = "workload"

	// SubsystemWorld is the RNG subsystem for whole-world tick updates.
	SubsystemWorld = "world"
)

// SubsystemRegion returns the subsystem name for region N.
// Regions draw from isolated streams so adding a region never shifts another's draws.
func SubsystemRegion(id RegionID) string {
	return fmt.Sprintf("region_%d", id)
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula:
//   - For SubsystemWorkload: uses masterSeed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName) XOR mix(tick)
//
// Reseed(tick) is called at the start of every simulated tick, so a tick's
// draws depend only on (seed, subsystem, tick). Resimulating a tick after a
// snapshot reload therefore draws the same numbers without saving RNG state.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key        SimulationKey
	tick       int64
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name returns the same *rand.Rand instance until the next Reseed.
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}

	var derivedSeed int64
	if name == SubsystemWorkload {
		derivedSeed = int64(p.key)
	} else {
		derivedSeed = int64(p.key) ^ fnv1a64(name) ^ mixTick(p.tick)
	}

	rng := rand.New(rand.NewSource(derivedSeed))
	p.subsystems[name] = rng
	return rng
}

// Reseed drops every cached stream except the workload stream and derives
// subsequent streams from tick.
func (p *PartitionedRNG) Reseed(tick int64) {
	p.tick = tick
	for name := range p.subsystems {
		if name != SubsystemWorkload {
			delete(p.subsystems, name)
		}
	}
}

// Tick returns the tick the streams are currently derived from.
func (p *PartitionedRNG) Tick() int64 {
	return p.tick
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}

// mixTick spreads consecutive ticks over the seed space (splitmix64 finalizer).
func mixTick(tick int64) int64 {
	z := uint64(tick) + 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}
