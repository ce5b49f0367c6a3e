package snapshot

import (
	"fmt"
	"sort"

	"github.com/lockstep-sim/lockstep/sim"
)

// MemoryStore keeps compressed snapshots in memory, ordered by tick.
//
// Thread-safety: NOT thread-safe. Used from the simulation goroutine.
type MemoryStore struct {
	ticks []int64 // ascending
	blobs map[int64][]byte

	storedBytes int64
}

var _ sim.SnapshotStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[int64][]byte)}
}

// Put stores blob for tick, replacing an earlier snapshot of the same tick.
func (m *MemoryStore) Put(tick int64, blob []byte) error {
	z, err := compress(blob)
	if err != nil {
		return err
	}
	if old, ok := m.blobs[tick]; ok {
		m.storedBytes -= int64(len(old))
	} else {
		i := sort.Search(len(m.ticks), func(i int) bool { return m.ticks[i] > tick })
		m.ticks = append(m.ticks, 0)
		copy(m.ticks[i+1:], m.ticks[i:])
		m.ticks[i] = tick
	}
	m.blobs[tick] = z
	m.storedBytes += int64(len(z))
	return nil
}

// LatestAtOrBefore returns the newest snapshot taken at or before tick.
func (m *MemoryStore) LatestAtOrBefore(tick int64) (int64, []byte, error) {
	i := sort.Search(len(m.ticks), func(i int) bool { return m.ticks[i] > tick }) - 1
	if i < 0 {
		return 0, nil, fmt.Errorf("tick %d: %w", tick, sim.ErrNoSnapshot)
	}
	at := m.ticks[i]
	blob, err := decompress(m.blobs[at])
	if err != nil {
		return 0, nil, fmt.Errorf("snapshot at tick %d: %w", at, err)
	}
	return at, blob, nil
}

// Prune keeps the baseline and the newest keep snapshots.
func (m *MemoryStore) Prune(keep int) error {
	if keep < 0 {
		return fmt.Errorf("prune: keep must be >= 0, got %d", keep)
	}
	if len(m.ticks) <= keep+1 {
		return nil
	}
	drop := m.ticks[1 : len(m.ticks)-keep]
	for _, t := range drop {
		m.storedBytes -= int64(len(m.blobs[t]))
		delete(m.blobs, t)
	}
	m.ticks = append(m.ticks[:1], m.ticks[len(m.ticks)-keep:]...)
	return nil
}

// Ticks returns the stored ticks in ascending order.
func (m *MemoryStore) Ticks() []int64 {
	return append([]int64(nil), m.ticks...)
}

// Len returns the number of stored snapshots.
func (m *MemoryStore) Len() int { return len(m.ticks) }

// StoredBytes returns the compressed size of the held snapshots.
func (m *MemoryStore) StoredBytes() int64 { return m.storedBytes }
