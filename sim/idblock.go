package sim

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

var (
	// ErrBlockExhausted is returned when a block has no identifiers left.
	ErrBlockExhausted = errors.New("id block exhausted")
	// ErrNoBlock is returned when allocating from an owner that holds no block.
	ErrNoBlock = errors.New("no id block assigned")
)

// IDBlock is a contiguous range [BlockStart, BlockStart+BlockSize) of the
// shared identifier space. Cursor only moves forward.
type IDBlock struct {
	Owner      ParticipantID
	BlockStart int64
	BlockSize  int32
	Cursor     int32

	// set once the high-water mark was crossed and a renewal was requested
	OverflowRequested bool
}

// NewIDBlock creates an unused block. Panics on a negative start or
// non-positive size: block-issued identifiers are always non-negative.
func NewIDBlock(owner ParticipantID, start int64, size int32) *IDBlock {
	if start < 0 {
		panic(fmt.Sprintf("IDBlock: BlockStart must be >= 0, got %d", start))
	}
	if size <= 0 {
		panic(fmt.Sprintf("IDBlock: BlockSize must be > 0, got %d", size))
	}
	if start > math.MaxInt64-int64(size) {
		panic(fmt.Sprintf("IDBlock: range starting at %d overflows int64", start))
	}
	return &IDBlock{Owner: owner, BlockStart: start, BlockSize: size}
}

// End returns the first identifier past the block.
func (b *IDBlock) End() int64 { return b.BlockStart + int64(b.BlockSize) }

// Remaining returns how many identifiers are left.
func (b *IDBlock) Remaining() int32 { return b.BlockSize - b.Cursor }

// Exhausted reports whether every identifier has been handed out.
func (b *IDBlock) Exhausted() bool { return b.Cursor >= b.BlockSize }

// InUse reports whether the block has issued identifiers and can still issue more.
func (b *IDBlock) InUse() bool { return b.Cursor > 0 && !b.Exhausted() }

// Overlaps reports whether two blocks share any identifier.
func (b *IDBlock) Overlaps(o *IDBlock) bool {
	return b.BlockStart < o.End() && o.BlockStart < b.End()
}

// PastHighWater reports whether the used fraction exceeds ratio.
func (b *IDBlock) PastHighWater(ratio float64) bool {
	return float64(b.Cursor) > float64(b.BlockSize)*ratio
}

// NextID returns the next identifier of the block.
func (b *IDBlock) NextID() (int64, error) {
	if b.Exhausted() {
		return 0, fmt.Errorf("block [%d,%d) owner %d: %w", b.BlockStart, b.End(), b.Owner, ErrBlockExhausted)
	}
	id := b.BlockStart + int64(b.Cursor)
	b.Cursor++
	return id, nil
}

// IDAllocatorState is the replicated part of an allocator, captured in snapshots.
// Local (negative) counters never leave the participant and are not part of it.
type IDAllocatorState struct {
	Global     *IDBlock
	Blocks     []IDBlock
	Issued     []IDBlock
	MessageSeq int64
}

// IDAllocator partitions the identifier space into disjoint blocks.
// The global block serves every identifier produced while applying replicated
// commands or ticking; interactive local-only objects draw strictly negative
// identifiers from a decrementing counter.
//
// Thread-safety: NOT thread-safe. Owned by the single simulation goroutine.
type IDAllocator struct {
	cfg    IDConfig
	global *IDBlock
	blocks map[ParticipantID]*IDBlock
	// every block ever installed, for the disjointness check
	issued []IDBlock

	localNext   int64
	messageNext int64
	messageSeq  int64

	// OnHighWater is invoked once per block when its use crosses cfg.HighWater.
	OnHighWater func(b *IDBlock)

	conflicts int
}

// NewIDAllocator creates an allocator holding the configured global block.
func NewIDAllocator(cfg IDConfig) *IDAllocator {
	a := &IDAllocator{
		cfg:         cfg,
		blocks:      make(map[ParticipantID]*IDBlock),
		localNext:   -1,
		messageNext: -1,
	}
	if cfg.GlobalBlockSize > 0 {
		a.SetGlobalBlock(NewIDBlock(cfg.Coordinator, cfg.GlobalBlockStart, cfg.GlobalBlockSize))
	}
	return a
}

// GlobalBlock returns the block currently serving replicated identifiers.
func (a *IDAllocator) GlobalBlock() *IDBlock { return a.global }

// BlockFor returns owner's block, or nil.
func (a *IDAllocator) BlockFor(owner ParticipantID) *IDBlock { return a.blocks[owner] }

// Conflicts returns how many block installations were refused.
func (a *IDAllocator) Conflicts() int { return a.conflicts }

// SetGlobalBlock installs b as the global block. It is refused, with a
// warning, when b overlaps any block ever installed or when the current global
// block is still in use and has not asked for renewal; the previous
// assignment then stays in place.
func (a *IDAllocator) SetGlobalBlock(b *IDBlock) bool {
	if a.global == b {
		return true
	}
	if a.global != nil && a.global.InUse() && !a.global.OverflowRequested {
		a.conflicts++
		logrus.Warnf("id allocator: reassigning the global id block [%d,%d) while in use (cursor %d), keeping it",
			a.global.BlockStart, a.global.End(), a.global.Cursor)
		return false
	}
	if !a.checkDisjoint(b) {
		return false
	}
	a.global = b
	a.issued = append(a.issued, *b)
	return true
}

// AssignBlock installs b as owner's block, with the same refusal rules as
// SetGlobalBlock. Session never installs owner blocks: replicated ids come
// from the global block only. Owner blocks are for hosts that hand a
// participant its own range and need it kept disjoint from the global one.
func (a *IDAllocator) AssignBlock(owner ParticipantID, b *IDBlock) bool {
	if cur, ok := a.blocks[owner]; ok && cur != b && cur.InUse() && !cur.OverflowRequested {
		a.conflicts++
		logrus.Warnf("id allocator: reassigning block of participant %d while in use, keeping [%d,%d)",
			owner, cur.BlockStart, cur.End())
		return false
	}
	if !a.checkDisjoint(b) {
		return false
	}
	b.Owner = owner
	a.blocks[owner] = b
	a.issued = append(a.issued, *b)
	return true
}

func (a *IDAllocator) checkDisjoint(b *IDBlock) bool {
	for i := range a.issued {
		prev := &a.issued[i]
		if prev.Overlaps(b) {
			a.conflicts++
			logrus.Warnf("id allocator: block [%d,%d) for participant %d overlaps [%d,%d) of participant %d, refusing",
				b.BlockStart, b.End(), b.Owner, prev.BlockStart, prev.End(), prev.Owner)
			return false
		}
	}
	return true
}

// NextGrant returns a fresh block of size starting right after the highest
// identifier ever issued, so it is disjoint from every installed block.
func (a *IDAllocator) NextGrant(owner ParticipantID, size int32) *IDBlock {
	var start int64
	for i := range a.issued {
		if end := a.issued[i].End(); end > start {
			start = end
		}
	}
	return NewIDBlock(owner, start, size)
}

// NextGlobalID draws from the global block.
func (a *IDAllocator) NextGlobalID() (int64, error) {
	if a.global == nil {
		return 0, fmt.Errorf("global: %w", ErrNoBlock)
	}
	id, err := a.global.NextID()
	if err != nil {
		return 0, err
	}
	a.checkHighWater(a.global)
	return id, nil
}

// NextIDFor draws from owner's block.
func (a *IDAllocator) NextIDFor(owner ParticipantID) (int64, error) {
	b, ok := a.blocks[owner]
	if !ok {
		return 0, fmt.Errorf("participant %d: %w", owner, ErrNoBlock)
	}
	id, err := b.NextID()
	if err != nil {
		return 0, err
	}
	a.checkHighWater(b)
	return id, nil
}

// NextLocalID returns the next strictly negative identifier, -1, -2, ...
// These never collide with block-issued identifiers and are never replicated.
func (a *IDAllocator) NextLocalID() int64 {
	id := a.localNext
	a.localNext--
	return id
}

// NextMessageID numbers a message. Historical messages are part of the
// replicated history and take the next deterministic sequence number;
// transient ones take a negative number that never disturbs that sequence.
func (a *IDAllocator) NextMessageID(historical bool) int64 {
	if !historical {
		id := a.messageNext
		a.messageNext--
		return id
	}
	id := a.messageSeq
	a.messageSeq++
	return id
}

func (a *IDAllocator) checkHighWater(b *IDBlock) {
	if b.OverflowRequested || a.cfg.HighWater <= 0 || !b.PastHighWater(a.cfg.HighWater) {
		return
	}
	b.OverflowRequested = true
	logrus.Infof("id allocator: block [%d,%d) of participant %d past %.0f%%, requesting renewal",
		b.BlockStart, b.End(), b.Owner, a.cfg.HighWater*100)
	if a.OnHighWater != nil {
		a.OnHighWater(b)
	}
}

// Export captures the replicated allocator state.
func (a *IDAllocator) Export() IDAllocatorState {
	st := IDAllocatorState{MessageSeq: a.messageSeq}
	if a.global != nil {
		g := *a.global
		st.Global = &g
	}
	owners := make([]ParticipantID, 0, len(a.blocks))
	for o := range a.blocks {
		owners = append(owners, o)
	}
	sortParticipants(owners)
	for _, o := range owners {
		st.Blocks = append(st.Blocks, *a.blocks[o])
	}
	st.Issued = append(st.Issued, a.issued...)
	return st
}

// Import replaces the replicated state with st. Local counters keep running.
func (a *IDAllocator) Import(st IDAllocatorState) {
	a.global = nil
	if st.Global != nil {
		g := *st.Global
		a.global = &g
	}
	a.blocks = make(map[ParticipantID]*IDBlock, len(st.Blocks))
	for i := range st.Blocks {
		b := st.Blocks[i]
		a.blocks[b.Owner] = &b
	}
	a.issued = append(a.issued[:0], st.Issued...)
	a.messageSeq = st.MessageSeq
}
