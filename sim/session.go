package sim

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lockstep-sim/lockstep/sim/trace"
)

// Host is the simulation being made deterministic. The session calls it
// only from the simulation goroutine, at tick boundaries.
type Host interface {
	// ApplyCommand applies one replicated command.
	ApplyCommand(cc *CommandContext, cmd Command) error
	// Step advances the host's own simulation by one tick, after the tick's commands.
	Step(s *Session, tick int64)
	// SnapshotState serializes the host's replicated state.
	SnapshotState() ([]byte, error)
	// RestoreState replaces the host's replicated state.
	RestoreState(blob []byte) error
}

// Digester is implemented by hosts that can fingerprint their state for desync detection.
type Digester interface {
	Digest() string
}

// Session is the per-participant simulation context: it owns the context
// stack, the scope manager, the id allocator, the execution gate and the
// per-tick RNG, and it is what domain code talks to.
//
// Thread-safety: NOT thread-safe. Every call must come from the single
// simulation goroutine.
type Session struct {
	cfg      SessionConfig
	host     Host
	contexts *ContextStack
	scopes   *ScopeManager
	ids      *IDAllocator
	gate     *ExecutionGate
	rng      *PartitionedRNG
	feedback *FeedbackFilter
	trace    *trace.SimulationTrace

	ticking  bool
	tick     int64 // tick in progress, or the last completed one
	frontier int64 // highest tick ever simulated
	tickIDs  []int64
	tickCmds int

	requestBlock func(GrantPayload)
	outOfSync    string
}

// NewSession creates a session for host. Panics if host is nil.
func NewSession(cfg SessionConfig, host Host) *Session {
	if host == nil {
		panic("Session: host must not be nil")
	}
	s := &Session{
		cfg:      cfg,
		host:     host,
		contexts: NewContextStack(),
		scopes:   NewScopeManager(cfg.MultiParty, cfg.FallbackParty),
		ids:      NewIDAllocator(cfg.IDs),
		gate:     &ExecutionGate{},
		rng:      NewPartitionedRNG(NewSimulationKey(cfg.Seed)),
	}
	s.feedback = NewFeedbackFilter(s.gate, s.ids, logFeedback{})
	s.ids.OnHighWater = s.onHighWater
	return s
}

// Config returns the session configuration.
func (s *Session) Config() SessionConfig { return s.cfg }

// Local returns the participant this session runs for.
func (s *Session) Local() ParticipantID { return s.cfg.LocalParticipant }

// Contexts returns the context stack.
func (s *Session) Contexts() *ContextStack { return s.contexts }

// Scopes returns the scope manager.
func (s *Session) Scopes() *ScopeManager { return s.scopes }

// IDs returns the identifier allocator.
func (s *Session) IDs() *IDAllocator { return s.ids }

// Gate returns the command execution gate.
func (s *Session) Gate() *ExecutionGate { return s.gate }

// RNG returns the per-tick partitioned RNG.
func (s *Session) RNG() *PartitionedRNG { return s.rng }

// Feedback returns the presentation filter domain code must route local-only feedback through.
func (s *Session) Feedback() *FeedbackFilter { return s.feedback }

// Trace returns the attached trace, or nil.
func (s *Session) Trace() *trace.SimulationTrace { return s.trace }

// SetTrace attaches a trace. Must be called between ticks.
func (s *Session) SetTrace(st *trace.SimulationTrace) { s.trace = st }

// SetBlockRequester installs the hook the coordinator uses to put a global
// block grant on the ordered command stream.
func (s *Session) SetBlockRequester(fn func(GrantPayload)) { s.requestBlock = fn }

// Tick returns the tick in progress, or the last completed tick between ticks.
func (s *Session) Tick() int64 { return s.tick }

// Ticking reports whether a tick is in progress.
func (s *Session) Ticking() bool { return s.ticking }

// Frontier returns the highest tick ever simulated by this session.
func (s *Session) Frontier() int64 { return s.frontier }

// OutOfSync reports whether a protocol-level failure was detected, and why.
func (s *Session) OutOfSync() (bool, string) { return s.outOfSync != "", s.outOfSync }

// MarkOutOfSync records a protocol-level failure for the host UI. The first reason wins.
func (s *Session) MarkOutOfSync(reason string) {
	if s.outOfSync != "" {
		return
	}
	s.outOfSync = reason
	logrus.Warnf("[tick %07d] session out of sync: %s", s.tick, reason)
}

// === Domain-facing API ===

// PushScope makes party the visible scope of region; pass the token to PopScope.
func (s *Session) PushScope(region RegionID, party PartyID) ScopeToken {
	return s.scopes.Enter(region, party)
}

// PopScope exits a scope entered by PushScope.
func (s *Session) PopScope(tok ScopeToken) {
	s.scopes.Exit(tok)
}

// InScope runs fn with party scoped onto region.
func (s *Session) InScope(region RegionID, party PartyID, fn func() error) error {
	return s.scopes.Within(region, party, fn)
}

// PushContext makes actor the current actor.
func (s *Session) PushContext(actor Actor) {
	s.contexts.Push(actor)
}

// PopContext undoes PushContext.
func (s *Session) PopContext() {
	s.contexts.Pop()
}

// Acting runs fn with actor as the current actor.
func (s *Session) Acting(actor Actor, fn func() error) error {
	return s.contexts.With(actor, fn)
}

// AllocateID returns a new entity identifier. Inside a tick the identifier
// comes from the global block and is identical on every participant;
// outside a tick the caller is interactive local-only code and gets a
// negative local identifier. Objects that only exist on this participant
// must use AllocateLocalID even inside a tick.
func (s *Session) AllocateID() (int64, error) {
	if !s.ticking {
		return s.ids.NextLocalID(), nil
	}
	id, err := s.ids.NextGlobalID()
	if err != nil {
		s.MarkOutOfSync(fmt.Sprintf("replicated id allocation failed: %v", err))
		return 0, err
	}
	if s.trace.Enabled() {
		s.tickIDs = append(s.tickIDs, id)
	}
	return id, nil
}

// AllocateLocalID returns a negative identifier for a local-only object.
func (s *Session) AllocateLocalID() int64 {
	return s.ids.NextLocalID()
}

// IsReplayingRemoteCommand reports whether a command authored by another
// participant is being applied.
func (s *Session) IsReplayingRemoteCommand() bool {
	return s.gate.ReplayingRemote()
}

// Digest returns the host digest, or "" when the host cannot produce one.
func (s *Session) Digest() string {
	if d, ok := s.host.(Digester); ok {
		return d.Digest()
	}
	return ""
}

// === Tick execution ===

// runTick applies cmds, steps the host and audits stack balance.
func (s *Session) runTick(tick int64, cmds []Command) {
	resim := tick <= s.frontier
	s.ticking = true
	s.tick = tick
	s.tickIDs = nil
	s.tickCmds = 0
	s.rng.Reseed(tick)

	for _, cmd := range cmds {
		s.apply(tick, cmd)
	}
	s.stepHost(tick)
	s.audit()
	s.ticking = false

	if tick > s.frontier {
		s.frontier = tick
	}
	if s.trace.Enabled() {
		rec := trace.TickRecord{
			Tick:         tick,
			Commands:     s.tickCmds,
			AllocatedIDs: s.tickIDs,
			Resimulated:  resim,
		}
		if s.cfg.DigestInterval > 0 && tick%s.cfg.DigestInterval == 0 {
			rec.Digest = s.Digest()
		}
		s.trace.RecordTick(rec)
	}
}

func (s *Session) stepHost(tick int64) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("[tick %07d] host step panicked: %v", tick, r)
			s.MarkOutOfSync(fmt.Sprintf("host step panicked at tick %d", tick))
		}
	}()
	s.host.Step(s, tick)
}

func (s *Session) apply(tick int64, cmd Command) {
	ec := ExecutionFor(cmd.Participant, s.cfg.LocalParticipant)
	cc := &CommandContext{Tick: tick, Execution: ec, Session: s}
	err := s.gate.Apply(ec, func() error {
		if cmd.Kind == KindGrantIDBlock {
			return s.applyGrant(cmd)
		}
		return s.host.ApplyCommand(cc, cmd)
	})
	if err != nil {
		logrus.Warnf("[tick %07d] %s command %q from participant %d (seq %d) failed: %v",
			tick, ec, cmd.Kind, cmd.Participant, cmd.Seq, err)
	}
	s.audit()
	s.tickCmds++

	if s.trace.Enabled() {
		rec := trace.CommandRecord{
			Tick:        tick,
			Participant: int32(cmd.Participant),
			Seq:         cmd.Seq,
			Kind:        cmd.Kind,
			Execution:   ec.String(),
		}
		if err != nil {
			rec.Err = err.Error()
		}
		s.trace.RecordCommand(rec)
	}
}

// audit forces the context stack and every scope stack back to their
// between-operations depth. Each imbalance is logged once by its stack.
func (s *Session) audit() {
	s.contexts.Reset()
	s.scopes.Audit()
}

func (s *Session) applyGrant(cmd Command) error {
	var g GrantPayload
	if err := json.Unmarshal(cmd.Payload, &g); err != nil {
		return fmt.Errorf("decode grant: %w", err)
	}
	if g.Start < 0 || g.Size <= 0 {
		return fmt.Errorf("invalid grant [%d,+%d)", g.Start, g.Size)
	}
	if !s.ids.SetGlobalBlock(NewIDBlock(g.Owner, g.Start, g.Size)) {
		return fmt.Errorf("grant [%d,%d) refused", g.Start, g.Start+int64(g.Size))
	}
	logrus.Infof("[tick %07d] installed global id block [%d,%d)", s.tick, g.Start, g.Start+int64(g.Size))
	return nil
}

func (s *Session) onHighWater(b *IDBlock) {
	if b != s.ids.GlobalBlock() || s.cfg.LocalParticipant != s.cfg.IDs.Coordinator {
		return
	}
	// already requested the first time this tick was simulated
	if s.tick <= s.frontier {
		return
	}
	size := s.cfg.IDs.RenewalBlockSize
	if size <= 0 {
		size = b.BlockSize
	}
	grant := s.ids.NextGrant(s.cfg.IDs.Coordinator, size)
	if s.requestBlock == nil {
		logrus.Warnf("[tick %07d] global id block needs renewal but no block requester is installed", s.tick)
		return
	}
	s.requestBlock(GrantPayload{Owner: grant.Owner, Start: grant.BlockStart, Size: grant.BlockSize})
}

// === Persistence ===

// sessionSnapshot is the blob format of Snapshot: host state plus the
// replicated allocator state, framed for one tick.
type sessionSnapshot struct {
	Tick int64
	IDs  IDAllocatorState
	Host []byte
}

// Snapshot captures the replicated state after tick.
func (s *Session) Snapshot(tick int64) ([]byte, error) {
	hostBlob, err := s.host.SnapshotState()
	if err != nil {
		return nil, fmt.Errorf("host snapshot at tick %d: %w", tick, err)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sessionSnapshot{Tick: tick, IDs: s.ids.Export(), Host: hostBlob}); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore replaces the replicated state with blob and returns its tick.
// Context and scope stacks are forced back to their sentinel depth.
func (s *Session) Restore(blob []byte) (int64, error) {
	var snap sessionSnapshot
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&snap); err != nil {
		return 0, fmt.Errorf("gob decode: %w", err)
	}
	if err := s.host.RestoreState(snap.Host); err != nil {
		return 0, fmt.Errorf("host restore at tick %d: %w", snap.Tick, err)
	}
	s.ids.Import(snap.IDs)
	s.audit()
	s.tick = snap.Tick
	s.rng.Reseed(snap.Tick)
	return snap.Tick, nil
}
