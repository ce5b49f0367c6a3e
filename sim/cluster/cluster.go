package cluster

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/colony"
	"github.com/lockstep-sim/lockstep/sim/snapshot"
	"github.com/lockstep-sim/lockstep/sim/trace"
	"github.com/lockstep-sim/lockstep/sim/workload"
)

// StoreFactory creates the rewind snapshot store of one participant.
type StoreFactory func(id sim.ParticipantID) (sim.SnapshotStore, error)

// Config configures a ClusterSimulator. Session is the template every
// participant's session is built from; LocalParticipant and Seed are
// overridden per peer and the controller is always ack-gated and paused
// between rounds.
type Config struct {
	Session    sim.SessionConfig
	LateJoins  []LateJoin
	Rewinds    []Rewind
	NewStore   StoreFactory     // nil = in-memory stores
	TraceLevel trace.TraceLevel // per-peer tick tracing
	Recorder   Recorder         // receives the released stream; may be nil
}

// Peer is one participant: its colony, session and controller.
type Peer struct {
	ID         sim.ParticipantID
	JoinedAt   int64
	Colony     *colony.Colony
	Session    *sim.Session
	Controller *sim.Controller
}

// PeerResult is the end-of-run state of one participant.
type PeerResult struct {
	ID        sim.ParticipantID
	JoinedAt  int64
	Tick      int64
	Digest    string
	Pawns     int
	Reloads   int
	OutOfSync string
	Summary   *trace.TraceSummary
}

// Result is the outcome of a cluster run.
type Result struct {
	Ticks    int64
	Commands int // commands released by the relay
	Grants   int // id block renewals requested
	Dropped  int // scripted commands of participants not yet joined
	Desyncs  []Desync
	Peers    []PeerResult
}

// Consistent reports whether every digest check matched and no participant went out of sync.
func (r *Result) Consistent() bool {
	if len(r.Desyncs) > 0 {
		return false
	}
	for _, p := range r.Peers {
		if p.OutOfSync != "" {
			return false
		}
	}
	return true
}

// ClusterSimulator runs N lockstep participants of a scripted scenario
// behind one relay. Every round the relay closes one tick; each
// participant then simulates up to it. Digests are compared across
// participants at every digest interval.
type ClusterSimulator struct {
	config   Config
	scenario *workload.Scenario
	hub      *Hub
	waiting  []LateJoin
	grants   int
	dropped  int
	desyncs  []Desync
	hasRun   bool
}

// NewClusterSimulator validates the scenario against config.
// Panics if scenario is nil.
func NewClusterSimulator(config Config, scenario *workload.Scenario) (*ClusterSimulator, error) {
	if scenario == nil {
		panic("ClusterSimulator: scenario must not be nil")
	}
	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if config.Session.Timing.MaxTicksPerFrame <= 0 {
		return nil, fmt.Errorf("MaxTicksPerFrame must be > 0, got %d", config.Session.Timing.MaxTicksPerFrame)
	}
	known := make(map[sim.ParticipantID]bool, len(scenario.Clients))
	for _, c := range scenario.Clients {
		known[sim.ParticipantID(c.Participant)] = true
	}
	coord := config.Session.IDs.Coordinator
	if !known[coord] {
		return nil, fmt.Errorf("id coordinator %d is not a scenario participant", coord)
	}
	for _, lj := range config.LateJoins {
		if !known[lj.Participant] {
			return nil, fmt.Errorf("late joiner %d is not a scenario participant", lj.Participant)
		}
		if lj.Participant == coord {
			return nil, fmt.Errorf("id coordinator %d cannot join late", coord)
		}
		if lj.At < 1 {
			return nil, fmt.Errorf("late joiner %d: join tick must be >= 1, got %d", lj.Participant, lj.At)
		}
	}
	for _, rw := range config.Rewinds {
		if !known[rw.Participant] {
			return nil, fmt.Errorf("rewind participant %d is not a scenario participant", rw.Participant)
		}
		if rw.To < 0 || rw.To > rw.At {
			return nil, fmt.Errorf("rewind of participant %d: target %d outside [0,%d]", rw.Participant, rw.To, rw.At)
		}
	}
	hub := NewHub(scenario.CommandDelay)
	hub.SetRecorder(config.Recorder)
	return &ClusterSimulator{
		config:   config,
		scenario: scenario,
		hub:      hub,
	}, nil
}

// Hub returns the relay.
func (c *ClusterSimulator) Hub() *Hub { return c.hub }

// Horizon returns the last round: the scenario horizon plus the command
// delay, so every scripted command executes.
func (c *ClusterSimulator) Horizon() int64 {
	return c.scenario.Horizon + c.scenario.CommandDelay
}

// Run generates the command script and plays it through every participant.
// Panics if called more than once.
func (c *ClusterSimulator) Run() (*Result, error) {
	if c.hasRun {
		panic("ClusterSimulator.Run() called more than once")
	}
	c.hasRun = true

	script, err := workload.Generate(c.scenario)
	if err != nil {
		return nil, err
	}

	late := make(map[sim.ParticipantID]bool, len(c.config.LateJoins))
	for _, lj := range c.config.LateJoins {
		late[lj.Participant] = true
		c.waiting = append(c.waiting, lj)
	}
	sort.SliceStable(c.waiting, func(i, j int) bool { return c.waiting[i].At < c.waiting[j].At })
	for _, id := range c.participants() {
		if late[id] {
			continue
		}
		if err := c.join(id, 0); err != nil {
			return nil, err
		}
	}

	horizon := c.Horizon()
	next := 0
	for round := int64(1); round <= horizon; round++ {
		for len(c.waiting) > 0 && c.waiting[0].At == round {
			if err := c.join(c.waiting[0].Participant, round); err != nil {
				return nil, err
			}
			c.waiting = c.waiting[1:]
		}
		for next < len(script) && script[next].IssuedAt == round {
			s := script[next]
			next++
			if !c.joined(s.Command.Participant) {
				c.dropped++
				continue
			}
			c.hub.Submit(s.Command, s.IssuedAt)
		}

		c.hub.Close(round)
		for _, p := range c.hub.Peers() {
			c.advance(p, round)
		}
		c.runRewinds(round)
		c.checkDigests(round)
	}
	return c.result(horizon), nil
}

func (c *ClusterSimulator) participants() []sim.ParticipantID {
	ids := make([]sim.ParticipantID, 0, len(c.scenario.Clients))
	for _, cl := range c.scenario.Clients {
		ids = append(ids, sim.ParticipantID(cl.Participant))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *ClusterSimulator) joined(id sim.ParticipantID) bool {
	for _, p := range c.hub.Peers() {
		if p.ID == id {
			return true
		}
	}
	return false
}

// join builds a participant and attaches it to the relay. A participant
// joining after round 0 catches up to the last closed tick immediately.
func (c *ClusterSimulator) join(id sim.ParticipantID, round int64) error {
	cfg := c.config.Session
	cfg.LocalParticipant = id
	cfg.Seed = c.scenario.Seed
	cfg.Timing.InitialSpeed = sim.SpeedPaused
	cfg.Timing.AckGated = true

	col := colony.New(c.scenario.Regions)
	session := sim.NewSession(cfg, col)
	if c.config.TraceLevel != "" && c.config.TraceLevel != trace.TraceLevelNone {
		session.SetTrace(trace.NewSimulationTrace(trace.TraceConfig{Level: c.config.TraceLevel}))
	}
	session.SetBlockRequester(func(g sim.GrantPayload) {
		cmd := c.hub.Submit(sim.NewGrantCommand(id, g), session.Tick())
		c.grants++
		logrus.Infof("[tick %07d] participant %d requested id block [%d,%d) for tick %d",
			session.Tick(), id, g.Start, g.Start+int64(g.Size), cmd.Tick)
	})

	var store sim.SnapshotStore = snapshot.NewMemoryStore()
	if c.config.NewStore != nil {
		s, err := c.config.NewStore(id)
		if err != nil {
			return fmt.Errorf("snapshot store for participant %d: %w", id, err)
		}
		store = s
	}
	ctrl := sim.NewController(session, store)
	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("start participant %d: %w", id, err)
	}

	p := &Peer{ID: id, JoinedAt: round, Colony: col, Session: session, Controller: ctrl}
	if err := c.hub.Attach(p); err != nil {
		return err
	}
	if round > 0 {
		logrus.Infof("[tick %07d] participant %d joined, catching up %d ticks", round, id, c.hub.Released())
		c.advance(p, c.hub.Released())
	}
	return nil
}

// advance runs p's controller until it reaches tick or stalls.
func (c *ClusterSimulator) advance(p *Peer, tick int64) {
	ctrl := p.Controller
	// a rewind may resimulate from the baseline, so budget for the whole range
	span := max(tick, ctrl.CurrentTick())
	ctrl.AdvanceToTick(tick)
	frames := int(span)/c.config.Session.Timing.MaxTicksPerFrame + 2
	ctrl.RunUntilIdle(frames)
	if ctrl.CurrentTick() != tick {
		logrus.Warnf("[tick %07d] participant %d stalled at tick %d", tick, p.ID, ctrl.CurrentTick())
	}
}

func (c *ClusterSimulator) runRewinds(round int64) {
	for _, rw := range c.config.Rewinds {
		if rw.At != round {
			continue
		}
		for _, p := range c.hub.Peers() {
			if p.ID != rw.Participant {
				continue
			}
			logrus.Infof("[tick %07d] participant %d scrubbing back to %d", round, p.ID, rw.To)
			c.advance(p, rw.To)
			c.advance(p, round)
		}
	}
}

func (c *ClusterSimulator) checkDigests(round int64) {
	interval := c.config.Session.DigestInterval
	if interval <= 0 || round%interval != 0 {
		return
	}
	peers := c.hub.Peers()
	if len(peers) == 0 {
		return
	}
	digests := make(map[sim.ParticipantID]string, len(peers))
	ref := peers[0].Colony.Digest()
	match := true
	for _, p := range peers {
		d := p.Colony.Digest()
		digests[p.ID] = d
		if d != ref {
			match = false
		}
	}
	if c.config.Recorder != nil {
		if err := c.config.Recorder.WriteDigest(round, ref); err != nil {
			logrus.Warnf("[tick %07d] recording digest failed: %v", round, err)
		}
	}
	if match {
		return
	}
	logrus.Errorf("[tick %07d] digest mismatch across participants: %v", round, digests)
	c.desyncs = append(c.desyncs, Desync{Tick: round, Digests: digests})
	for _, p := range peers {
		p.Session.MarkOutOfSync(fmt.Sprintf("digest mismatch at tick %d", round))
	}
}

func (c *ClusterSimulator) result(horizon int64) *Result {
	res := &Result{
		Ticks:    horizon,
		Commands: len(c.hub.History()),
		Grants:   c.grants,
		Dropped:  c.dropped,
		Desyncs:  c.desyncs,
	}
	for _, p := range c.hub.Peers() {
		_, reason := p.Session.OutOfSync()
		pr := PeerResult{
			ID:        p.ID,
			JoinedAt:  p.JoinedAt,
			Tick:      p.Controller.CurrentTick(),
			Digest:    p.Colony.Digest(),
			Pawns:     p.Colony.NumPawns(),
			Reloads:   p.Controller.Reloads(),
			OutOfSync: reason,
		}
		if st := p.Session.Trace(); st.Enabled() {
			pr.Summary = trace.Summarize(st)
		}
		res.Peers = append(res.Peers, pr)
	}
	sort.Slice(res.Peers, func(i, j int) bool { return res.Peers[i].ID < res.Peers[j].ID })
	return res
}
