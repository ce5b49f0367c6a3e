package sim

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lockstep-sim/lockstep/sim/trace"
)

// Controller drives a Session through time: real-time paced ticking,
// bounded catch-up toward a forward target, and rewind by snapshot reload
// followed by catch-up.
//
// Every Frame call simulates at most TimingConfig.MaxTicksPerFrame ticks,
// so the host frame loop keeps control while a long catch-up is running.
//
// Thread-safety: NOT thread-safe. Call from the simulation goroutine only.
type Controller struct {
	session  *Session
	store    SnapshotStore
	log      *CommandLog
	timing   TimingConfig
	snapshot SnapshotConfig

	state        ControllerState
	resume       ControllerState // Paused or Running, entered when a target is reached
	speed        TimeSpeed
	unpaused     TimeSpeed // speed Resume returns to
	forcedNormal bool
	timeline     TimelineState
	acked        int64
	debt         float64 // fractional ticks owed by real-time pacing

	started      bool
	lastSnapshot int64
	reloads      int
}

// NewController creates a controller for session, keeping rewind snapshots in store.
// Panics if session or store is nil or the timing configuration is invalid.
func NewController(session *Session, store SnapshotStore) *Controller {
	if session == nil {
		panic("Controller: session must not be nil")
	}
	if store == nil {
		panic("Controller: snapshot store must not be nil")
	}
	cfg := session.Config()
	if cfg.Timing.TicksPerSecond <= 0 {
		panic(fmt.Sprintf("Controller: TicksPerSecond must be > 0, got %d", cfg.Timing.TicksPerSecond))
	}
	if cfg.Timing.MaxTicksPerFrame <= 0 {
		panic(fmt.Sprintf("Controller: MaxTicksPerFrame must be > 0, got %d", cfg.Timing.MaxTicksPerFrame))
	}
	state, unpaused := StateRunning, cfg.Timing.InitialSpeed
	if unpaused == SpeedPaused {
		state, unpaused = StatePaused, SpeedNormal
	}
	return &Controller{
		session:      session,
		store:        store,
		log:          NewCommandLog(),
		timing:       cfg.Timing,
		snapshot:     cfg.Snapshots,
		state:        state,
		resume:       state,
		speed:        cfg.Timing.InitialSpeed,
		unpaused:     unpaused,
		forcedNormal: cfg.Timing.ForcedNormal,
		timeline: TimelineState{
			CurrentTick:     session.Tick(),
			TargetTick:      NoTarget,
			ReplayWindowEnd: -1,
		},
		acked: session.Tick(),
	}
}

// Session returns the controlled session.
func (c *Controller) Session() *Session { return c.session }

// Log returns the command log.
func (c *Controller) Log() *CommandLog { return c.log }

// State returns the controller mode.
func (c *Controller) State() ControllerState { return c.state }

// Timeline returns a copy of the timeline state.
func (c *Controller) Timeline() TimelineState { return c.timeline }

// CurrentTick returns the last completed tick.
func (c *Controller) CurrentTick() int64 { return c.timeline.CurrentTick }

// Speed returns the requested speed.
func (c *Controller) Speed() TimeSpeed { return c.speed }

// AckedTick returns the highest tick acknowledged by the transport.
func (c *Controller) AckedTick() int64 { return c.acked }

// Reloads returns the number of snapshot reloads performed.
func (c *Controller) Reloads() int { return c.reloads }

// Start stores the baseline snapshot. Frame calls it on first use.
func (c *Controller) Start() error {
	if c.started {
		return nil
	}
	c.started = true
	tick := c.timeline.CurrentTick
	blob, err := c.session.Snapshot(tick)
	if err != nil {
		return fmt.Errorf("baseline snapshot: %w", err)
	}
	if err := c.store.Put(tick, blob); err != nil {
		return fmt.Errorf("store baseline snapshot: %w", err)
	}
	c.lastSnapshot = tick
	return nil
}

// ScheduleCommand queues cmd for its tick. Commands for a tick already
// simulated or in progress are rejected and mark the session out of sync.
func (c *Controller) ScheduleCommand(cmd Command) error {
	frontier := c.session.Frontier()
	if c.session.Ticking() && c.session.Tick() > frontier {
		frontier = c.session.Tick()
	}
	if cmd.Tick <= frontier {
		err := fmt.Errorf("%w: %q from participant %d for tick %d, simulated up to %d",
			ErrLateCommand, cmd.Kind, cmd.Participant, cmd.Tick, frontier)
		c.session.MarkOutOfSync(err.Error())
		return err
	}
	c.log.Add(cmd)
	return nil
}

// AckTick records that every participant has acknowledged the boundary of tick n.
func (c *Controller) AckTick(n int64) {
	if n > c.acked {
		c.acked = n
	}
}

func (c *Controller) boundary() int64 {
	if !c.timing.AckGated {
		return math.MaxInt64
	}
	return c.acked
}

// SetReplayWindow bounds skip targets to [start, end]; end < 0 leaves it unbounded.
func (c *Controller) SetReplayWindow(start, end int64) error {
	if start < 0 || (end >= 0 && end < start) {
		return fmt.Errorf("invalid replay window [%d,%d]", start, end)
	}
	c.timeline.ReplayWindowStart = start
	c.timeline.ReplayWindowEnd = end
	if c.timeline.HasTarget() {
		c.timeline.TargetTick = c.timeline.clamp(c.timeline.TargetTick)
	}
	return nil
}

// AdvanceToTick sets the skip target. A target ahead of the current tick
// is reached by catch-up and composes with a catch-up already running; a
// target behind it forces a snapshot reload. The newest target always wins,
// and a pending reload is dropped when the newest target is reachable
// going forward.
func (c *Controller) AdvanceToTick(n int64) {
	n = c.timeline.clamp(n)
	cur := c.timeline.CurrentTick
	if c.state != StateCatchingUp && c.state != StateRewinding {
		c.resume = c.state
	}
	switch {
	case c.state == StateRewinding && n < cur:
		// the reload has not happened yet; it will use the newest target
		c.timeline.TargetTick = n
	case n < cur:
		c.timeline.TargetTick = n
		c.state = StateRewinding
		logrus.Debugf("[tick %07d] rewind requested to %d", cur, n)
	case n == cur:
		c.finishTarget()
	default:
		c.timeline.TargetTick = n
		c.state = StateCatchingUp
	}
}

// SetSpeed changes the requested speed. SpeedPaused pauses; any other
// speed resumes a paused controller.
func (c *Controller) SetSpeed(speed TimeSpeed) {
	c.speed = speed
	if speed == SpeedPaused {
		c.Pause()
		return
	}
	c.unpaused = speed
	if c.state == StatePaused {
		c.Resume()
	}
}

// SetForcedNormal toggles the slow-mode override.
func (c *Controller) SetForcedNormal(on bool) { c.forcedNormal = on }

// Multiplier returns the effective tick multiplier of the Running state.
func (c *Controller) Multiplier() float64 {
	return TickRateMultiplier(c.speed, c.forcedNormal)
}

// Pause stops real-time ticking. A catch-up in progress runs to its target
// and then stays paused.
func (c *Controller) Pause() {
	c.debt = 0
	if c.state == StateCatchingUp || c.state == StateRewinding {
		c.resume = StatePaused
		return
	}
	c.state = StatePaused
}

// Resume restarts real-time ticking at the requested speed, or at the last
// non-paused speed if the requested speed is paused.
func (c *Controller) Resume() {
	if c.speed == SpeedPaused {
		c.speed = c.unpaused
	}
	if c.state == StateCatchingUp || c.state == StateRewinding {
		c.resume = StateRunning
		return
	}
	c.state = StateRunning
}

// Frame runs one host frame: elapsed is the real time since the previous
// frame. Returns the number of ticks simulated.
func (c *Controller) Frame(elapsed time.Duration) int {
	if !c.started {
		if err := c.Start(); err != nil {
			logrus.Errorf("[tick %07d] %v", c.timeline.CurrentTick, err)
		}
	}
	switch c.state {
	case StateRewinding:
		if !c.reload() {
			return 0
		}
		return c.catchUp()
	case StateCatchingUp:
		return c.catchUp()
	case StateRunning:
		return c.run(elapsed)
	default:
		return 0
	}
}

// RunUntilIdle calls Frame until no target is pending, progress stalls, or
// maxFrames frames have run. Returns the number of ticks simulated.
func (c *Controller) RunUntilIdle(maxFrames int) int {
	total := 0
	for i := 0; i < maxFrames; i++ {
		if c.state != StateCatchingUp && c.state != StateRewinding {
			break
		}
		rewinding := c.state == StateRewinding
		n := c.Frame(0)
		total += n
		if n == 0 && !rewinding {
			break
		}
	}
	return total
}

func (c *Controller) run(elapsed time.Duration) int {
	c.debt += elapsed.Seconds() * float64(c.timing.TicksPerSecond) * c.Multiplier()
	if limit := float64(c.timing.MaxTicksPerFrame); c.debt > limit {
		c.debt = limit
	}
	n := 0
	for c.debt >= 1 && n < c.timing.MaxTicksPerFrame {
		if !c.step() {
			break
		}
		c.debt--
		n++
	}
	return n
}

func (c *Controller) catchUp() int {
	n := 0
	for c.timeline.CurrentTick < c.timeline.TargetTick && n < c.timing.MaxTicksPerFrame {
		if !c.step() {
			break
		}
		n++
	}
	if c.timeline.CurrentTick >= c.timeline.TargetTick {
		c.finishTarget()
	}
	return n
}

func (c *Controller) finishTarget() {
	if c.timeline.HasTarget() {
		logrus.Debugf("[tick %07d] reached target", c.timeline.CurrentTick)
	}
	c.timeline.TargetTick = NoTarget
	c.state = c.resume
	c.debt = 0
}

// step simulates the next tick if the ack boundary allows it.
func (c *Controller) step() bool {
	next := c.timeline.CurrentTick + 1
	if next > c.boundary() {
		return false
	}
	c.session.runTick(next, c.log.At(next))
	c.timeline.CurrentTick = next
	c.maybeSnapshot(next)
	return true
}

func (c *Controller) maybeSnapshot(tick int64) {
	if c.snapshot.Interval <= 0 || tick%c.snapshot.Interval != 0 || tick <= c.lastSnapshot {
		return
	}
	blob, err := c.session.Snapshot(tick)
	if err == nil {
		err = c.store.Put(tick, blob)
	}
	if err != nil {
		logrus.Warnf("[tick %07d] snapshot failed: %v", tick, err)
		return
	}
	c.lastSnapshot = tick
	if c.snapshot.Retain > 0 {
		if err := c.store.Prune(c.snapshot.Retain); err != nil {
			logrus.Warnf("[tick %07d] snapshot prune failed: %v", tick, err)
		}
	}
}

// reload restores the newest snapshot at or before the target and switches
// to catch-up. On failure the target is dropped and the session is marked
// out of sync.
func (c *Controller) reload() bool {
	from := c.timeline.CurrentTick
	target := c.timeline.TargetTick
	snapTick, blob, err := c.store.LatestAtOrBefore(target)
	if err == nil {
		var restored int64
		restored, err = c.session.Restore(blob)
		if err == nil && restored != snapTick {
			err = fmt.Errorf("snapshot stored at tick %d restored tick %d", snapTick, restored)
		}
	}
	if err != nil {
		logrus.Errorf("[tick %07d] rewind to %d failed: %v", from, target, err)
		c.session.MarkOutOfSync(fmt.Sprintf("rewind to tick %d failed", target))
		c.timeline.TargetTick = NoTarget
		c.state = c.resume
		return false
	}
	c.timeline.CurrentTick = snapTick
	c.reloads++
	c.state = StateCatchingUp
	logrus.Infof("[tick %07d] rewinding to %d from snapshot at %d", from, target, snapTick)
	if st := c.session.Trace(); st.Enabled() {
		st.RecordReload(trace.ReloadRecord{FromTick: from, SnapshotTick: snapTick, TargetTick: target})
	}
	return true
}
