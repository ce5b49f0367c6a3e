package cluster

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/colony"
	"github.com/lockstep-sim/lockstep/sim/journal"
)

// ReplayResult is the outcome of replaying a journal.
type ReplayResult struct {
	Ticks      int64
	Commands   int
	Checked    int     // recorded digests compared
	Mismatches []int64 // ticks whose digest differed
	Digest     string  // final colony digest
	Colony     *colony.Colony
	Session    *sim.Session
	Controller *sim.Controller
}

// Replay rebuilds a recorded session locally as an observer, simulates up
// to toTick (0 = the end of the recording) and compares the colony digest
// at every recorded checkpoint on the way. cfg must match the session
// settings recorded in the journal header, or ErrSettingsMismatch is
// returned; Seed and LocalParticipant are taken from the journal.
func Replay(rec *journal.Recording, cfg sim.SessionConfig, store sim.SnapshotStore, toTick int64) (*ReplayResult, error) {
	if rec.Header.Regions < 1 {
		return nil, fmt.Errorf("journal header has no region count")
	}
	if want := rec.Header.Settings; want != nil {
		if got := journal.SettingsOf(cfg); *got != *want {
			return nil, fmt.Errorf("%w: recorded %+v, configured %+v", ErrSettingsMismatch, *want, *got)
		}
	}
	cfg.Seed = rec.Header.Seed
	cfg.LocalParticipant = sim.Observer
	cfg.Timing.InitialSpeed = sim.SpeedPaused
	cfg.Timing.AckGated = false

	col := colony.New(rec.Header.Regions)
	session := sim.NewSession(cfg, col)
	ctrl := sim.NewController(session, store)
	if err := ctrl.Start(); err != nil {
		return nil, err
	}
	for _, cmd := range rec.Commands {
		if err := ctrl.ScheduleCommand(cmd); err != nil {
			return nil, fmt.Errorf("journal command: %w", err)
		}
	}

	checkpoints := make([]int64, 0, len(rec.Digests))
	for t := range rec.Digests {
		checkpoints = append(checkpoints, t)
	}
	sort.Slice(checkpoints, func(i, j int) bool { return checkpoints[i] < checkpoints[j] })

	last := rec.LastTick()
	if toTick > 0 && toTick < last {
		last = toTick
	}

	res := &ReplayResult{Commands: len(rec.Commands), Colony: col, Session: session, Controller: ctrl}
	frames := func(gap int64) int { return int(gap)/cfg.Timing.MaxTicksPerFrame + 2 }
	for _, t := range checkpoints {
		if t > last {
			break
		}
		ctrl.AdvanceToTick(t)
		ctrl.RunUntilIdle(frames(t))
		if ctrl.CurrentTick() != t {
			return nil, fmt.Errorf("replay stalled at tick %d before checkpoint %d", ctrl.CurrentTick(), t)
		}
		res.Checked++
		if got := col.Digest(); got != rec.Digests[t] {
			logrus.Errorf("[tick %07d] replay digest %s, recorded %s", t, short(got), short(rec.Digests[t]))
			res.Mismatches = append(res.Mismatches, t)
		}
	}
	ctrl.AdvanceToTick(last)
	ctrl.RunUntilIdle(frames(last))
	res.Ticks = ctrl.CurrentTick()
	res.Digest = col.Digest()
	return res, nil
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
