package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/colony"
	"github.com/lockstep-sim/lockstep/sim/snapshot"
	"github.com/lockstep-sim/lockstep/sim/workload"
)

// testSessionConfig uses small id blocks so renewals happen within a short
// run, and a catch-up cap small enough that late joiners need several frames.
func testSessionConfig() sim.SessionConfig {
	cfg := sim.DefaultSessionConfig()
	cfg.DigestInterval = 5
	cfg.Timing = sim.NewTimingConfig(60, 8, sim.SpeedNormal, false, true)
	cfg.IDs = sim.NewIDConfig(0, 0, 64, 0.5, 64)
	cfg.Snapshots = sim.NewSnapshotConfig(10, 4)
	return cfg
}

func testScenario(participants int, seed, horizon int64) *workload.Scenario {
	sc := workload.DefaultScenario(participants, seed, horizon)
	for i := range sc.Clients {
		sc.Clients[i].Rates.Designate = 0.4
	}
	return sc
}

func runCluster(t *testing.T, cfg Config, sc *workload.Scenario) *Result {
	t.Helper()
	cs, err := NewClusterSimulator(cfg, sc)
	require.NoError(t, err)
	res, err := cs.Run()
	require.NoError(t, err)
	return res
}

// newTestPeer builds a standalone ack-gated participant for relay tests.
func newTestPeer(t *testing.T, id sim.ParticipantID) *Peer {
	t.Helper()
	cfg := testSessionConfig()
	cfg.LocalParticipant = id
	cfg.Timing.InitialSpeed = sim.SpeedPaused
	col := colony.New(1)
	s := sim.NewSession(cfg, col)
	ctrl := sim.NewController(s, snapshot.NewMemoryStore())
	require.NoError(t, ctrl.Start())
	return &Peer{ID: id, Colony: col, Session: s, Controller: ctrl}
}

type recordedDigest struct {
	Tick   int64
	Digest string
}

type fakeRecorder struct {
	commands []sim.Command
	digests  []recordedDigest
}

func (r *fakeRecorder) WriteCommand(cmd sim.Command) error {
	r.commands = append(r.commands, cmd)
	return nil
}

func (r *fakeRecorder) WriteDigest(tick int64, digest string) error {
	r.digests = append(r.digests, recordedDigest{tick, digest})
	return nil
}

func spawn(author sim.ParticipantID, name string) sim.Command {
	return colony.NewCommand(author, colony.KindSpawn, colony.SpawnPayload{Region: 0, Party: 1, Name: name})
}
