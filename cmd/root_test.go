package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/cluster"
	"github.com/lockstep-sim/lockstep/sim/journal"
	"github.com/lockstep-sim/lockstep/sim/snapshot"
	"github.com/lockstep-sim/lockstep/sim/workload"
)

func TestParseLateJoins(t *testing.T) {
	got, err := parseLateJoins([]string{"2@60", "1@5"})
	require.NoError(t, err)
	assert.Equal(t, []cluster.LateJoin{{Participant: 2, At: 60}, {Participant: 1, At: 5}}, got)

	for _, bad := range []string{"2", "x@5", "2@y"} {
		_, err := parseLateJoins([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestParseRewinds(t *testing.T) {
	got, err := parseRewinds([]string{"1@50:20"})
	require.NoError(t, err)
	assert.Equal(t, []cluster.Rewind{{Participant: 1, At: 50, To: 20}}, got)

	for _, bad := range []string{"1@50", "1:50", "a@1:2", "1@b:2", "1@1:c"} {
		_, err := parseRewinds([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestPrintRunSummary_WritesHeaderAndJSON(t *testing.T) {
	// GIVEN a finished run result
	res := &cluster.Result{
		Ticks:    10,
		Commands: 4,
		Peers:    []cluster.PeerResult{{ID: 0, Tick: 10, Digest: "abc"}},
	}
	var buf bytes.Buffer

	// WHEN the summary is printed
	printRunSummary(&buf, res, 3*time.Millisecond)

	// THEN stdout carries the header and the summary fields
	out := buf.String()
	assert.Contains(t, out, "=== Lockstep Run ===")
	assert.Contains(t, out, `"consistent": true`)
	assert.Contains(t, out, `"digest": "abc"`)
}

func testConfig() sim.SessionConfig {
	cfg := sim.DefaultSessionConfig()
	cfg.DigestInterval = 10
	cfg.Timing.MaxTicksPerFrame = 16
	cfg.Snapshots = sim.NewSnapshotConfig(10, 0)
	return cfg
}

func TestVerifyScrub_RecordedRun(t *testing.T) {
	// GIVEN a recorded run
	sc := workload.DefaultScenario(2, 5, 50)
	path := filepath.Join(t.TempDir(), "run.journal.zst")
	w, err := journal.Create(path, journal.Header{Version: journal.Version, Seed: sc.Seed, Regions: sc.Regions, Settings: journal.SettingsOf(testConfig())})
	require.NoError(t, err)
	cs, err := cluster.NewClusterSimulator(cluster.Config{Session: testConfig(), Recorder: w}, sc)
	require.NoError(t, err)
	_, err = cs.Run()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rec, err := journal.Load(path)
	require.NoError(t, err)
	res, err := cluster.Replay(rec, testConfig(), snapshot.NewMemoryStore(), 0)
	require.NoError(t, err)
	var buf bytes.Buffer
	printReplaySummary(&buf, rec, res)
	assert.Contains(t, buf.String(), "=== Lockstep Replay ===")

	// WHEN the replay scrubs back to 17
	ok, err := verifyScrub(rec, testConfig(), res, 17)

	// THEN it matches a forward replay to 17
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(17), res.Controller.CurrentTick())
}
