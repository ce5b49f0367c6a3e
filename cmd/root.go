package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/cluster"
	"github.com/lockstep-sim/lockstep/sim/journal"
	"github.com/lockstep-sim/lockstep/sim/snapshot"
	"github.com/lockstep-sim/lockstep/sim/trace"
	"github.com/lockstep-sim/lockstep/sim/workload"
)

var (
	// CLI flags shared by run and replay
	defaultsPath string // Path to defaults.yaml
	logLevel     string // Log verbosity level

	// CLI flags for run
	participants int      // Number of participants in the default scenario
	ticks        int64    // Horizon of the default scenario (in ticks)
	seed         int64    // Seed for command generation and simulation
	workloadPath string   // Scenario YAML; overrides participants/ticks
	journalPath  string   // Record the ordered command stream here
	snapshotDB   string   // Keep rewind snapshots in this SQLite file instead of memory
	lateJoins    []string // participant@tick
	rewinds      []string // participant@round:target
	traceLevel   string   // Tick trace level

	// CLI flags for replay
	toTick  int64 // Stop the replay here (0 = end of journal)
	scrubTo int64 // Scrub back to this tick after replaying (-1 = no scrub)
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "lockstep",
	Short: "Deterministic lockstep simulation runner",
}

func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// runCmd plays a scripted scenario through N lockstep participants
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scripted multi-participant lockstep session",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		cfg, err := resolveSessionConfig(defaultsPath, cmd.Flags().Changed("defaults"))
		if err != nil {
			logrus.Fatalf("Failed to load defaults: %v", err)
		}
		if !trace.IsValidTraceLevel(traceLevel) {
			logrus.Fatalf("Invalid trace level: %s", traceLevel)
		}

		var sc *workload.Scenario
		if workloadPath != "" {
			sc, err = workload.LoadScenario(workloadPath)
			if err != nil {
				logrus.Fatalf("Failed to load scenario: %v", err)
			}
			if cmd.Flags().Changed("seed") {
				sc.Seed = seed
			}
		} else {
			s := cfg.Seed
			if cmd.Flags().Changed("seed") {
				s = seed
			}
			sc = workload.DefaultScenario(participants, s, ticks)
		}

		joins, err := parseLateJoins(lateJoins)
		if err != nil {
			logrus.Fatalf("Invalid --late-join: %v", err)
		}
		rws, err := parseRewinds(rewinds)
		if err != nil {
			logrus.Fatalf("Invalid --rewind: %v", err)
		}

		ccfg := cluster.Config{
			Session:    cfg,
			LateJoins:  joins,
			Rewinds:    rws,
			TraceLevel: trace.TraceLevel(traceLevel),
		}

		var stores []*snapshot.SQLiteStore
		if snapshotDB != "" {
			ccfg.NewStore = func(id sim.ParticipantID) (sim.SnapshotStore, error) {
				s, err := snapshot.OpenSQLite(snapshotDB, uuid.New())
				if err != nil {
					return nil, err
				}
				logrus.Infof("participant %d snapshots in %s (session %s)", id, snapshotDB, s.Session())
				stores = append(stores, s)
				return s, nil
			}
		}
		defer func() {
			for _, s := range stores {
				_ = s.Close()
			}
		}()

		var w *journal.Writer
		if journalPath != "" {
			w, err = journal.Create(journalPath, journal.Header{
				Version:      journal.Version,
				SessionID:    uuid.New().String(),
				Seed:         sc.Seed,
				Participants: len(sc.Clients),
				Scenario:     sc.Name,
				Regions:      sc.Regions,
				Ticks:        sc.Horizon + sc.CommandDelay,
				Settings:     journal.SettingsOf(cfg),
			})
			if err != nil {
				logrus.Fatalf("Failed to create journal: %v", err)
			}
			ccfg.Recorder = w
		}

		logrus.Infof("Starting lockstep run: %d participants, horizon=%d ticks, delay=%d, seed=%d",
			len(sc.Clients), sc.Horizon, sc.CommandDelay, sc.Seed)
		startTime := time.Now()

		cs, err := cluster.NewClusterSimulator(ccfg, sc)
		if err != nil {
			logrus.Fatalf("Invalid run configuration: %v", err)
		}
		res, err := cs.Run()
		if err != nil {
			logrus.Fatalf("Run failed: %v", err)
		}
		if w != nil {
			if err := w.Close(); err != nil {
				logrus.Fatalf("Failed to close journal: %v", err)
			}
			logrus.Infof("Journal written to %s", journalPath)
		}

		printRunSummary(os.Stdout, res, time.Since(startTime))
		if !res.Consistent() {
			logrus.Fatalf("Participants went out of sync")
		}
		logrus.Info("Run complete.")
	},
}

// replayCmd rebuilds a recorded session locally and verifies its digests
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded command journal as a local observer",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		if journalPath == "" {
			logrus.Fatalf("--journal is required")
		}
		cfg, err := resolveSessionConfig(defaultsPath, cmd.Flags().Changed("defaults"))
		if err != nil {
			logrus.Fatalf("Failed to load defaults: %v", err)
		}
		rec, err := journal.Load(journalPath)
		if err != nil {
			logrus.Fatalf("Failed to load journal: %v", err)
		}

		res, err := cluster.Replay(rec, cfg, snapshot.NewMemoryStore(), toTick)
		if err != nil {
			logrus.Fatalf("Replay failed: %v", err)
		}
		printReplaySummary(os.Stdout, rec, res)
		if len(res.Mismatches) > 0 {
			logrus.Fatalf("Replay diverged from the recording at ticks %v", res.Mismatches)
		}

		if scrubTo >= 0 {
			ok, err := verifyScrub(rec, cfg, res, scrubTo)
			if err != nil {
				logrus.Fatalf("Scrub failed: %v", err)
			}
			if !ok {
				logrus.Fatalf("Scrub to tick %d does not match a forward replay", scrubTo)
			}
			fmt.Fprintf(os.Stdout, "Scrub to tick %d verified against a forward replay\n", scrubTo)
		}
		logrus.Info("Replay complete.")
	},
}

// verifyScrub rewinds res to tick and compares the state with a fresh
// forward replay that stopped at tick.
func verifyScrub(rec *journal.Recording, cfg sim.SessionConfig, res *cluster.ReplayResult, tick int64) (bool, error) {
	ctrl := res.Controller
	ctrl.AdvanceToTick(tick)
	ctrl.RunUntilIdle(int(ctrl.CurrentTick())/cfg.Timing.MaxTicksPerFrame + 2)
	if ctrl.CurrentTick() != tick {
		return false, fmt.Errorf("scrub stopped at tick %d", ctrl.CurrentTick())
	}
	if bad, reason := res.Session.OutOfSync(); bad {
		return false, fmt.Errorf("session out of sync: %s", reason)
	}
	fresh, err := cluster.Replay(rec, cfg, snapshot.NewMemoryStore(), tick)
	if err != nil {
		return false, err
	}
	return fresh.Digest == res.Colony.Digest(), nil
}

// parseLateJoins parses "participant@tick" values.
func parseLateJoins(values []string) ([]cluster.LateJoin, error) {
	var out []cluster.LateJoin
	for _, v := range values {
		p, at, ok := strings.Cut(v, "@")
		if !ok {
			return nil, fmt.Errorf("%q: want participant@tick", v)
		}
		id, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%q: participant: %w", v, err)
		}
		tick, err := strconv.ParseInt(at, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q: tick: %w", v, err)
		}
		out = append(out, cluster.LateJoin{Participant: sim.ParticipantID(id), At: tick})
	}
	return out, nil
}

// parseRewinds parses "participant@round:target" values.
func parseRewinds(values []string) ([]cluster.Rewind, error) {
	var out []cluster.Rewind
	for _, v := range values {
		p, rest, ok := strings.Cut(v, "@")
		if !ok {
			return nil, fmt.Errorf("%q: want participant@round:target", v)
		}
		at, to, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("%q: want participant@round:target", v)
		}
		id, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%q: participant: %w", v, err)
		}
		round, err := strconv.ParseInt(at, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q: round: %w", v, err)
		}
		target, err := strconv.ParseInt(to, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q: target: %w", v, err)
		}
		out = append(out, cluster.Rewind{Participant: sim.ParticipantID(id), At: round, To: target})
	}
	return out, nil
}

type peerSummary struct {
	Participant int32               `json:"participant"`
	JoinedAt    int64               `json:"joined_at"`
	Tick        int64               `json:"tick"`
	Digest      string              `json:"digest"`
	Pawns       int                 `json:"pawns"`
	Reloads     int                 `json:"reloads"`
	OutOfSync   string              `json:"out_of_sync,omitempty"`
	Trace       *trace.TraceSummary `json:"trace,omitempty"`
}

type runSummary struct {
	Ticks      int64         `json:"ticks"`
	Commands   int           `json:"commands"`
	Grants     int           `json:"id_block_grants"`
	Dropped    int           `json:"dropped_commands"`
	Desyncs    int           `json:"desyncs"`
	Consistent bool          `json:"consistent"`
	WallTimeMs int64         `json:"wall_time_ms"`
	Peers      []peerSummary `json:"participants"`
}

// printRunSummary writes the run summary JSON to w.
func printRunSummary(w io.Writer, res *cluster.Result, elapsed time.Duration) {
	s := runSummary{
		Ticks:      res.Ticks,
		Commands:   res.Commands,
		Grants:     res.Grants,
		Dropped:    res.Dropped,
		Desyncs:    len(res.Desyncs),
		Consistent: res.Consistent(),
		WallTimeMs: elapsed.Milliseconds(),
	}
	for _, p := range res.Peers {
		s.Peers = append(s.Peers, peerSummary{
			Participant: int32(p.ID),
			JoinedAt:    p.JoinedAt,
			Tick:        p.Tick,
			Digest:      p.Digest,
			Pawns:       p.Pawns,
			Reloads:     p.Reloads,
			OutOfSync:   p.OutOfSync,
			Trace:       p.Summary,
		})
	}
	writeJSON(w, "=== Lockstep Run ===", s)
}

type replaySummary struct {
	SessionID  string  `json:"session_id"`
	Ticks      int64   `json:"ticks"`
	Commands   int     `json:"commands"`
	Checked    int     `json:"checkpoints_checked"`
	Mismatches []int64 `json:"mismatches"`
	Digest     string  `json:"digest"`
}

// printReplaySummary writes the replay summary JSON to w.
func printReplaySummary(w io.Writer, rec *journal.Recording, res *cluster.ReplayResult) {
	writeJSON(w, "=== Lockstep Replay ===", replaySummary{
		SessionID:  rec.Header.SessionID,
		Ticks:      res.Ticks,
		Commands:   res.Commands,
		Checked:    res.Checked,
		Mismatches: res.Mismatches,
		Digest:     res.Digest,
	})
}

func writeJSON(w io.Writer, header string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logrus.Errorf("Failed to marshal summary: %v", err)
		return
	}
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, string(data))
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{runCmd, replayCmd} {
		c.Flags().StringVar(&defaultsPath, "defaults", "cmd/defaults.yaml", "Path to the session defaults YAML")
		c.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
		c.Flags().StringVar(&journalPath, "journal", "", "Command journal path (zstd-compressed JSON lines)")
	}

	runCmd.Flags().IntVar(&participants, "participants", 3, "Number of participants in the default scenario")
	runCmd.Flags().Int64Var(&ticks, "ticks", 600, "Scenario horizon (in ticks)")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for command generation and simulation")
	runCmd.Flags().StringVar(&workloadPath, "workload", "", "Scenario YAML (overrides --participants and --ticks)")
	runCmd.Flags().StringVar(&snapshotDB, "snapshot-db", "", "Keep rewind snapshots in this SQLite file")
	runCmd.Flags().StringSliceVar(&lateJoins, "late-join", nil, "Participant joining late, as participant@tick (repeatable)")
	runCmd.Flags().StringSliceVar(&rewinds, "rewind", nil, "Participant scrubbing back, as participant@round:target (repeatable)")
	runCmd.Flags().StringVar(&traceLevel, "trace-level", "none", "Tick trace level (none, ticks)")

	replayCmd.Flags().Int64Var(&toTick, "to-tick", 0, "Stop the replay at this tick (0 = end of journal)")
	replayCmd.Flags().Int64Var(&scrubTo, "scrub-to", -1, "After replaying, scrub back to this tick and verify it")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
}
