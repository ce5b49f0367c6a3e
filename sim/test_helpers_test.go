package sim

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
)

// captureLogOutput runs fn and returns the log output as a string.
func captureLogOutput(fn func()) string {
	var buf bytes.Buffer
	origOutput := logrus.StandardLogger().Out
	origLevel := logrus.GetLevel()
	logrus.SetOutput(&buf)
	logrus.SetLevel(logrus.WarnLevel)
	defer func() {
		if origOutput != nil {
			logrus.SetOutput(origOutput)
		} else {
			logrus.SetOutput(os.Stderr)
		}
		logrus.SetLevel(origLevel)
	}()
	fn()
	return buf.String()
}

// testActor is a movable actor.
type testActor struct {
	id     int64
	region RegionID
}

func (a *testActor) ActorID() int64   { return a.id }
func (a *testActor) Region() RegionID { return a.region }

// appliedCmd is what recordingHost remembers about each applied command.
type appliedCmd struct {
	Tick        int64
	Participant ParticipantID
	Seq         int64
	Kind        string
	Remote      bool
}

type hostState struct {
	Applied  []appliedCmd
	Entities []int64
	Draws    int64
	Steps    int64
}

// recordingHost also keeps local-only previews outside hostState: they are
// never snapshotted or digested.

// spawnPayload asks recordingHost to allocate Count replicated ids.
type spawnPayload struct {
	Count int `json:"count"`
}

// recordingHost records every applied command, allocates ids for "spawn"
// commands and draws from the world RNG every step.
type recordingHost struct {
	hostState
	panicOn  string
	Previews []int64
}

func (h *recordingHost) ApplyCommand(cc *CommandContext, cmd Command) error {
	if cmd.Kind == h.panicOn {
		panic("boom")
	}
	h.Applied = append(h.Applied, appliedCmd{
		Tick: cc.Tick, Participant: cmd.Participant, Seq: cmd.Seq, Kind: cmd.Kind,
		Remote: cc.Session.IsReplayingRemoteCommand(),
	})
	switch cmd.Kind {
	case "spawn":
		var p spawnPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return err
		}
		for i := 0; i < p.Count; i++ {
			id, err := cc.Session.AllocateID()
			if err != nil {
				return err
			}
			h.Entities = append(h.Entities, id)
		}
	case "preview":
		// the author's UI shows a ghost; other participants see nothing
		if !cc.Session.IsReplayingRemoteCommand() {
			h.Previews = append(h.Previews, cc.Session.AllocateLocalID())
		}
	case "fail":
		return fmt.Errorf("command rejected")
	case "leak":
		// pushes without popping
		cc.Session.PushContext(&testActor{id: 77})
		cc.Session.PushScope(0, 1)
	}
	return nil
}

func (h *recordingHost) Step(s *Session, tick int64) {
	h.Steps++
	h.Draws += s.RNG().ForSubsystem(SubsystemWorld).Int63n(1000)
}

func (h *recordingHost) SnapshotState() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(h.hostState)
	return buf.Bytes(), err
}

func (h *recordingHost) RestoreState(blob []byte) error {
	var st hostState
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&st); err != nil {
		return err
	}
	h.hostState = st
	return nil
}

func (h *recordingHost) Digest() string {
	return fmt.Sprintf("%v|%v|%d|%d", h.Applied, h.Entities, h.Draws, h.Steps)
}

// appliedTicks returns the ticks of applied commands, in application order.
func (h *recordingHost) appliedTicks() []int64 {
	out := make([]int64, 0, len(h.Applied))
	for _, a := range h.Applied {
		out = append(out, a.Tick)
	}
	return out
}

// memStore is an uncompressed SnapshotStore for package tests.
type memStore struct {
	blobs map[int64][]byte
	gets  []int64
}

func newMemStore() *memStore { return &memStore{blobs: make(map[int64][]byte)} }

func (m *memStore) Put(tick int64, blob []byte) error {
	m.blobs[tick] = append([]byte(nil), blob...)
	return nil
}

func (m *memStore) LatestAtOrBefore(tick int64) (int64, []byte, error) {
	best := int64(-1)
	for t := range m.blobs {
		if t <= tick && t > best {
			best = t
		}
	}
	if best < 0 {
		return 0, nil, fmt.Errorf("tick %d: %w", tick, ErrNoSnapshot)
	}
	m.gets = append(m.gets, best)
	return best, m.blobs[best], nil
}

func (m *memStore) Prune(keep int) error {
	ticks := m.ticks()
	if len(ticks) <= keep+1 {
		return nil
	}
	for _, t := range ticks[1 : len(ticks)-keep] {
		delete(m.blobs, t)
	}
	return nil
}

func (m *memStore) ticks() []int64 {
	out := make([]int64, 0, len(m.blobs))
	for t := range m.blobs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// testSessionConfig returns a small deterministic configuration.
func testSessionConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.Seed = 7
	cfg.Timing = NewTimingConfig(60, 10, SpeedNormal, false, false)
	cfg.IDs = NewIDConfig(0, 0, 1000, 0, 0)
	cfg.Snapshots = NewSnapshotConfig(10, 0)
	cfg.DigestInterval = 1
	return cfg
}

func newTestController(cfg SessionConfig) (*Controller, *recordingHost, *memStore) {
	host := &recordingHost{}
	store := newMemStore()
	c := NewController(NewSession(cfg, host), store)
	return c, host, store
}

func cmd(tick int64, participant ParticipantID, seq int64, kind string) Command {
	return Command{Tick: tick, Participant: participant, Seq: seq, Kind: kind}
}

func spawnCmd(tick int64, participant ParticipantID, seq int64, count int) Command {
	b, _ := json.Marshal(spawnPayload{Count: count})
	return Command{Tick: tick, Participant: participant, Seq: seq, Kind: "spawn", Payload: b}
}
