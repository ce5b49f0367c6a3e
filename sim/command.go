package sim

import (
	"encoding/json"
	"errors"
	"sort"
)

// KindGrantIDBlock is the built-in command that installs a renewed global id block.
const KindGrantIDBlock = "sys.grant_id_block"

// ErrLateCommand is returned when a command targets a tick that has already been simulated.
var ErrLateCommand = errors.New("command scheduled for an already simulated tick")

// Command is one entry of the ordered command stream.
// Within a tick, commands apply by (Seq, Participant).
type Command struct {
	Tick        int64           `json:"tick"`
	Participant ParticipantID   `json:"participant"`
	Seq         int64           `json:"seq"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func (c Command) before(o Command) bool {
	if c.Seq != o.Seq {
		return c.Seq < o.Seq
	}
	return c.Participant < o.Participant
}

// CommandContext is passed to the host for every command application.
// Execution is the provenance of the command; use it only for presentation.
type CommandContext struct {
	Tick      int64
	Execution ExecutionContext
	Session   *Session
}

// GrantPayload is the payload of KindGrantIDBlock.
type GrantPayload struct {
	Owner ParticipantID `json:"owner"`
	Start int64         `json:"start"`
	Size  int32         `json:"size"`
}

// NewGrantCommand builds the KindGrantIDBlock command carrying g.
// The tick and sequence number are assigned by whoever orders the stream.
func NewGrantCommand(author ParticipantID, g GrantPayload) Command {
	b, err := json.Marshal(g)
	if err != nil {
		panic(err) // GrantPayload always marshals
	}
	return Command{Participant: author, Kind: KindGrantIDBlock, Payload: b}
}

// CommandLog keeps every scheduled command by tick, each tick's commands in
// application order. The log is never consumed: rewinds resimulate from it.
type CommandLog struct {
	byTick map[int64][]Command
	count  int
}

// NewCommandLog creates an empty log.
func NewCommandLog() *CommandLog {
	return &CommandLog{byTick: make(map[int64][]Command)}
}

// Add inserts cmd at its place in its tick's order.
func (l *CommandLog) Add(cmd Command) {
	cmds := l.byTick[cmd.Tick]
	i := sort.Search(len(cmds), func(i int) bool { return cmd.before(cmds[i]) })
	cmds = append(cmds, Command{})
	copy(cmds[i+1:], cmds[i:])
	cmds[i] = cmd
	l.byTick[cmd.Tick] = cmds
	l.count++
}

// At returns the commands scheduled for tick, in application order.
func (l *CommandLog) At(tick int64) []Command {
	return l.byTick[tick]
}

// Len returns the number of commands held.
func (l *CommandLog) Len() int { return l.count }

func sortParticipants(ids []ParticipantID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
