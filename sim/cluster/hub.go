package cluster

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lockstep-sim/lockstep/sim"
)

// Hub is the lockstep relay. It orders submissions into the shared command
// stream, delivers each tick's commands to every attached peer when the
// tick closes, and acknowledges the closed tick so ack-gated controllers
// may simulate it.
//
// Thread-safety: NOT thread-safe. Driven from the cluster loop.
type Hub struct {
	delay    int64
	released int64 // highest closed tick
	seq      int64
	pending  *SubmissionHeap
	history  []sim.Command
	peers    []*Peer
	recorder Recorder
}

// NewHub creates a relay that schedules commands delay ticks after they are issued.
// Panics if delay < 0.
func NewHub(delay int64) *Hub {
	if delay < 0 {
		panic(fmt.Sprintf("Hub: delay must be >= 0, got %d", delay))
	}
	return &Hub{delay: delay, pending: NewSubmissionHeap()}
}

// SetRecorder installs a recorder for released commands. nil disables recording.
func (h *Hub) SetRecorder(r Recorder) { h.recorder = r }

// Released returns the highest closed tick.
func (h *Hub) Released() int64 { return h.released }

// Pending returns the number of submissions waiting for their tick.
func (h *Hub) Pending() int { return h.pending.Len() }

// History returns every released command in stream order.
func (h *Hub) History() []sim.Command { return h.history }

// Peers returns the attached peers in attach order.
func (h *Hub) Peers() []*Peer { return h.peers }

// Submit stamps cmd with its execution tick and sequence number and queues it.
// The tick is issuedAt+delay, moved past the last closed tick if needed.
func (h *Hub) Submit(cmd sim.Command, issuedAt int64) sim.Command {
	tick := issuedAt + h.delay
	if tick <= h.released {
		tick = h.released + 1
	}
	cmd.Tick = tick
	cmd.Seq = h.seq
	h.seq++
	h.pending.Schedule(Submission{Command: cmd, IssuedAt: issuedAt})
	return cmd
}

// Attach adds a peer and hands it the released stream so far.
func (h *Hub) Attach(p *Peer) error {
	for _, cmd := range h.history {
		if err := p.Controller.ScheduleCommand(cmd); err != nil {
			return fmt.Errorf("attach participant %d: %w", p.ID, err)
		}
	}
	p.Controller.AckTick(h.released)
	h.peers = append(h.peers, p)
	return nil
}

// Close releases every submission scheduled at or before tick to all
// peers and acknowledges tick. Returns the released commands.
func (h *Hub) Close(tick int64) []sim.Command {
	var out []sim.Command
	for {
		next, ok := h.pending.Peek()
		if !ok || next.Command.Tick > tick {
			break
		}
		h.pending.PopNext()
		cmd := next.Command
		for _, p := range h.peers {
			if err := p.Controller.ScheduleCommand(cmd); err != nil {
				logrus.Errorf("[tick %07d] participant %d rejected %q: %v", tick, p.ID, cmd.Kind, err)
			}
		}
		if h.recorder != nil {
			if err := h.recorder.WriteCommand(cmd); err != nil {
				logrus.Warnf("[tick %07d] recording command failed: %v", tick, err)
			}
		}
		h.history = append(h.history, cmd)
		out = append(out, cmd)
	}
	if tick > h.released {
		h.released = tick
	}
	for _, p := range h.peers {
		p.Controller.AckTick(h.released)
	}
	return out
}
