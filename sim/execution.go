package sim

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ExecutionContext says whose command, if any, is being applied.
type ExecutionContext int

const (
	NotExecuting ExecutionContext = iota
	ExecutingLocal
	ExecutingRemote
)

func (e ExecutionContext) String() string {
	switch e {
	case NotExecuting:
		return "none"
	case ExecutingLocal:
		return "local"
	case ExecutingRemote:
		return "remote"
	default:
		return fmt.Sprintf("ExecutionContext(%d)", int(e))
	}
}

// ExecutionFor classifies a command authored by author on participant local.
func ExecutionFor(author, local ParticipantID) ExecutionContext {
	if local != Observer && author == local {
		return ExecutingLocal
	}
	return ExecutingRemote
}

var (
	// ErrNestedExecution is returned when a command is applied from inside another.
	ErrNestedExecution = errors.New("command applied while another command is executing")
	// ErrCommandPanicked wraps a recovered panic from a command handler.
	ErrCommandPanicked = errors.New("command handler panicked")
)

// ExecutionGate holds the execution marker for the command being applied.
// It governs presentation only; simulation state must never branch on it.
type ExecutionGate struct {
	marker ExecutionContext
}

// Marker returns the current execution context.
func (g *ExecutionGate) Marker() ExecutionContext { return g.marker }

// Executing reports whether any command is being applied.
func (g *ExecutionGate) Executing() bool { return g.marker != NotExecuting }

// ReplayingRemote reports whether a command authored elsewhere is being applied.
func (g *ExecutionGate) ReplayingRemote() bool { return g.marker == ExecutingRemote }

// ShouldPresent reports whether local-only feedback may be shown right now.
func (g *ExecutionGate) ShouldPresent() bool { return g.marker != ExecutingRemote }

// Apply runs fn with the marker set to ec. The marker is cleared on every
// exit path; a panic in fn is recovered and returned as ErrCommandPanicked.
func (g *ExecutionGate) Apply(ec ExecutionContext, fn func() error) (err error) {
	if g.marker != NotExecuting {
		logrus.Warnf("execution gate: %s command started while a %s command is executing", ec, g.marker)
		return ErrNestedExecution
	}
	g.marker = ec
	defer func() {
		g.marker = NotExecuting
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCommandPanicked, r)
		}
	}()
	return fn()
}

// Feedback is the host's local-only presentation surface.
type Feedback interface {
	PlaySound(name string)
	ShowMessage(id int64, text string, historical bool)
	ShowTutorial(topic string)
}

// FeedbackFilter forwards feedback to a sink unless a remote command is
// being replayed. Historical messages are part of the shared message log
// and are always forwarded.
type FeedbackFilter struct {
	gate       *ExecutionGate
	ids        *IDAllocator
	sink       Feedback
	suppressed int
}

// NewFeedbackFilter wraps sink. A nil sink discards everything.
func NewFeedbackFilter(gate *ExecutionGate, ids *IDAllocator, sink Feedback) *FeedbackFilter {
	return &FeedbackFilter{gate: gate, ids: ids, sink: sink}
}

// SetSink replaces the sink.
func (f *FeedbackFilter) SetSink(sink Feedback) { f.sink = sink }

// Suppressed returns how many feedback calls were dropped.
func (f *FeedbackFilter) Suppressed() int { return f.suppressed }

func (f *FeedbackFilter) PlaySound(name string) {
	if !f.gate.ShouldPresent() {
		f.suppressed++
		return
	}
	if f.sink != nil {
		f.sink.PlaySound(name)
	}
}

// ShowMessage numbers and forwards a message, returning its identifier and
// whether it reached the sink. Historical messages always consume a
// deterministic identifier, even on participants that do not display them.
func (f *FeedbackFilter) ShowMessage(text string, historical bool) (int64, bool) {
	if !historical && !f.gate.ShouldPresent() {
		f.suppressed++
		return 0, false
	}
	id := f.ids.NextMessageID(historical)
	if f.sink != nil {
		f.sink.ShowMessage(id, text, historical)
	}
	return id, true
}

func (f *FeedbackFilter) ShowTutorial(topic string) {
	if !f.gate.ShouldPresent() {
		f.suppressed++
		return
	}
	if f.sink != nil {
		f.sink.ShowTutorial(topic)
	}
}

// logFeedback is the default sink: it reports feedback at debug level.
type logFeedback struct{}

func (logFeedback) PlaySound(name string) { logrus.Debugf("feedback: sound %q", name) }
func (logFeedback) ShowMessage(id int64, text string, historical bool) {
	logrus.Debugf("feedback: message %d %q (historical=%v)", id, text, historical)
}
func (logFeedback) ShowTutorial(topic string) { logrus.Debugf("feedback: tutorial %q", topic) }
