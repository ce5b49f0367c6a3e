package sim

import "github.com/sirupsen/logrus"

// ContextFrame records who is acting and in which region the actor was
// placed when the frame was pushed.
type ContextFrame struct {
	Actor  Actor
	Region RegionID
}

// ContextStack tracks the acting entity for the operation in progress.
// The bottom frame is a sentinel {nil, NoRegion} and is never popped.
//
// Thread-safety: NOT thread-safe. Owned by the single simulation goroutine.
type ContextStack struct {
	frames []ContextFrame
	// actors already reported for changing region while inside their own frame
	warnedActors map[int64]struct{}
	underflows   int
	imbalances   int
}

// NewContextStack creates a stack holding only the sentinel frame.
func NewContextStack() *ContextStack {
	return &ContextStack{
		frames:       []ContextFrame{{Actor: nil, Region: NoRegion}},
		warnedActors: make(map[int64]struct{}),
	}
}

// Push records actor as the current actor, capturing its present region.
// A nil actor pushes an anonymous frame.
func (s *ContextStack) Push(actor Actor) {
	region := NoRegion
	if actor != nil {
		region = actor.Region()
	}
	s.PushFrame(actor, region)
}

// PushFrame records actor acting on behalf of region.
func (s *ContextStack) PushFrame(actor Actor, region RegionID) {
	s.frames = append(s.frames, ContextFrame{Actor: actor, Region: region})
}

// Pop removes the top frame. Popping the sentinel is logged and ignored;
// it reports false in that case.
func (s *ContextStack) Pop() bool {
	if len(s.frames) <= 1 {
		s.underflows++
		logrus.Warnf("context stack: pop without matching push (depth %d)", len(s.frames))
		return false
	}
	s.frames[len(s.frames)-1] = ContextFrame{}
	s.frames = s.frames[:len(s.frames)-1]
	return true
}

// Depth returns the number of frames including the sentinel.
func (s *ContextStack) Depth() int {
	return len(s.frames)
}

// Current returns the actor of the top frame, or nil at the sentinel.
func (s *ContextStack) Current() Actor {
	return s.frames[len(s.frames)-1].Actor
}

// CurrentRegion returns the region captured when the top frame was pushed.
// If the actor has since been moved to another region, the mismatch is
// logged once per actor and the captured region is still returned.
func (s *ContextStack) CurrentRegion() RegionID {
	top := s.frames[len(s.frames)-1]
	if top.Actor != nil && top.Actor.Region() != top.Region {
		id := top.Actor.ActorID()
		if _, seen := s.warnedActors[id]; !seen {
			s.warnedActors[id] = struct{}{}
			logrus.Warnf("context stack: actor %d changed region %d -> %d inside its own context",
				id, top.Region, top.Actor.Region())
		}
	}
	return top.Region
}

// With runs fn with actor pushed, popping on every return path.
func (s *ContextStack) With(actor Actor, fn func() error) error {
	s.Push(actor)
	defer s.Pop()
	return fn()
}

// Reset forces the stack back to the sentinel. It returns the number of
// frames discarded; a non-zero result is an imbalance and is logged once.
func (s *ContextStack) Reset() int {
	extra := len(s.frames) - 1
	if extra <= 0 {
		return 0
	}
	s.imbalances++
	logrus.Warnf("context stack: %d frame(s) left unpopped, forcing back to sentinel", extra)
	for i := 1; i < len(s.frames); i++ {
		s.frames[i] = ContextFrame{}
	}
	s.frames = s.frames[:1]
	return extra
}

// Underflows returns how many pops hit the sentinel.
func (s *ContextStack) Underflows() int { return s.underflows }

// Imbalances returns how many times Reset found unpopped frames.
func (s *ContextStack) Imbalances() int { return s.imbalances }

// IntegrityWarnings returns how many distinct actors were reported by CurrentRegion.
func (s *ContextStack) IntegrityWarnings() int { return len(s.warnedActors) }
