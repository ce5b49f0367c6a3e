package sim

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// ScopeStack is a single region's stack of active party markers.
// Its top decides which party's sub-state the region exposes.
type ScopeStack struct {
	region  RegionID
	parties []PartyID
}

// Region returns the region owning this stack.
func (st *ScopeStack) Region() RegionID { return st.region }

// Depth returns the number of active scope markers.
func (st *ScopeStack) Depth() int { return len(st.parties) }

// Top returns the innermost active party, if any.
func (st *ScopeStack) Top() (PartyID, bool) {
	if len(st.parties) == 0 {
		return NeutralParty, false
	}
	return st.parties[len(st.parties)-1], true
}

// ScopeToken is returned by Enter and must be handed back to Exit exactly once.
// The zero token is what Enter returns when no multi-party session is active;
// exiting it is a no-op.
type ScopeToken struct {
	stack *ScopeStack
	depth int
	party PartyID
}

// Valid reports whether the token refers to a pushed scope marker.
func (t ScopeToken) Valid() bool { return t.stack != nil }

// ScopeManager owns one ScopeStack per region and pairs Enter/Exit calls.
//
// Thread-safety: NOT thread-safe. Owned by the single simulation goroutine.
type ScopeManager struct {
	active     bool
	fallback   PartyID
	stacks     map[RegionID]*ScopeStack
	imbalances int
}

// NewScopeManager creates a manager. When active is false Enter is a no-op,
// which preserves single-party behavior.
func NewScopeManager(active bool, fallback PartyID) *ScopeManager {
	return &ScopeManager{
		active:   active,
		fallback: fallback,
		stacks:   make(map[RegionID]*ScopeStack),
	}
}

// Active reports whether a multi-party session is active.
func (m *ScopeManager) Active() bool { return m.active }

// SetActive toggles multi-party scoping. Must only be called between ticks.
func (m *ScopeManager) SetActive(active bool) { m.active = active }

// Stack returns region's scope stack, creating it on first use.
func (m *ScopeManager) Stack(region RegionID) *ScopeStack {
	st, ok := m.stacks[region]
	if !ok {
		st = &ScopeStack{region: region}
		m.stacks[region] = st
	}
	return st
}

// Enter makes party the visible scope of region until the returned token is exited.
func (m *ScopeManager) Enter(region RegionID, party PartyID) ScopeToken {
	if !m.active {
		return ScopeToken{}
	}
	st := m.Stack(region)
	st.parties = append(st.parties, party)
	return ScopeToken{stack: st, depth: len(st.parties), party: party}
}

// Exit pops the scope marker pushed by the matching Enter.
// Out-of-order or repeated exits are logged and the stack is repaired to
// the depth below the token's marker.
func (m *ScopeManager) Exit(tok ScopeToken) {
	if !tok.Valid() {
		return
	}
	st := tok.stack
	switch {
	case len(st.parties) < tok.depth:
		m.imbalances++
		logrus.Warnf("scope stack: region %d exited party %d twice or after reset", st.region, tok.party)
		return
	case len(st.parties) > tok.depth:
		m.imbalances++
		logrus.Warnf("scope stack: region %d exiting party %d with %d inner scope(s) still open",
			st.region, tok.party, len(st.parties)-tok.depth)
	case st.parties[tok.depth-1] != tok.party:
		m.imbalances++
		logrus.Warnf("scope stack: region %d top is party %d, expected %d",
			st.region, st.parties[tok.depth-1], tok.party)
	}
	st.parties = st.parties[:tok.depth-1]
}

// Within runs fn with party scoped onto region, exiting on every return path.
func (m *ScopeManager) Within(region RegionID, party PartyID, fn func() error) error {
	tok := m.Enter(region, party)
	defer m.Exit(tok)
	return fn()
}

// Visible returns the party whose sub-state region currently exposes:
// the top of its stack, or the fallback party when the stack is empty.
func (m *ScopeManager) Visible(region RegionID) PartyID {
	st, ok := m.stacks[region]
	if !ok {
		return m.fallback
	}
	if p, ok := st.Top(); ok {
		return p
	}
	return m.fallback
}

// Audit checks that every region's stack is empty, which must hold between
// ticks and between commands. Unbalanced stacks are logged, cleared and counted.
// Returns the number of regions that had to be cleared.
func (m *ScopeManager) Audit() int {
	regions := make([]RegionID, 0, len(m.stacks))
	for r, st := range m.stacks {
		if len(st.parties) > 0 {
			regions = append(regions, r)
		}
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i] < regions[j] })
	for _, r := range regions {
		st := m.stacks[r]
		m.imbalances++
		logrus.Warnf("scope stack: region %d left with %d open scope(s), clearing", r, len(st.parties))
		st.parties = st.parties[:0]
	}
	return len(regions)
}

// Imbalances returns the number of imbalances detected so far.
func (m *ScopeManager) Imbalances() int { return m.imbalances }

// Partitioned holds one value of T per party. Reads through Visible follow
// the scope manager, so the same region accessor yields different sub-state
// depending on which party is in scope.
type Partitioned[T any] struct {
	byParty map[PartyID]*T
	newFn   func() *T
}

// NewPartitioned creates an empty partition; newFn builds a party's initial value.
func NewPartitioned[T any](newFn func() *T) *Partitioned[T] {
	return &Partitioned[T]{byParty: make(map[PartyID]*T), newFn: newFn}
}

// For returns party's value, creating it if needed.
func (p *Partitioned[T]) For(party PartyID) *T {
	v, ok := p.byParty[party]
	if !ok {
		v = p.newFn()
		p.byParty[party] = v
	}
	return v
}

// Lookup returns party's value without creating it, or nil.
func (p *Partitioned[T]) Lookup(party PartyID) *T {
	return p.byParty[party]
}

// Set replaces party's value.
func (p *Partitioned[T]) Set(party PartyID, v *T) {
	p.byParty[party] = v
}

// Visible returns the value of the party currently in scope on region.
func (p *Partitioned[T]) Visible(m *ScopeManager, region RegionID) *T {
	return p.For(m.Visible(region))
}

// Parties returns the parties holding a value, in ascending order.
func (p *Partitioned[T]) Parties() []PartyID {
	out := make([]PartyID, 0, len(p.byParty))
	for id := range p.byParty {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
