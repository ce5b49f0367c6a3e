// Package colony is a small deterministic colony simulation that runs on
// top of sim.Session. Pawns live in regions, each region keeps one
// sub-state per party, and every mutation goes through the session's
// scope, context and id calls, so it can be run in lockstep.
package colony

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/lockstep-sim/lockstep/sim"
)

// Pawn is a colonist. It acts inside context frames while it works.
type Pawn struct {
	ID       int64
	Name     string
	Party    sim.PartyID
	RegionID sim.RegionID
	Work     int64
}

func (p *Pawn) ActorID() int64      { return p.ID }
func (p *Pawn) Region() sim.RegionID { return p.RegionID }

// Designation marks a cell for a party's pawns to work on.
type Designation struct {
	ID   int64
	X, Y int
	Kind string
}

// PartyState is one party's view of a region.
type PartyState struct {
	Designations []Designation // ascending ID
	Stockpile    int64
	Items        []int64
}

// Region is a map with per-party sub-state.
type Region struct {
	ID      sim.RegionID
	Parties *sim.Partitioned[PartyState]
}

func newRegion(id sim.RegionID) *Region {
	return &Region{ID: id, Parties: sim.NewPartitioned(func() *PartyState { return &PartyState{} })}
}

// Preview is a local-only placement ghost. It is never replicated.
type Preview struct {
	ID     int64
	Region sim.RegionID
	X, Y   int
}

// Colony is the host simulation.
type Colony struct {
	regions  map[sim.RegionID]*Region
	pawns    map[int64]*Pawn
	previews []Preview
	steps    int64
}

var (
	_ sim.Host     = (*Colony)(nil)
	_ sim.Digester = (*Colony)(nil)
)

// New creates a colony with regions 0..numRegions-1. Panics if numRegions < 1.
func New(numRegions int) *Colony {
	if numRegions < 1 {
		panic(fmt.Sprintf("Colony: numRegions must be >= 1, got %d", numRegions))
	}
	c := &Colony{
		regions: make(map[sim.RegionID]*Region, numRegions),
		pawns:   make(map[int64]*Pawn),
	}
	for i := 0; i < numRegions; i++ {
		c.regions[sim.RegionID(i)] = newRegion(sim.RegionID(i))
	}
	return c
}

// Region returns region id, or nil.
func (c *Colony) Region(id sim.RegionID) *Region { return c.regions[id] }

// Pawn returns pawn id, or nil.
func (c *Colony) Pawn(id int64) *Pawn { return c.pawns[id] }

// NumPawns returns the number of pawns.
func (c *Colony) NumPawns() int { return len(c.pawns) }

// Previews returns the local-only previews placed so far.
func (c *Colony) Previews() []Preview { return c.previews }

// VisibleState returns the sub-state region exposes under the session's
// current scope, or nil if that party has none yet. It never creates state.
func (c *Colony) VisibleState(s *sim.Session, region sim.RegionID) *PartyState {
	r := c.regions[region]
	if r == nil {
		return nil
	}
	return r.Parties.Lookup(s.Scopes().Visible(region))
}

// PlacePreview places a local-only ghost. Previews always receive a
// negative local id, also when placed while a command is applied, so the
// global block advances identically on every participant.
func (c *Colony) PlacePreview(s *sim.Session, region sim.RegionID, x, y int) (int64, error) {
	if c.regions[region] == nil {
		return 0, fmt.Errorf("preview: unknown region %d", region)
	}
	id := s.AllocateLocalID()
	c.previews = append(c.previews, Preview{ID: id, Region: region, X: x, Y: y})
	return id, nil
}

// ApplyCommand dispatches a colony command.
func (c *Colony) ApplyCommand(cc *sim.CommandContext, cmd sim.Command) error {
	switch cmd.Kind {
	case KindSpawn:
		var p SpawnPayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		return c.spawn(cc.Session, p)
	case KindDesignate:
		var p DesignatePayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		return c.designate(cc.Session, p)
	case KindMove:
		var p MovePayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		return c.move(cc.Session, p)
	case KindStockpile:
		var p StockpilePayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		return c.stockpile(cc.Session, p)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
	}
}

func decode(cmd sim.Command, v any) error {
	if err := json.Unmarshal(cmd.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", cmd.Kind, err)
	}
	return nil
}

func (c *Colony) region(id sim.RegionID) (*Region, error) {
	r := c.regions[id]
	if r == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRegion, id)
	}
	return r, nil
}

func (c *Colony) spawn(s *sim.Session, p SpawnPayload) error {
	if _, err := c.region(p.Region); err != nil {
		return err
	}
	id, err := s.AllocateID()
	if err != nil {
		return err
	}
	c.pawns[id] = &Pawn{ID: id, Name: p.Name, Party: p.Party, RegionID: p.Region}
	s.Feedback().PlaySound("pawn_arrived")
	s.Feedback().ShowMessage(fmt.Sprintf("%s joined party %d", p.Name, p.Party), true)
	return nil
}

func (c *Colony) designate(s *sim.Session, p DesignatePayload) error {
	r, err := c.region(p.Region)
	if err != nil {
		return err
	}
	return s.InScope(p.Region, p.Party, func() error {
		id, err := s.AllocateID()
		if err != nil {
			return err
		}
		st := r.Parties.Visible(s.Scopes(), p.Region)
		st.Designations = append(st.Designations, Designation{ID: id, X: p.X, Y: p.Y, Kind: p.Kind})
		s.Feedback().PlaySound("designate")
		s.Feedback().ShowMessage(fmt.Sprintf("designated %s at %d,%d", p.Kind, p.X, p.Y), false)
		return nil
	})
}

func (c *Colony) move(s *sim.Session, p MovePayload) error {
	var pawn *Pawn
	if p.Name != "" {
		pawn = c.pawnNamed(p.Name)
		if pawn == nil {
			return fmt.Errorf("%w: %q", ErrUnknownPawn, p.Name)
		}
	} else if pawn = c.pawns[p.Pawn]; pawn == nil {
		return fmt.Errorf("%w: %d", ErrUnknownPawn, p.Pawn)
	}
	if _, err := c.region(p.To); err != nil {
		return err
	}
	return s.Acting(pawn, func() error {
		from := s.Contexts().CurrentRegion()
		pawn.RegionID = p.To
		logrus.Debugf("[tick %07d] pawn %d moved %d -> %d", s.Tick(), pawn.ID, from, p.To)
		return nil
	})
}

func (c *Colony) stockpile(s *sim.Session, p StockpilePayload) error {
	r, err := c.region(p.Region)
	if err != nil {
		return err
	}
	return s.InScope(p.Region, p.Party, func() error {
		st := r.Parties.Visible(s.Scopes(), p.Region)
		if st.Stockpile+p.Amount < 0 {
			return fmt.Errorf("stockpile of party %d in region %d cannot go below zero", p.Party, p.Region)
		}
		st.Stockpile += p.Amount
		return nil
	})
}

// Step lets every pawn work on its party's designations, region by region
// and pawn by pawn in id order.
func (c *Colony) Step(s *sim.Session, tick int64) {
	c.steps++
	for _, rid := range c.regionIDs() {
		r := c.regions[rid]
		rng := s.RNG().ForSubsystem(sim.SubsystemRegion(rid))
		for _, pawn := range c.pawnsIn(rid) {
			err := s.InScope(rid, pawn.Party, func() error {
				return s.Acting(pawn, func() error {
					return c.work(s, r, pawn, rng.Intn(4))
				})
			})
			if err != nil {
				logrus.Warnf("[tick %07d] pawn %d work failed: %v", tick, pawn.ID, err)
			}
		}
	}
}

func (c *Colony) work(s *sim.Session, r *Region, pawn *Pawn, roll int) error {
	pawn.Work += int64(roll)
	st := r.Parties.Visible(s.Scopes(), s.Contexts().CurrentRegion())
	if roll != 0 || len(st.Designations) == 0 {
		return nil
	}
	done := st.Designations[0]
	st.Designations = st.Designations[1:]
	item, err := s.AllocateID()
	if err != nil {
		return err
	}
	st.Items = append(st.Items, item)
	st.Stockpile++
	logrus.Debugf("[tick %07d] pawn %d finished %s %d, produced item %d", s.Tick(), pawn.ID, done.Kind, done.ID, item)
	return nil
}

// pawnNamed returns the lowest-id pawn called name, or nil.
func (c *Colony) pawnNamed(name string) *Pawn {
	var found *Pawn
	for _, p := range c.pawns {
		if p.Name == name && (found == nil || p.ID < found.ID) {
			found = p
		}
	}
	return found
}

func (c *Colony) regionIDs() []sim.RegionID {
	ids := make([]sim.RegionID, 0, len(c.regions))
	for id := range c.regions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Colony) pawnsIn(region sim.RegionID) []*Pawn {
	var out []*Pawn
	for _, p := range c.pawns {
		if p.RegionID == region {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// === Persistence ===

type regionState struct {
	ID      sim.RegionID
	Parties map[sim.PartyID]PartyState
}

// state is the replicated colony state. Fields are ordered so its JSON
// form is canonical.
type state struct {
	Regions []regionState
	Pawns   []Pawn
	Steps   int64
}

func (c *Colony) export() state {
	st := state{Steps: c.steps}
	for _, rid := range c.regionIDs() {
		r := c.regions[rid]
		rs := regionState{ID: rid, Parties: make(map[sim.PartyID]PartyState)}
		for _, party := range r.Parties.Parties() {
			ps := *r.Parties.For(party)
			// gob decodes empty slices as nil
			if len(ps.Designations) == 0 {
				ps.Designations = nil
			}
			if len(ps.Items) == 0 {
				ps.Items = nil
			}
			rs.Parties[party] = ps
		}
		st.Regions = append(st.Regions, rs)
	}
	ids := make([]int64, 0, len(c.pawns))
	for id := range c.pawns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		st.Pawns = append(st.Pawns, *c.pawns[id])
	}
	return st
}

// SnapshotState gob-encodes the replicated state. Previews are local and not included.
func (c *Colony) SnapshotState() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c.export()); err != nil {
		return nil, fmt.Errorf("gob encode colony: %w", err)
	}
	return buf.Bytes(), nil
}

// RestoreState replaces the replicated state.
func (c *Colony) RestoreState(blob []byte) error {
	var st state
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&st); err != nil {
		return fmt.Errorf("gob decode colony: %w", err)
	}
	c.regions = make(map[sim.RegionID]*Region, len(st.Regions))
	for _, rs := range st.Regions {
		r := newRegion(rs.ID)
		for party, ps := range rs.Parties {
			ps := ps
			r.Parties.Set(party, &ps)
		}
		c.regions[rs.ID] = r
	}
	c.pawns = make(map[int64]*Pawn, len(st.Pawns))
	for i := range st.Pawns {
		p := st.Pawns[i]
		c.pawns[p.ID] = &p
	}
	c.steps = st.Steps
	return nil
}

// Digest returns the sha256 of the canonical JSON form of the replicated state.
func (c *Colony) Digest() string {
	b, err := json.Marshal(c.export())
	if err != nil {
		logrus.Errorf("colony digest: %v", err)
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
