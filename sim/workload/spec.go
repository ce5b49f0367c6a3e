// Package workload describes scripted lockstep sessions: which participants
// take part, how often each one issues colony commands, and over how many
// ticks. Scenarios are loaded from YAML and expanded into a deterministic
// command script by Generate.
package workload

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the scenario format version written by this package.
const CurrentVersion = "1"

// Scenario is the top-level scripted session configuration.
// Loaded from YAML via LoadScenario(path).
type Scenario struct {
	Version      string       `yaml:"version"`
	Name         string       `yaml:"name,omitempty"`
	Seed         int64        `yaml:"seed"`
	Horizon      int64        `yaml:"horizon"`       // last tick commands are issued for
	Regions      int          `yaml:"regions"`       // colony regions 0..Regions-1
	CommandDelay int64        `yaml:"command_delay"` // ticks between issue and execution
	Clients      []ClientSpec `yaml:"clients"`
}

// ClientSpec defines one participant's command stream.
type ClientSpec struct {
	ID          string         `yaml:"id"`
	Participant int32          `yaml:"participant"`
	Party       int32          `yaml:"party"`
	Region      int            `yaml:"region"` // home region for spawns
	Pawns       int            `yaml:"pawns"`  // spawned on the first active tick
	Rates       RateSpec       `yaml:"rates"`
	Lifecycle   *LifecycleSpec `yaml:"lifecycle,omitempty"`
}

// RateSpec holds per-tick probabilities of each command kind.
type RateSpec struct {
	Designate float64 `yaml:"designate"`
	Stockpile float64 `yaml:"stockpile"`
	Spawn     float64 `yaml:"spawn"`
	Move      float64 `yaml:"move"` // moves one of the client's pawns to a random region
}

// LifecycleSpec restricts a client to the ticks of its windows.
type LifecycleSpec struct {
	Windows []ActiveWindow `yaml:"windows"`
}

// ActiveWindow is the half-open tick range [StartTick, EndTick).
type ActiveWindow struct {
	StartTick int64 `yaml:"start_tick"`
	EndTick   int64 `yaml:"end_tick"`
}

// LoadScenario reads and parses a YAML scenario file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses YAML scenario bytes strictly.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if sc.Version == "" {
		sc.Version = CurrentVersion
	}
	return &sc, nil
}

// Validate checks that all fields in the scenario are valid.
func (s *Scenario) Validate() error {
	if s.Version != CurrentVersion {
		return fmt.Errorf("unsupported scenario version %q; supported: %s", s.Version, CurrentVersion)
	}
	if s.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %d", s.Horizon)
	}
	if s.Regions < 1 {
		return fmt.Errorf("regions must be >= 1, got %d", s.Regions)
	}
	if s.CommandDelay < 0 {
		return fmt.Errorf("command_delay must be non-negative, got %d", s.CommandDelay)
	}
	if len(s.Clients) == 0 {
		return fmt.Errorf("at least one client required")
	}
	seen := make(map[int32]string, len(s.Clients))
	for i := range s.Clients {
		c := &s.Clients[i]
		if err := s.validateClient(c, i); err != nil {
			return err
		}
		if prev, dup := seen[c.Participant]; dup {
			return fmt.Errorf("client[%d]: participant %d already used by client %q", i, c.Participant, prev)
		}
		seen[c.Participant] = c.ID
	}
	return nil
}

func (s *Scenario) validateClient(c *ClientSpec, idx int) error {
	prefix := fmt.Sprintf("client[%d]", idx)
	if c.Participant < 0 {
		return fmt.Errorf("%s: participant must be non-negative, got %d", prefix, c.Participant)
	}
	if c.Party <= 0 {
		return fmt.Errorf("%s: party must be positive (0 is the neutral party), got %d", prefix, c.Party)
	}
	if c.Region < 0 || c.Region >= s.Regions {
		return fmt.Errorf("%s: region %d out of range [0,%d)", prefix, c.Region, s.Regions)
	}
	if c.Pawns < 0 {
		return fmt.Errorf("%s: pawns must be non-negative, got %d", prefix, c.Pawns)
	}
	for name, p := range map[string]float64{
		"designate": c.Rates.Designate,
		"stockpile": c.Rates.Stockpile,
		"spawn":     c.Rates.Spawn,
		"move":      c.Rates.Move,
	} {
		if err := validateProbability(prefix+".rates."+name, p); err != nil {
			return err
		}
	}
	if c.Lifecycle != nil {
		for j, w := range c.Lifecycle.Windows {
			if w.StartTick < 0 || w.EndTick <= w.StartTick {
				return fmt.Errorf("%s.lifecycle.windows[%d]: invalid range [%d,%d)", prefix, j, w.StartTick, w.EndTick)
			}
		}
	}
	return nil
}

func validateProbability(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val < 0 || val > 1 {
		return fmt.Errorf("%s must be in [0,1], got %f", name, val)
	}
	return nil
}

// Active reports whether the client issues commands at tick.
func (c *ClientSpec) Active(tick int64) bool {
	if c.Lifecycle == nil || len(c.Lifecycle.Windows) == 0 {
		return true
	}
	for _, w := range c.Lifecycle.Windows {
		if tick >= w.StartTick && tick < w.EndTick {
			return true
		}
	}
	return false
}
