package cmd

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lockstep-sim/lockstep/sim"
)

// Config represents the full defaults.yaml structure.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type Config struct {
	Version   string           `yaml:"version"`
	Session   SessionDefaults  `yaml:"session"`
	Timing    TimingDefaults   `yaml:"timing"`
	IDs       IDDefaults       `yaml:"ids"`
	Snapshots SnapshotDefaults `yaml:"snapshots"`
}

type SessionDefaults struct {
	Seed           int64 `yaml:"seed"`
	MultiParty     bool  `yaml:"multi_party"`
	FallbackParty  int32 `yaml:"fallback_party"`
	DigestInterval int64 `yaml:"digest_interval"`
}

type TimingDefaults struct {
	TicksPerSecond   int    `yaml:"ticks_per_second"`
	MaxTicksPerFrame int    `yaml:"max_ticks_per_frame"`
	InitialSpeed     string `yaml:"initial_speed"`
	ForcedNormal     bool   `yaml:"forced_normal"`
}

type IDDefaults struct {
	Coordinator      int32   `yaml:"coordinator"`
	GlobalBlockStart int64   `yaml:"global_block_start"`
	GlobalBlockSize  int32   `yaml:"global_block_size"`
	HighWater        float64 `yaml:"high_water"`
	RenewalBlockSize int32   `yaml:"renewal_block_size"`
}

type SnapshotDefaults struct {
	Interval int64 `yaml:"interval"`
	Retain   int   `yaml:"retain"`
}

// loadDefaultsConfig parses defaults.yaml into a Config struct.
// Uses strict field checking: typos must cause errors.
func loadDefaultsConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read defaults file: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse defaults YAML %s: %w", path, err)
	}
	return cfg, nil
}

// SessionConfig converts the defaults into a sim.SessionConfig.
func (c Config) SessionConfig() (sim.SessionConfig, error) {
	speed, err := sim.ParseTimeSpeed(c.Timing.InitialSpeed)
	if err != nil {
		return sim.SessionConfig{}, fmt.Errorf("timing.initial_speed: %w", err)
	}
	if c.Timing.TicksPerSecond <= 0 {
		return sim.SessionConfig{}, fmt.Errorf("timing.ticks_per_second must be > 0, got %d", c.Timing.TicksPerSecond)
	}
	if c.Timing.MaxTicksPerFrame <= 0 {
		return sim.SessionConfig{}, fmt.Errorf("timing.max_ticks_per_frame must be > 0, got %d", c.Timing.MaxTicksPerFrame)
	}
	if c.IDs.GlobalBlockStart < 0 {
		return sim.SessionConfig{}, fmt.Errorf("ids.global_block_start must be >= 0, got %d", c.IDs.GlobalBlockStart)
	}
	if c.IDs.GlobalBlockSize <= 0 {
		return sim.SessionConfig{}, fmt.Errorf("ids.global_block_size must be > 0, got %d", c.IDs.GlobalBlockSize)
	}
	if c.IDs.GlobalBlockStart > math.MaxInt64-int64(c.IDs.GlobalBlockSize) {
		return sim.SessionConfig{}, fmt.Errorf("ids.global_block_start %d overflows with size %d", c.IDs.GlobalBlockStart, c.IDs.GlobalBlockSize)
	}
	if c.IDs.RenewalBlockSize < 0 {
		return sim.SessionConfig{}, fmt.Errorf("ids.renewal_block_size must be >= 0, got %d", c.IDs.RenewalBlockSize)
	}
	if c.IDs.HighWater < 0 || c.IDs.HighWater > 1 {
		return sim.SessionConfig{}, fmt.Errorf("ids.high_water must be in [0,1], got %f", c.IDs.HighWater)
	}
	if c.Snapshots.Interval < 0 || c.Snapshots.Retain < 0 {
		return sim.SessionConfig{}, fmt.Errorf("snapshots: interval and retain must be >= 0")
	}
	return sim.SessionConfig{
		Seed:           c.Session.Seed,
		MultiParty:     c.Session.MultiParty,
		FallbackParty:  sim.PartyID(c.Session.FallbackParty),
		DigestInterval: c.Session.DigestInterval,
		Timing: sim.NewTimingConfig(c.Timing.TicksPerSecond, c.Timing.MaxTicksPerFrame,
			speed, c.Timing.ForcedNormal, false),
		IDs: sim.NewIDConfig(sim.ParticipantID(c.IDs.Coordinator), c.IDs.GlobalBlockStart,
			c.IDs.GlobalBlockSize, c.IDs.HighWater, c.IDs.RenewalBlockSize),
		Snapshots: sim.NewSnapshotConfig(c.Snapshots.Interval, c.Snapshots.Retain),
	}, nil
}

// resolveSessionConfig loads path, or falls back to sim.DefaultSessionConfig
// when path is the default location and does not exist.
func resolveSessionConfig(path string, explicit bool) (sim.SessionConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && !explicit {
		return sim.DefaultSessionConfig(), nil
	}
	cfg, err := loadDefaultsConfig(path)
	if err != nil {
		return sim.SessionConfig{}, err
	}
	return cfg.SessionConfig()
}
