package sim

import (
	"fmt"
	"strings"
)

// TimeSpeed is the requested simulation speed. Its value is the tick multiplier.
type TimeSpeed int

const (
	SpeedPaused    TimeSpeed = 0
	SpeedNormal    TimeSpeed = 1
	SpeedFast      TimeSpeed = 3
	SpeedSuperfast TimeSpeed = 6
)

// validSpeeds maps accepted speed names.
var validSpeeds = map[string]TimeSpeed{
	"paused":    SpeedPaused,
	"normal":    SpeedNormal,
	"fast":      SpeedFast,
	"superfast": SpeedSuperfast,
}

func (s TimeSpeed) String() string {
	for name, v := range validSpeeds {
		if v == s {
			return name
		}
	}
	return fmt.Sprintf("TimeSpeed(%d)", int(s))
}

// ParseTimeSpeed parses a speed name ("paused", "normal", "fast", "superfast").
func ParseTimeSpeed(name string) (TimeSpeed, error) {
	s, ok := validSpeeds[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return SpeedPaused, fmt.Errorf("unknown time speed %q", name)
	}
	return s, nil
}

// TickRateMultiplier returns ticks per base interval for speed.
// A forced-normal override pins any non-paused speed to 1.
func TickRateMultiplier(speed TimeSpeed, forcedNormal bool) float64 {
	switch {
	case speed == SpeedPaused:
		return 0
	case forcedNormal:
		return 1
	case speed == SpeedFast:
		return 3
	case speed == SpeedSuperfast:
		return 6
	default:
		return 1
	}
}
