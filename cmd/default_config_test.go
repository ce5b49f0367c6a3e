package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockstep-sim/lockstep/sim"
)

func writeDefaults(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "defaults.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaultsConfig_ShippedFile_MatchesBuiltInDefaults(t *testing.T) {
	// GIVEN the defaults.yaml shipped next to the CLI
	cfg, err := loadDefaultsConfig("defaults.yaml")
	require.NoError(t, err)

	// WHEN it is converted
	sc, err := cfg.SessionConfig()
	require.NoError(t, err)

	// THEN it agrees with sim.DefaultSessionConfig except for retention
	want := sim.DefaultSessionConfig()
	want.Snapshots.Retain = 8
	assert.Equal(t, want, sc)
}

func TestLoadDefaultsConfig_UnknownKey_Rejected(t *testing.T) {
	path := writeDefaults(t, "version: \"1\"\ntiming:\n  tick_per_second: 30\n")

	_, err := loadDefaultsConfig(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "tick_per_second")
}

func TestConfig_SessionConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"speed", "timing:\n  ticks_per_second: 60\n  max_ticks_per_frame: 10\n  initial_speed: ludicrous\n", "initial_speed"},
		{"tps", "timing:\n  ticks_per_second: 0\n  max_ticks_per_frame: 10\n  initial_speed: normal\n", "ticks_per_second"},
		{"cap", "timing:\n  ticks_per_second: 60\n  max_ticks_per_frame: 0\n  initial_speed: normal\n", "max_ticks_per_frame"},
		{"high water", "timing:\n  ticks_per_second: 60\n  max_ticks_per_frame: 10\n  initial_speed: normal\nids:\n  global_block_size: 100\n  high_water: 2\n", "high_water"},
		{"block start", "timing:\n  ticks_per_second: 60\n  max_ticks_per_frame: 10\n  initial_speed: normal\nids:\n  global_block_start: -5\n  global_block_size: 100\n", "global_block_start"},
		{"block size", "timing:\n  ticks_per_second: 60\n  max_ticks_per_frame: 10\n  initial_speed: normal\nids:\n  global_block_size: -1\n", "global_block_size"},
		{"no block", "timing:\n  ticks_per_second: 60\n  max_ticks_per_frame: 10\n  initial_speed: normal\n", "global_block_size"},
		{"renewal", "timing:\n  ticks_per_second: 60\n  max_ticks_per_frame: 10\n  initial_speed: normal\nids:\n  global_block_size: 100\n  renewal_block_size: -3\n", "renewal_block_size"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := loadDefaultsConfig(writeDefaults(t, tc.body))
			require.NoError(t, err)

			_, err = cfg.SessionConfig()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestResolveSessionConfig_MissingDefaultPath_FallsBack(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := resolveSessionConfig(missing, false)
	require.NoError(t, err)
	assert.Equal(t, sim.DefaultSessionConfig(), cfg)

	_, err = resolveSessionConfig(missing, true)
	assert.Error(t, err)
}
