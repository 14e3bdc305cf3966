package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults_EmbeddedPresets(t *testing.T) {
	defaults, err := LoadDefaults(defaultsYAML)
	require.NoError(t, err)
	assert.Equal(t, "1", defaults.Version)

	for name, preset := range defaults.Presets {
		assert.NoError(t, preset.Validate(), "preset %s must be a valid configuration", name)
		assert.Greater(t, preset.BackboneLayers, 0, "preset %s", name)
		assert.Greater(t, preset.BackboneHidden, 0, "preset %s", name)
		assert.Greater(t, preset.CellPixels, 0, "preset %s", name)
	}

	tiny, ok := defaults.Presets["tiny"]
	require.True(t, ok)
	assert.Equal(t, 64, tiny.ObsVocabSize)
	assert.Equal(t, 6, tiny.TokensPerBlock)
	assert.Equal(t, 2, tiny.BackboneLayers)
}

func TestLoadDefaults_StrictFields(t *testing.T) {
	_, err := LoadDefaults([]byte("version: \"1\"\nunknown_section: 3\n"))
	assert.Error(t, err)
}

func TestLookupPreset(t *testing.T) {
	preset, err := lookupPreset("atari")
	require.NoError(t, err)
	assert.Equal(t, 512, preset.ObsVocabSize)

	_, err = lookupPreset("nonexistent")
	assert.Error(t, err)
}

func TestPresets_SquareObservationGrids(t *testing.T) {
	// The rollout engine requires the per-block observation-token count to
	// be a perfect square.
	defaults, err := LoadDefaults(defaultsYAML)
	require.NoError(t, err)
	for name, preset := range defaults.Presets {
		k := preset.NumObsTokens()
		side := 0
		for side*side < k {
			side++
		}
		assert.Equal(t, k, side*side, "preset %s has a non-square observation grid", name)
	}
}
