package wm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"minimal block", func(c *Config) { c.TokensPerBlock = 3 }, true},
		{"zero obs vocab", func(c *Config) { c.ObsVocabSize = 0 }, false},
		{"negative act vocab", func(c *Config) { c.ActVocabSize = -1 }, false},
		{"zero task vocab", func(c *Config) { c.TaskVocabSize = 0 }, false},
		{"block too small", func(c *Config) { c.TokensPerBlock = 2 }, false},
		{"zero max blocks", func(c *Config) { c.MaxBlocks = 0 }, false},
		{"zero embed dim", func(c *Config) { c.EmbedDim = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrConfig)
			}
		})
	}
}

func TestConfig_DerivedQuantities(t *testing.T) {
	cfg := Config{
		ObsVocabSize:   512,
		ActVocabSize:   6,
		TaskVocabSize:  39,
		TokensPerBlock: 18,
		MaxBlocks:      20,
		EmbedDim:       64,
	}
	assert.Equal(t, 16, cfg.NumObsTokens())
	assert.Equal(t, 360, cfg.MaxTokens())
}
