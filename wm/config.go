// Construction-time configuration for the world model: vocabulary sizes and
// the block layout constants everything else is derived from.

package wm

import "fmt"

// Config groups the block-layout and vocabulary constants of a world model.
// One step's block holds K observation tokens, one task token, and one action
// token, so TokensPerBlock = K + 2.
type Config struct {
	ObsVocabSize   int `yaml:"obs_vocab_size"`
	ActVocabSize   int `yaml:"act_vocab_size"`
	TaskVocabSize  int `yaml:"task_vocab_size"`
	TokensPerBlock int `yaml:"tokens_per_block"`
	MaxBlocks      int `yaml:"max_blocks"`
	EmbedDim       int `yaml:"embed_dim"`
}

// DefaultConfig returns a small world-model configuration for testing.
func DefaultConfig() Config {
	return Config{
		ObsVocabSize:   512,
		ActVocabSize:   6,
		TaskVocabSize:  39,
		TokensPerBlock: 18, // 16 observation tokens + task + action
		MaxBlocks:      20,
		EmbedDim:       64,
	}
}

// NumObsTokens returns K, the number of observation tokens per block.
func (c Config) NumObsTokens() int { return c.TokensPerBlock - 2 }

// MaxTokens returns the position-embedding horizon in absolute positions.
func (c Config) MaxTokens() int { return c.MaxBlocks * c.TokensPerBlock }

func (c Config) Validate() error {
	if c.ObsVocabSize <= 0 || c.ActVocabSize <= 0 || c.TaskVocabSize <= 0 {
		return fmt.Errorf("%w: vocabulary sizes must be positive (obs=%d act=%d task=%d)",
			ErrConfig, c.ObsVocabSize, c.ActVocabSize, c.TaskVocabSize)
	}
	if c.TokensPerBlock < 3 {
		return fmt.Errorf("%w: tokens per block must be at least 3, got %d", ErrConfig, c.TokensPerBlock)
	}
	if c.MaxBlocks <= 0 {
		return fmt.Errorf("%w: max blocks must be positive, got %d", ErrConfig, c.MaxBlocks)
	}
	if c.EmbedDim <= 0 {
		return fmt.Errorf("%w: embed dim must be positive, got %d", ErrConfig, c.EmbedDim)
	}
	return nil
}
