// The rollout engine: drives the world model autoregressively as a simulated
// environment. It owns the incremental cache, runs the multi-pass per-step
// generation state machine, and decodes sampled tokens back into frames.

package wm

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/sirupsen/logrus"
)

// PlaceholderTaskToken is forced into the task slot during generation. The
// slot is overwritten by the true task label on the next external call, so
// its value is never sampled.
const PlaceholderTaskToken int64 = 0

// rolloutPhase enumerates what a generation pass feeds into the model.
type rolloutPhase int

const (
	// phaseActing feeds the supplied action; reward and termination are
	// sampled from this pass's outputs.
	phaseActing rolloutPhase = iota
	// phaseObserving feeds an observation token sampled from the previous
	// pass's observation logits.
	phaseObserving
	// phaseTaskPlaceholder feeds the fixed placeholder into the task slot.
	phaseTaskPlaceholder
)

// phaseOf maps pass index k in [0, numObsTokens] to its phase.
func phaseOf(pass, numObsTokens int) rolloutPhase {
	switch {
	case pass == 0:
		return phaseActing
	case pass == numObsTokens:
		return phaseTaskPlaceholder
	default:
		return phaseObserving
	}
}

// RolloutMetrics counts what the engine did since its last reset.
type RolloutMetrics struct {
	Steps        int
	Passes       int
	Rebuilds     int
	Terminations int
}

// ModelEnv drives a world model step-by-step without consulting a real
// environment. It is single-owner: one instance, one cache, one goroutine.
type ModelEnv struct {
	model *WorldModel
	codec TokenCodec
	env   EnvResetter // optional, used by Reset only

	cacheCapacity int
	renderScale   int
	gridSide      int

	rewardSrc rand.Source
	endSrc    rand.Source
	obsSrc    rand.Source

	cache        *Cache
	obsTokens    [][]int64 // (B, numObsTokens), trailing task slot included
	numObsTokens int       // fixed at first initialization
	ready        bool
	metrics      RolloutMetrics
}

// ModelEnvOption configures a ModelEnv at construction.
type ModelEnvOption func(*ModelEnv)

// WithRealEnv attaches a reset-only real environment so Reset can seed the
// rollout from a real observation.
func WithRealEnv(env EnvResetter) ModelEnvOption {
	return func(e *ModelEnv) { e.env = env }
}

// WithCacheCapacity overrides the cache capacity in positions. The default is
// the model's position-embedding horizon.
func WithCacheCapacity(maxTokens int) ModelEnvOption {
	return func(e *ModelEnv) { e.cacheCapacity = maxTokens }
}

// WithRenderScale scales rendered frames by an integer factor.
func WithRenderScale(scale int) ModelEnvOption {
	return func(e *ModelEnv) { e.renderScale = scale }
}

// NewModelEnv validates the block layout against the codec's grid geometry:
// the per-block observation-token count must be a perfect square, and the
// cache must hold at least the rebuilt prefix plus one full block.
func NewModelEnv(model *WorldModel, codec TokenCodec, rng *PartitionedRNG, opts ...ModelEnvOption) (*ModelEnv, error) {
	if model == nil || codec == nil || rng == nil {
		return nil, fmt.Errorf("%w: model env requires a model, a codec and an rng", ErrConfig)
	}
	cfg := model.Config()
	numObs := cfg.NumObsTokens()
	side := int(math.Sqrt(float64(numObs)))
	if side*side != numObs {
		return nil, fmt.Errorf("%w: %d observation tokens do not form a square grid", ErrConfig, numObs)
	}
	e := &ModelEnv{
		model:         model,
		codec:         codec,
		cacheCapacity: cfg.MaxTokens(),
		renderScale:   1,
		gridSide:      side,
		rewardSrc:     rng.SourceFor(SubsystemReward),
		endSrc:        rng.SourceFor(SubsystemTermination),
		obsSrc:        rng.SourceFor(SubsystemObservation),
	}
	for _, opt := range opts {
		opt(e)
	}
	// One rebuilt prefix (K+1 tokens) plus one full step (K+2 passes) must
	// always fit, otherwise no step could ever complete after a rebuild.
	minCapacity := (numObs + 1) + cfg.TokensPerBlock
	if e.cacheCapacity < minCapacity {
		return nil, fmt.Errorf("%w: cache capacity %d cannot hold a rebuilt prefix plus one block (need %d)",
			ErrConfig, e.cacheCapacity, minCapacity)
	}
	if e.cacheCapacity > cfg.MaxTokens() {
		return nil, fmt.Errorf("%w: cache capacity %d exceeds position horizon %d",
			ErrConfig, e.cacheCapacity, cfg.MaxTokens())
	}
	if e.renderScale < 1 {
		return nil, fmt.Errorf("%w: render scale %d is not positive", ErrConfig, e.renderScale)
	}
	return e, nil
}

// NumObsTokens returns the frozen per-step token count (K observation tokens
// plus the task slot), or 0 before the first initialization.
func (e *ModelEnv) NumObsTokens() int { return e.numObsTokens }

// Metrics returns counters accumulated since the last reset.
func (e *ModelEnv) Metrics() RolloutMetrics { return e.metrics }

// Reset seeds the rollout from the attached real environment.
func (e *ModelEnv) Reset() (Observations, error) {
	if e.env == nil {
		return Observations{}, fmt.Errorf("%w: no real environment attached", ErrState)
	}
	obs, err := e.env.Reset()
	if err != nil {
		return Observations{}, fmt.Errorf("real environment reset: %w", err)
	}
	return e.ResetFromObservations(obs)
}

// ResetFromObservations encodes the supplied observation batch and seeds the
// rollout from the resulting tokens plus the supplied task tokens.
func (e *ModelEnv) ResetFromObservations(obs Observations) (Observations, error) {
	if err := obs.Validate(); err != nil {
		return Observations{}, err
	}
	encoded, err := e.codec.Encode(obs.Frames)
	if err != nil {
		return Observations{}, fmt.Errorf("encode initial observations: %w", err)
	}
	tokens := make([][]int64, len(encoded))
	for b := range encoded {
		tokens[b] = append(append([]int64(nil), encoded[b]...), obs.Tasks[b])
	}
	if err := e.ResetFromTokens(tokens); err != nil {
		return Observations{}, err
	}
	return e.DecodeObsTokens()
}

// ResetFromTokens seeds the rollout from externally supplied tokens: K
// observation tokens plus the trailing task token per batch element. The
// first call fixes the engine's token count for its lifetime.
func (e *ModelEnv) ResetFromTokens(tokens [][]int64) error {
	batch := len(tokens)
	if batch == 0 {
		return fmt.Errorf("%w: reset with an empty batch", ErrInvariant)
	}
	count := len(tokens[0])
	for b, seq := range tokens {
		if len(seq) != count {
			return fmt.Errorf("%w: batch element %d has %d tokens, expected %d",
				ErrInvariant, b, len(seq), count)
		}
	}
	want := e.model.Config().NumObsTokens() + 1
	if count != want {
		return fmt.Errorf("%w: reset with %d tokens per element, block layout requires %d",
			ErrConfig, count, want)
	}
	if e.numObsTokens != 0 && count != e.numObsTokens {
		return fmt.Errorf("%w: observation-token count changed across initializations: %d != %d",
			ErrConfig, count, e.numObsTokens)
	}

	cache, err := NewCache(batch, e.cacheCapacity)
	if err != nil {
		return err
	}
	e.cache = cache
	e.obsTokens = make([][]int64, batch)
	for b := range tokens {
		e.obsTokens[b] = append([]int64(nil), tokens[b]...)
	}
	if err := e.refreshCache(); err != nil {
		return err
	}
	e.numObsTokens = count
	e.ready = true
	e.metrics = RolloutMetrics{}
	return nil
}

// refreshCache rebuilds the cache from the current observation tokens. The
// deeper history is discarded; the immediate causal window stays intact.
func (e *ModelEnv) refreshCache() error {
	e.cache.Reset()
	if _, err := e.model.Forward(e.obsTokens, e.cache); err != nil {
		return fmt.Errorf("refresh cache: %w", err)
	}
	return nil
}

// Step simulates one environment step for every instance in the batch. It
// runs 1+numObsTokens forward passes, one token per pass: the action first,
// then sampled observation tokens, then the forced task-slot placeholder.
// When predictObs is false the passes still run but no decode is performed
// and the returned observations are nil.
func (e *ModelEnv) Step(actions []int64, predictObs bool) (*Observations, []float64, []bool, error) {
	if !e.ready {
		return nil, nil, nil, fmt.Errorf("%w: step before initialization", ErrState)
	}
	batch := e.cache.BatchSize()
	if len(actions) != batch {
		return nil, nil, nil, fmt.Errorf("%w: %d actions for a batch of %d", ErrInvariant, len(actions), batch)
	}

	numPasses := 1 + e.numObsTokens
	if !e.cache.CanAppend(numPasses) {
		logrus.Debugf("cache at %d/%d positions, rebuilding before step %d",
			e.cache.Size(), e.cache.MaxTokens(), e.metrics.Steps+1)
		if err := e.refreshCache(); err != nil {
			return nil, nil, nil, err
		}
		e.metrics.Rebuilds++
	}

	rewards := make([]float64, batch)
	dones := make([]bool, batch)
	newObs := make([][]int64, batch)
	for b := range newObs {
		newObs[b] = make([]int64, 0, e.numObsTokens)
	}

	feed := make([][]int64, batch)
	for b := range feed {
		feed[b] = []int64{actions[b]}
	}
	var lastOut *Output
	for pass := 0; pass < numPasses; pass++ {
		switch phaseOf(pass, e.numObsTokens) {
		case phaseActing:
			// feed already holds the supplied actions
		case phaseObserving:
			for b := range feed {
				logits := lastOut.Obs.Logits[b]
				if logits == nil {
					return nil, nil, nil, fmt.Errorf("%w: no observation logits to sample at pass %d",
						ErrInvariant, pass)
				}
				rows, _ := logits.Dims()
				feed[b][0] = sampleCategorical(logits.RawRowView(rows-1), e.obsSrc)
			}
		case phaseTaskPlaceholder:
			for b := range feed {
				feed[b][0] = PlaceholderTaskToken
			}
		}

		out, err := e.model.Forward(feed, e.cache)
		if err != nil {
			return nil, nil, nil, err
		}
		e.metrics.Passes++

		if pass == 0 {
			for b := 0; b < batch; b++ {
				rewards[b] = RewardValue(sampleCategorical(out.Reward.Logits[b].RawRowView(0), e.rewardSrc))
				dones[b] = sampleCategorical(out.End.Logits[b].RawRowView(0), e.endSrc) == 1
				if dones[b] {
					e.metrics.Terminations++
				}
			}
		} else {
			for b := range feed {
				newObs[b] = append(newObs[b], feed[b][0])
			}
		}
		lastOut = out
	}

	e.obsTokens = newObs
	e.metrics.Steps++

	if !predictObs {
		return nil, rewards, dones, nil
	}
	obs, err := e.DecodeObsTokens()
	if err != nil {
		return nil, nil, nil, err
	}
	return &obs, rewards, dones, nil
}

// DecodeObsTokens deterministically decodes the current observation tokens
// (minus the trailing task slot) through the codec into frames, paired with
// the task-slot tokens.
func (e *ModelEnv) DecodeObsTokens() (Observations, error) {
	if !e.ready {
		return Observations{}, fmt.Errorf("%w: decode before initialization", ErrState)
	}
	batch := len(e.obsTokens)
	grid := make([][]int64, batch)
	tasks := make([]int64, batch)
	for b, seq := range e.obsTokens {
		grid[b] = seq[:e.numObsTokens-1]
		tasks[b] = seq[e.numObsTokens-1]
	}
	embedded, err := e.codec.Embedding(grid)
	if err != nil {
		return Observations{}, fmt.Errorf("embed observation tokens: %w", err)
	}
	frames, err := e.codec.Decode(embedded, e.gridSide)
	if err != nil {
		return Observations{}, fmt.Errorf("decode observation tokens: %w", err)
	}
	for _, frame := range frames {
		frame.Clamp01()
	}
	return Observations{Frames: frames, Tasks: tasks}, nil
}
