// Deterministic randomness. Every stochastic consumer draws from its own
// subsystem stream derived from one master seed, so two runs with the same
// seed and configuration produce identical trajectories.

package wm

import (
	"hash/fnv"
	"math/rand/v2"
)

// SimulationKey uniquely identifies a reproducible run. Two runs with the
// same SimulationKey and identical configuration MUST produce identical
// sampled trajectories.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

const (
	// SubsystemWeights seeds random weight initialization.
	SubsystemWeights = "weights"

	// SubsystemReward seeds reward sampling during rollout.
	SubsystemReward = "reward"

	// SubsystemTermination seeds termination sampling during rollout.
	SubsystemTermination = "termination"

	// SubsystemObservation seeds observation-token sampling during rollout.
	SubsystemObservation = "observation"

	// SubsystemCollector seeds the random heuristic during experience
	// collection.
	SubsystemCollector = "collector"
)

// PartitionedRNG provides deterministic, isolated RNG streams per subsystem.
// Each subsystem's generator is seeded with masterSeed XOR fnv1a64(name).
//
// Thread-safety: NOT thread-safe. Must be called from a single goroutine.
type PartitionedRNG struct {
	key        SimulationKey
	sources    map[string]*rand.PCG
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		sources:    make(map[string]*rand.PCG),
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded generator for the named
// subsystem. The same name always returns the same cached instance. Never
// returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(p.sourceFor(name))
	p.subsystems[name] = rng
	return rng
}

// SourceFor returns the named subsystem's underlying source, suitable for
// gonum distributions. It is the same stream ForSubsystem draws from.
func (p *PartitionedRNG) SourceFor(name string) rand.Source {
	return p.sourceFor(name)
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

func (p *PartitionedRNG) sourceFor(name string) *rand.PCG {
	if src, ok := p.sources[name]; ok {
		return src
	}
	derived := uint64(int64(p.key) ^ fnv1a64(name))
	src := rand.NewPCG(derived, derived^0x9e3779b97f4a7c15)
	p.sources[name] = src
	return src
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
