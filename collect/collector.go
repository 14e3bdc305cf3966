// Package collect gathers real-environment experience for world-model
// training. A Collector drives a vectorized environment with an
// epsilon-greedy mix of a supplied policy and a random heuristic and
// accumulates per-instance trajectories into a dataset.
package collect

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Lr-2002/iris/wm"
)

// Environment is a vectorized real environment. All instances step together;
// Reset restarts every instance.
type Environment interface {
	Reset() (wm.Observations, error)
	Step(actions []int64) (wm.Observations, []float64, []bool, error)
	NumInstances() int
	NumActions() int
}

// Policy selects one action per environment instance.
type Policy interface {
	Act(obs wm.Observations) ([]int64, error)
}

// RandomHeuristic samples uniformly random actions.
type RandomHeuristic struct {
	numActions int
	rng        *rand.Rand
}

func NewRandomHeuristic(numActions int, rng *rand.Rand) *RandomHeuristic {
	return &RandomHeuristic{numActions: numActions, rng: rng}
}

func (h *RandomHeuristic) Act(obs wm.Observations) ([]int64, error) {
	actions := make([]int64, len(obs.Frames))
	for i := range actions {
		actions[i] = int64(h.rng.IntN(h.numActions))
	}
	return actions, nil
}

// Episode is one instance's trajectory. Collected episodes carry no padding;
// MaskPadding is all true and exists so episodes batch directly into
// wm.Batch trajectories.
type Episode struct {
	ID          string
	Frames      []wm.Frame
	Tasks       []int64
	Actions     []int64
	Rewards     []float64
	Ends        []int64
	MaskPadding []bool
}

// Len returns the number of steps in the episode.
func (e *Episode) Len() int { return len(e.Actions) }

// Return sums the episode's rewards.
func (e *Episode) Return() float64 {
	total := 0.0
	for _, r := range e.Rewards {
		total += r
	}
	return total
}

// Dataset receives completed episodes.
type Dataset interface {
	Add(Episode)
	Len() int
}

// MemoryDataset is an in-memory Dataset.
type MemoryDataset struct {
	Episodes []Episode
}

func (d *MemoryDataset) Add(e Episode) { d.Episodes = append(d.Episodes, e) }
func (d *MemoryDataset) Len() int      { return len(d.Episodes) }

// Stats summarizes one Collect call.
type Stats struct {
	Steps      int
	Episodes   int
	MeanReturn float64
}

// Collector steps the environment and accumulates episodes.
type Collector struct {
	env       Environment
	dataset   Dataset
	heuristic *RandomHeuristic
	rng       *rand.Rand

	obs     wm.Observations
	current []Episode
}

// New resets the environment once and prepares per-instance trajectories.
func New(env Environment, dataset Dataset, rng *rand.Rand) (*Collector, error) {
	if env == nil || dataset == nil || rng == nil {
		return nil, fmt.Errorf("%w: collector requires an environment, a dataset and an rng", wm.ErrConfig)
	}
	if env.NumInstances() <= 0 || env.NumActions() <= 0 {
		return nil, fmt.Errorf("%w: environment reports %d instances and %d actions",
			wm.ErrConfig, env.NumInstances(), env.NumActions())
	}
	obs, err := env.Reset()
	if err != nil {
		return nil, fmt.Errorf("environment reset: %w", err)
	}
	c := &Collector{
		env:       env,
		dataset:   dataset,
		heuristic: NewRandomHeuristic(env.NumActions(), rng),
		rng:       rng,
		obs:       obs,
	}
	c.startEpisodes()
	return c, nil
}

func (c *Collector) startEpisodes() {
	c.current = make([]Episode, c.env.NumInstances())
	for i := range c.current {
		c.current[i].ID = uuid.NewString()
	}
}

// Collect runs numSteps environment steps, choosing the heuristic over the
// policy with probability epsilon at every step. Completed episodes are
// flushed to the dataset when every instance is done; trailing incomplete
// episodes are flushed at the end and completed by a later Collect.
func (c *Collector) Collect(policy Policy, numSteps int, epsilon float64) (Stats, error) {
	if numSteps <= 0 {
		return Stats{}, fmt.Errorf("%w: collect called with %d steps", wm.ErrInvariant, numSteps)
	}
	if epsilon < 0 || epsilon > 1 {
		return Stats{}, fmt.Errorf("%w: epsilon %v outside [0,1]", wm.ErrInvariant, epsilon)
	}

	stats := Stats{}
	returns := 0.0
	for step := 0; step < numSteps; step++ {
		actor := policy
		if actor == nil || c.rng.Float64() < epsilon {
			actor = c.heuristic
		}
		actions, err := actor.Act(c.obs)
		if err != nil {
			return stats, fmt.Errorf("policy act: %w", err)
		}
		next, rewards, dones, err := c.env.Step(actions)
		if err != nil {
			return stats, fmt.Errorf("environment step: %w", err)
		}
		allDone := true
		for i := range c.current {
			end := int64(0)
			if dones[i] {
				end = 1
			} else {
				allDone = false
			}
			ep := &c.current[i]
			ep.Frames = append(ep.Frames, c.obs.Frames[i])
			ep.Tasks = append(ep.Tasks, c.obs.Tasks[i])
			ep.Actions = append(ep.Actions, actions[i])
			ep.Rewards = append(ep.Rewards, rewards[i])
			ep.Ends = append(ep.Ends, end)
			ep.MaskPadding = append(ep.MaskPadding, true)
		}
		c.obs = next
		stats.Steps += len(c.current)

		if allDone {
			for i := range c.current {
				returns += c.current[i].Return()
				c.dataset.Add(c.current[i])
				stats.Episodes++
			}
			logrus.Debugf("all %d instances done after %d steps, resetting environment",
				len(c.current), step+1)
			obs, err := c.env.Reset()
			if err != nil {
				return stats, fmt.Errorf("environment reset: %w", err)
			}
			c.obs = obs
			c.startEpisodes()
		}
	}

	// Flush incomplete trajectories so no experience is lost between calls.
	for i := range c.current {
		if c.current[i].Len() > 0 {
			returns += c.current[i].Return()
			c.dataset.Add(c.current[i])
			stats.Episodes++
		}
	}
	c.startEpisodes()

	if stats.Episodes > 0 {
		stats.MeanReturn = returns / float64(stats.Episodes)
	}
	logrus.Infof("collected %d steps across %d episodes (dataset now holds %d episodes)",
		stats.Steps, stats.Episodes, c.dataset.Len())
	return stats, nil
}
