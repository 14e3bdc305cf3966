// Training batches: trajectories of observations, actions, rewards and
// termination flags with a padding mask.

package wm

import "fmt"

// BatchObservations holds the per-step observations of a batch of
// trajectories: frames to be encoded by the codec and task tokens.
type BatchObservations struct {
	Frames [][]Frame // (B, L)
	Tasks  [][]int64 // (B, L)
}

// Batch is one training batch of B trajectories of L steps each.
// MaskPadding is true at real steps and false at padding; padded positions
// carry the ignore label and contribute nothing to the loss.
type Batch struct {
	Observations BatchObservations
	Actions      [][]int64   // (B, L)
	Rewards      [][]float64 // (B, L)
	Ends         [][]int64   // (B, L), 0 or 1, at most one 1 per trajectory
	MaskPadding  [][]bool    // (B, L)
}

// Size returns the number of trajectories B.
func (b Batch) Size() int { return len(b.Actions) }

// Steps returns the trajectory length L.
func (b Batch) Steps() int {
	if len(b.Actions) == 0 {
		return 0
	}
	return len(b.Actions[0])
}

func (b Batch) Validate() error {
	batch, steps := b.Size(), b.Steps()
	if batch == 0 || steps == 0 {
		return fmt.Errorf("%w: empty training batch", ErrInvariant)
	}
	if len(b.Observations.Frames) != batch || len(b.Observations.Tasks) != batch ||
		len(b.Rewards) != batch || len(b.Ends) != batch || len(b.MaskPadding) != batch {
		return fmt.Errorf("%w: batch fields disagree on trajectory count", ErrInvariant)
	}
	for i := 0; i < batch; i++ {
		if len(b.Observations.Frames[i]) != steps || len(b.Observations.Tasks[i]) != steps ||
			len(b.Actions[i]) != steps || len(b.Rewards[i]) != steps ||
			len(b.Ends[i]) != steps || len(b.MaskPadding[i]) != steps {
			return fmt.Errorf("%w: trajectory %d fields disagree on step count", ErrInvariant, i)
		}
	}
	return nil
}
