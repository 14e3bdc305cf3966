// The training loss: three independent classification losses over the
// interleaved token sequence. Observation-token prediction is shifted by one
// position (each head position predicts the next observation token); reward
// and termination are predicted at the action slot.

package wm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ignoreLabel marks positions that contribute nothing to the loss.
const ignoreLabel int64 = -100

// RewardClass discretizes a reward into one of three classes via the fixed
// affine map class = round(2r). Rewards whose class falls outside [0, 3) are
// rejected by the loss rather than silently mis-binned.
func RewardClass(r float64) int64 { return int64(math.Round(2 * r)) }

// RewardValue inverts RewardClass exactly: value = class / 2.
func RewardValue(class int64) float64 { return float64(class) / 2 }

// Losses holds the three named prediction losses.
type Losses struct {
	Observations float64
	Rewards      float64
	Ends         float64
}

// Total returns the sum of the three losses.
func (l Losses) Total() float64 { return l.Observations + l.Rewards + l.Ends }

// ComputeLoss encodes the batch's frames through the codec, builds the
// interleaved per-step token sequence, runs a full (cache-free) forward pass
// and evaluates the three cross-entropy losses. Each loss is averaged over
// its non-ignored labels and is zero when every label is ignored.
func (m *WorldModel) ComputeLoss(batch Batch, codec TokenCodec) (Losses, error) {
	if err := batch.Validate(); err != nil {
		return Losses{}, err
	}
	numObs := m.cfg.NumObsTokens()
	steps := batch.Steps()

	tokens := make([][]int64, batch.Size())
	obsTokens := make([][][]int64, batch.Size())
	for b := 0; b < batch.Size(); b++ {
		terminations := int64(0)
		for _, end := range batch.Ends[b] {
			if end != 0 && end != 1 {
				return Losses{}, fmt.Errorf("%w: termination flag %d is not 0 or 1", ErrInvariant, end)
			}
			terminations += end
		}
		if terminations > 1 {
			return Losses{}, fmt.Errorf("%w: trajectory %d has %d termination events",
				ErrInvariant, b, terminations)
		}

		encoded, err := codec.Encode(batch.Observations.Frames[b])
		if err != nil {
			return Losses{}, fmt.Errorf("encode trajectory %d: %w", b, err)
		}
		seq := make([]int64, 0, steps*m.cfg.TokensPerBlock)
		for t := 0; t < steps; t++ {
			if len(encoded[t]) != numObs {
				return Losses{}, fmt.Errorf("%w: codec produced %d observation tokens, expected %d",
					ErrConfig, len(encoded[t]), numObs)
			}
			seq = append(seq, encoded[t]...)
			seq = append(seq, batch.Observations.Tasks[b][t])
			seq = append(seq, batch.Actions[b][t])
		}
		tokens[b] = seq
		obsTokens[b] = encoded
	}

	out, err := m.Forward(tokens, nil)
	if err != nil {
		return Losses{}, err
	}

	var obsLoss, rewardLoss, endLoss ceAccum
	for b := 0; b < batch.Size(); b++ {
		// Observation labels: the flattened observation-token stream shifted
		// by one; the final position has no next-step label.
		obsLabels := make([]int64, 0, steps*numObs)
		for t := 0; t < steps; t++ {
			for k := 0; k < numObs; k++ {
				if batch.MaskPadding[b][t] {
					obsLabels = append(obsLabels, obsTokens[b][t][k])
				} else {
					obsLabels = append(obsLabels, ignoreLabel)
				}
			}
		}
		obsLogits := out.Obs.Logits[b]
		rows, _ := obsLogits.Dims()
		if rows != steps*numObs {
			return Losses{}, fmt.Errorf("%w: observation head produced %d rows, expected %d",
				ErrInvariant, rows, steps*numObs)
		}
		if rows > 1 {
			_, cols := obsLogits.Dims()
			if err := obsLoss.add(obsLogits.Slice(0, rows-1, 0, cols), obsLabels[1:]); err != nil {
				return Losses{}, err
			}
		}

		rewardLabels := make([]int64, steps)
		endLabels := make([]int64, steps)
		for t := 0; t < steps; t++ {
			if !batch.MaskPadding[b][t] {
				rewardLabels[t] = ignoreLabel
				endLabels[t] = ignoreLabel
				continue
			}
			class := RewardClass(batch.Rewards[b][t])
			if class < 0 || class >= rewardClasses {
				return Losses{}, fmt.Errorf("%w: reward %v discretizes to class %d outside [0,%d)",
					ErrInvariant, batch.Rewards[b][t], class, rewardClasses)
			}
			rewardLabels[t] = class
			endLabels[t] = batch.Ends[b][t]
		}
		if err := rewardLoss.add(out.Reward.Logits[b], rewardLabels); err != nil {
			return Losses{}, err
		}
		if err := endLoss.add(out.End.Logits[b], endLabels); err != nil {
			return Losses{}, err
		}
	}

	return Losses{
		Observations: obsLoss.mean(),
		Rewards:      rewardLoss.mean(),
		Ends:         endLoss.mean(),
	}, nil
}

// ceAccum accumulates cross-entropy over non-ignored labels.
type ceAccum struct {
	sum   float64
	count int
}

func (a *ceAccum) add(logits mat.Matrix, labels []int64) error {
	rows, cols := logits.Dims()
	if rows != len(labels) {
		return fmt.Errorf("%w: %d logit rows for %d labels", ErrInvariant, rows, len(labels))
	}
	row := make([]float64, cols)
	for i, label := range labels {
		if label == ignoreLabel {
			continue
		}
		if label < 0 || label >= int64(cols) {
			return fmt.Errorf("%w: label %d out of class range [0,%d)", ErrInvariant, label, cols)
		}
		mat.Row(row, i, logits)
		a.sum += floats.LogSumExp(row) - row[label]
		a.count++
	}
	return nil
}

func (a *ceAccum) mean() float64 {
	if a.count == 0 {
		return 0
	}
	return a.sum / float64(a.count)
}
