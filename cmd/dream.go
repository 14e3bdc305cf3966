package cmd

import (
	"fmt"
	"image/png"
	"math"
	"math/rand/v2"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Lr-2002/iris/wm"
	"github.com/Lr-2002/iris/wm/backbone"
	"github.com/Lr-2002/iris/wm/codec"
)

var (
	dreamPreset      string
	dreamSeed        int64
	dreamSteps       int
	dreamBatch       int
	dreamOut         string
	dreamRenderScale int
)

// dreamCmd rolls a randomly initialized world model forward under random
// actions. It exercises the full stack: codec, backbone, heads and cache.
var dreamCmd = &cobra.Command{
	Use:   "dream",
	Short: "Run an imagined rollout with a randomly initialized world model",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDream()
	},
}

func init() {
	dreamCmd.Flags().StringVar(&dreamPreset, "preset", "tiny", "Configuration preset (tiny, atari)")
	dreamCmd.Flags().Int64Var(&dreamSeed, "seed", 0, "Master seed for all random subsystems")
	dreamCmd.Flags().IntVar(&dreamSteps, "steps", 8, "Number of imagined steps")
	dreamCmd.Flags().IntVar(&dreamBatch, "batch", 1, "Number of parallel rollouts")
	dreamCmd.Flags().StringVar(&dreamOut, "out", "", "Write the final frame of the first rollout as a PNG")
	dreamCmd.Flags().IntVar(&dreamRenderScale, "render-scale", 1, "Integer upscaling factor for rendered frames")
}

func runDream() error {
	preset, err := lookupPreset(dreamPreset)
	if err != nil {
		return err
	}
	cfg := preset.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dreamSteps <= 0 || dreamBatch <= 0 {
		return fmt.Errorf("%w: steps and batch must be positive", wm.ErrConfig)
	}

	rng := wm.NewPartitionedRNG(wm.NewSimulationKey(dreamSeed))
	weights := rng.ForSubsystem(wm.SubsystemWeights)

	bb, err := backbone.New(cfg.EmbedDim, preset.BackboneHidden, preset.BackboneLayers, weights)
	if err != nil {
		return err
	}
	model, err := wm.NewWorldModel(cfg, bb, weights)
	if err != nil {
		return err
	}

	side := int(math.Sqrt(float64(cfg.NumObsTokens())))
	grid, err := codec.NewGrid(side, preset.CellPixels, cfg.ObsVocabSize, weights)
	if err != nil {
		return err
	}
	env, err := wm.NewModelEnv(model, grid, rng, wm.WithRenderScale(dreamRenderScale))
	if err != nil {
		return err
	}

	logrus.Infof("Dreaming preset=%s batch=%d steps=%d seed=%d", dreamPreset, dreamBatch, dreamSteps, dreamSeed)

	actRNG := rng.ForSubsystem(wm.SubsystemCollector)
	if _, err := env.ResetFromObservations(noiseObservations(cfg, side*preset.CellPixels, dreamBatch, actRNG)); err != nil {
		return err
	}

	for step := 0; step < dreamSteps; step++ {
		actions := make([]int64, dreamBatch)
		for b := range actions {
			actions[b] = int64(actRNG.IntN(cfg.ActVocabSize))
		}
		_, rewards, dones, err := env.Step(actions, true)
		if err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		logrus.Infof("Step %d: actions=%v rewards=%v dones=%v", step, actions, rewards, dones)
	}

	metrics := env.Metrics()
	logrus.Infof("Rollout done: steps=%d passes=%d rebuilds=%d terminations=%d",
		metrics.Steps, metrics.Passes, metrics.Rebuilds, metrics.Terminations)

	if dreamOut != "" {
		if err := writeFirstFrame(env, dreamOut); err != nil {
			return err
		}
		logrus.Infof("Wrote final frame to %s", dreamOut)
	}
	return nil
}

// noiseObservations builds a batch of uniform-noise frames with random task
// tokens, enough to seed a rollout without a real environment.
func noiseObservations(cfg wm.Config, frameSize, batch int, rng *rand.Rand) wm.Observations {
	obs := wm.Observations{
		Frames: make([]wm.Frame, batch),
		Tasks:  make([]int64, batch),
	}
	for b := 0; b < batch; b++ {
		f := wm.NewFrame(frameSize, frameSize)
		for i := range f.Pix {
			f.Pix[i] = rng.Float64()
		}
		obs.Frames[b] = f
		obs.Tasks[b] = int64(rng.IntN(cfg.TaskVocabSize))
	}
	return obs
}

func writeFirstFrame(env *wm.ModelEnv, path string) error {
	images, err := env.RenderBatch()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, images[0]); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}
