// Package wm implements a learned world-model simulator: a block-structured
// autoregressive model over interleaved observation, task and action tokens,
// and the rollout engine that drives it to produce imagined trajectories.
//
// # Reading Guide
//
// Start with these three files to understand the core:
//   - block.go: the per-step token block and the role masks over it
//   - worldmodel.go: embedder + backbone + masked heads, the forward pass
//   - rollout.go: the multi-pass stepping state machine and the cache lifecycle
//
// # Architecture
//
// The package defines interfaces for its external collaborators;
// implementations live in sub-packages:
//   - wm/backbone: reference causal self-attention Backbone
//   - wm/codec: reference vector-quantizer TokenCodec
//
// The incremental cache (cache.go) is an explicit resource object: the core
// tracks occupancy and enforces the capacity invariant, the backbone owns the
// projections stored inside. One cache belongs to one rollout engine; callers
// must serialize access per instance.
//
// Everything is single-threaded and batch-vectorized: one forward pass
// processes all batch elements together, and a step either runs all its
// passes to completion or fails.
package wm
