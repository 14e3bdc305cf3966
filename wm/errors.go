// Defines the error taxonomy shared by the whole package. Every failure is
// fail-fast: the surrounding training or collection loop is expected to treat
// any of these as fatal for the current batch.

package wm

import "errors"

var (
	// ErrConfig reports invalid construction-time configuration: role masks
	// that do not partition the block, an observation-token count that cannot
	// be reshaped into a square grid, or a token count that changed between
	// initializations.
	ErrConfig = errors.New("invalid configuration")

	// ErrInvariant reports a broken runtime invariant: a trajectory with more
	// than one termination event, a cache pushed past its capacity, or a
	// reward outside the discretization range.
	ErrInvariant = errors.New("invariant violation")

	// ErrState reports an operation issued in the wrong lifecycle state, such
	// as stepping or rendering an engine that was never reset.
	ErrState = errors.New("invalid state")
)
