// The block embedder: role-dispatched token embedding over one flat sequence.
// Each absolute position's role is its offset within the block, so the same
// embedder serves full-sequence training calls and single-token incremental
// calls at arbitrary offsets.

package wm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Embedder maps a flat token sequence into embedding vectors via per-role
// tables. The role of absolute position p is determined by p mod block size
// using per-offset role indices precomputed at construction.
type Embedder struct {
	blockSize int
	roles     []Role
	tables    [numRoles]*mat.Dense // rows = vocabulary size, cols = embed dim
	embedDim  int
}

// NewEmbedder validates that the masks partition the block and that all
// tables share one embedding width.
func NewEmbedder(masks BlockMasks, obsTable, taskTable, actTable *mat.Dense) (*Embedder, error) {
	roles, err := masks.Roles()
	if err != nil {
		return nil, err
	}
	e := &Embedder{
		blockSize: masks.Size(),
		roles:     roles,
	}
	e.tables[RoleObservation] = obsTable
	e.tables[RoleTask] = taskTable
	e.tables[RoleAction] = actTable
	for role, table := range e.tables {
		if table == nil {
			return nil, fmt.Errorf("%w: missing embedding table for %s tokens", ErrConfig, Role(role))
		}
		rows, cols := table.Dims()
		if rows == 0 || cols == 0 {
			return nil, fmt.Errorf("%w: empty embedding table for %s tokens", ErrConfig, Role(role))
		}
		if e.embedDim == 0 {
			e.embedDim = cols
		} else if cols != e.embedDim {
			return nil, fmt.Errorf("%w: %s table width %d does not match embed dim %d",
				ErrConfig, Role(role), cols, e.embedDim)
		}
	}
	return e, nil
}

// EmbedDim returns the shared embedding width of the tables.
func (e *Embedder) EmbedDim() int { return e.embedDim }

// BlockSize returns the block length the role dispatch cycles over.
func (e *Embedder) BlockSize() int { return e.blockSize }

// Embed looks up embeddings for numNew tokens per batch element, where the
// first token sits at absolute position prevSteps. The returned matrices are
// (numNew x embedDim), one per batch element.
func (e *Embedder) Embed(tokens [][]int64, numNew, prevSteps int) ([]*mat.Dense, error) {
	if numNew <= 0 || prevSteps < 0 {
		return nil, fmt.Errorf("%w: embed called with numNew=%d prevSteps=%d", ErrInvariant, numNew, prevSteps)
	}
	out := make([]*mat.Dense, len(tokens))
	for b, seq := range tokens {
		if len(seq) != numNew {
			return nil, fmt.Errorf("%w: batch element %d has %d tokens, expected %d",
				ErrInvariant, b, len(seq), numNew)
		}
		dst := mat.NewDense(numNew, e.embedDim, nil)
		for i, tok := range seq {
			role := e.roles[(prevSteps+i)%e.blockSize]
			table := e.tables[role]
			rows, _ := table.Dims()
			if tok < 0 || tok >= int64(rows) {
				return nil, fmt.Errorf("%w: %s token %d out of vocabulary range [0,%d)",
					ErrInvariant, role, tok, rows)
			}
			dst.SetRow(i, table.RawRowView(int(tok)))
		}
		out[b] = dst
	}
	return out, nil
}
