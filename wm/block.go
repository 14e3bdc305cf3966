// Block layout: role masks over one step's token block and the derived head
// masks. The embedder masks must partition the block exactly; head masks are
// separate and may overlap roles (the observation head is active at the action
// slot, whose successor is the first observation token of the next block).

package wm

import "fmt"

// Role tags which vocabulary a block position belongs to.
type Role int

const (
	RoleObservation Role = iota
	RoleTask
	RoleAction
	numRoles
)

func (r Role) String() string {
	switch r {
	case RoleObservation:
		return "observation"
	case RoleTask:
		return "task"
	case RoleAction:
		return "action"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// BlockMasks holds the per-role 0/1 vectors over one block. The standard
// layout puts the K observation tokens first, then the task token, then the
// action token.
type BlockMasks struct {
	Observation []bool
	Task        []bool
	Action      []bool
}

// NewBlockMasks builds the standard layout for a block of the given size.
func NewBlockMasks(tokensPerBlock int) (BlockMasks, error) {
	if tokensPerBlock < 3 {
		return BlockMasks{}, fmt.Errorf("%w: block of size %d cannot hold observation, task and action slots",
			ErrConfig, tokensPerBlock)
	}
	m := BlockMasks{
		Observation: make([]bool, tokensPerBlock),
		Task:        make([]bool, tokensPerBlock),
		Action:      make([]bool, tokensPerBlock),
	}
	for i := 0; i < tokensPerBlock-2; i++ {
		m.Observation[i] = true
	}
	m.Task[tokensPerBlock-2] = true
	m.Action[tokensPerBlock-1] = true
	return m, nil
}

// Size returns the block length in tokens.
func (m BlockMasks) Size() int { return len(m.Observation) }

// Roles validates that the three masks partition the block exactly and
// returns the role of each block offset.
func (m BlockMasks) Roles() ([]Role, error) {
	size := m.Size()
	if len(m.Task) != size || len(m.Action) != size || size == 0 {
		return nil, fmt.Errorf("%w: role masks must share one nonzero block length (obs=%d task=%d act=%d)",
			ErrConfig, len(m.Observation), len(m.Task), len(m.Action))
	}
	roles := make([]Role, size)
	for i := 0; i < size; i++ {
		marked := 0
		if m.Observation[i] {
			roles[i] = RoleObservation
			marked++
		}
		if m.Task[i] {
			roles[i] = RoleTask
			marked++
		}
		if m.Action[i] {
			roles[i] = RoleAction
			marked++
		}
		if marked != 1 {
			return nil, fmt.Errorf("%w: role masks do not partition the block: %d masks set at offset %d",
				ErrConfig, marked, i)
		}
	}
	return roles, nil
}

// ObsHeadMask marks the positions whose successor is an observation token,
// i.e. the positions from which the next observation token is predicted. In
// the standard layout that is every offset except the last observation slot
// and the task slot.
func (m BlockMasks) ObsHeadMask() []bool {
	size := m.Size()
	mask := make([]bool, size)
	for i := 0; i < size; i++ {
		mask[i] = m.Observation[(i+1)%size]
	}
	return mask
}

// RewardHeadMask marks the action slot; reward is predicted there.
func (m BlockMasks) RewardHeadMask() []bool { return append([]bool(nil), m.Action...) }

// EndHeadMask marks the action slot; termination is predicted there.
func (m BlockMasks) EndHeadMask() []bool { return append([]bool(nil), m.Action...) }
