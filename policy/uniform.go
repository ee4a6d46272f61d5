package policy

import (
	"fmt"
	"github.com/chewxy/math32"
	"github.com/sw965/gflow"
	"github.com/sw965/gflow/mathx/randx"
	"math/rand/v2"
)

// Uniform picks every action of a space with the same probability. It is the usual
// backward policy when every state has a single parent per action.
type Uniform[S, A any] struct {
	Rand *rand.Rand
}

func NewUniform[S, A any](src rand.Source) *Uniform[S, A] {
	return &Uniform[S, A]{Rand: rand.New(src)}
}

func (p *Uniform[S, A]) SampleActions(states []S, spaces []gflow.ActionSpace[A]) ([]A, error) {
	if err := gflow.CheckBatch(states, spaces); err != nil {
		return nil, err
	}
	actions := make([]A, len(spaces))
	for i, space := range spaces {
		idx, err := randx.Uniform(space.Len(), p.Rand)
		if err != nil {
			return nil, fmt.Errorf("%w: batch position %d", gflow.ErrEmptyActionSpace, i)
		}
		actions[i], err = space.ActionAt(idx)
		if err != nil {
			return nil, err
		}
	}
	return actions, nil
}

func (p *Uniform[S, A]) ComputeActionLogProbs(states []S, spaces []gflow.ActionSpace[A], actions []A) ([]float32, error) {
	if err := gflow.CheckBatch(states, spaces); err != nil {
		return nil, err
	}
	if len(actions) != len(spaces) {
		return nil, fmt.Errorf("%w: spaces = %d, actions = %d", gflow.ErrLengthMismatch, len(spaces), len(actions))
	}
	logProbs := make([]float32, len(spaces))
	for i, space := range spaces {
		if _, err := space.IndexOf(actions[i]); err != nil {
			return nil, fmt.Errorf("batch position %d: %w", i, err)
		}
		logProbs[i] = -math32.Log(float32(space.Len()))
	}
	return logProbs, nil
}

func (p *Uniform[S, A]) ComputeStatesLogFlow(states []S) ([]float32, error) {
	return nil, gflow.ErrNotImplemented
}
