package gflow

import (
	"fmt"
	"slices"
)

// ListSpace is an ActionSpace backed by an ordered list of distinct actions.
type ListSpace[A comparable] struct {
	kind    Kind
	actions []A
	index   map[A]int
}

func NewListSpace[A comparable](kind Kind, actions []A) (*ListSpace[A], error) {
	index := make(map[A]int, len(actions))
	for i, a := range actions {
		if _, ok := index[a]; ok {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateAction, a)
		}
		index[a] = i
	}
	return &ListSpace[A]{
		kind:    kind,
		actions: slices.Clone(actions),
		index:   index,
	}, nil
}

func (s *ListSpace[A]) Kind() Kind {
	return s.kind
}

func (s *ListSpace[A]) Len() int {
	return len(s.actions)
}

func (s *ListSpace[A]) PossibleActions() []A {
	return slices.Clone(s.actions)
}

func (s *ListSpace[A]) ActionAt(idx int) (A, error) {
	if idx < 0 || idx >= len(s.actions) {
		var zero A
		return zero, fmt.Errorf("%w: idx = %d, len = %d", ErrIndexOutOfRange, idx, len(s.actions))
	}
	return s.actions[idx], nil
}

func (s *ListSpace[A]) IndexOf(a A) (int, error) {
	idx, ok := s.index[a]
	if !ok {
		return -1, fmt.Errorf("%w: %v (kind = %s)", ErrActionNotFound, a, s.kind)
	}
	return idx, nil
}

// SpacesOf widens concrete spaces to the interface slice the policies consume.
func SpacesOf[A any, T ActionSpace[A]](spaces []T) []ActionSpace[A] {
	out := make([]ActionSpace[A], len(spaces))
	for i, s := range spaces {
		out[i] = s
	}
	return out
}
