// Package gflow defines the core contracts of a GFlowNet trainer: typed action spaces,
// environments that expose a directed state graph, and policies that sample and score
// actions over a batch of states.
//
// Package gflow は GFlowNet の学習に必要な基本的な契約（行動空間・環境・方策）を定義します。
package gflow

import (
	"errors"
	"fmt"
)

var (
	ErrNotImplemented   = errors.New("未実装エラー")
	ErrLengthMismatch   = errors.New("長さ不一致エラー")
	ErrIndexOutOfRange  = errors.New("インデックスエラー: 範囲外です")
	ErrDuplicateAction  = errors.New("ActionSpaceエラー: 重複した行動があります")
	ErrActionNotFound   = errors.New("ActionSpaceエラー: 行動が存在しません")
	ErrEmptyActionSpace = errors.New("ActionSpaceエラー: 要素数が0です")
)

// Kind tags the variant of an ActionSpace. Policies dispatch on it, one phase per Kind.
type Kind string

type ActionSpace[A any] interface {
	Kind() Kind
	Len() int
	PossibleActions() []A
	ActionAt(idx int) (A, error)
	IndexOf(a A) (int, error)
}

// Environment describes the state graph. Every method works on a batch.
// ApplyForwardActions must not mutate the given states.
type Environment[S, A any] interface {
	ForwardActionSpaces(states []S) ([]ActionSpace[A], error)
	BackwardActionSpaces(states []S) ([]ActionSpace[A], error)
	ApplyForwardActions(states []S, actions []A) ([]S, error)
	TerminalMask(states []S) ([]bool, error)
	// IsReversed reports that the environment walks the graph backwards, so sampled
	// trajectories have to be reversed before use.
	IsReversed() bool
}

type SourcedEnvironment[S, A any] interface {
	Environment[S, A]
	SampleSourceStates(n int) ([]S, error)
	SourceStates() ([]S, error)
}

// Policy samples and scores actions. Implementations that cannot estimate state flows
// return ErrNotImplemented from ComputeStatesLogFlow.
type Policy[S, A any] interface {
	SampleActions(states []S, spaces []ActionSpace[A]) ([]A, error)
	ComputeActionLogProbs(states []S, spaces []ActionSpace[A], actions []A) ([]float32, error)
	ComputeStatesLogFlow(states []S) ([]float32, error)
}

func CheckBatch[S, A any](states []S, spaces []ActionSpace[A]) error {
	if len(states) != len(spaces) {
		return fmt.Errorf("%w: states = %d, spaces = %d", ErrLengthMismatch, len(states), len(spaces))
	}
	return nil
}
