// Package blockseq is a small two-phase environment: an object is a sequence of building
// blocks, and after every block the policy decides whether to continue or stop.
//
// Forward actions alternate between the "pick" phase (choose one of NumBlocks blocks) and the
// "decide" phase (continue or stop). Every state has exactly one parent, so the backward
// action space of every non-source state has a single element.
package blockseq

import (
	"errors"
	"fmt"
	"github.com/sw965/gflow"
	"strconv"
	"strings"
)

const (
	KindPick   gflow.Kind = "pick"
	KindDecide gflow.Kind = "decide"
)

var (
	ErrIllegalAction = errors.New("blockseqエラー: 不正な行動です")
	ErrTerminal      = errors.New("blockseqエラー: 終端状態から遷移できません")
	ErrBadConfig     = errors.New("blockseqエラー: 設定が不正です")
)

type Stage int

const (
	StagePick Stage = iota
	StageDecide
	StageTerminal
)

type Op int

const (
	OpPick Op = iota
	OpContinue
	OpStop
)

type Action struct {
	Op    Op
	Block int
}

func (a Action) String() string {
	switch a.Op {
	case OpPick:
		return "pick(" + strconv.Itoa(a.Block) + ")"
	case OpContinue:
		return "continue"
	default:
		return "stop"
	}
}

// State is immutable; transitions copy Blocks.
type State struct {
	Blocks []int
	Stage  Stage
}

func (s State) Key() string {
	parts := make([]string, len(s.Blocks))
	for i, b := range s.Blocks {
		parts[i] = strconv.Itoa(b)
	}
	return strconv.Itoa(int(s.Stage)) + ":" + strings.Join(parts, ".")
}

func (s State) IsTerminal() bool {
	return s.Stage == StageTerminal
}

type Env struct {
	NumBlocks int
	MaxLen    int
}

func New(numBlocks, maxLen int) (*Env, error) {
	if numBlocks <= 0 || maxLen <= 0 {
		return nil, fmt.Errorf("%w: numBlocks = %d, maxLen = %d", ErrBadConfig, numBlocks, maxLen)
	}
	return &Env{NumBlocks: numBlocks, MaxLen: maxLen}, nil
}

func (e *Env) forwardSpace(s State) (gflow.ActionSpace[Action], error) {
	switch s.Stage {
	case StagePick:
		actions := make([]Action, e.NumBlocks)
		for b := range actions {
			actions[b] = Action{Op: OpPick, Block: b}
		}
		return gflow.NewListSpace(KindPick, actions)
	case StageDecide:
		if len(s.Blocks) >= e.MaxLen {
			return gflow.NewListSpace(KindDecide, []Action{{Op: OpStop}})
		}
		return gflow.NewListSpace(KindDecide, []Action{{Op: OpContinue}, {Op: OpStop}})
	default:
		return nil, fmt.Errorf("%w: %s", ErrTerminal, s.Key())
	}
}

// backwardSpace holds the single action that led into s.
func (e *Env) backwardSpace(s State) (gflow.ActionSpace[Action], error) {
	switch {
	case s.Stage == StageDecide:
		return gflow.NewListSpace(KindPick, []Action{{Op: OpPick, Block: s.Blocks[len(s.Blocks)-1]}})
	case s.Stage == StagePick && len(s.Blocks) > 0:
		return gflow.NewListSpace(KindDecide, []Action{{Op: OpContinue}})
	case s.Stage == StageTerminal:
		return gflow.NewListSpace(KindDecide, []Action{{Op: OpStop}})
	default:
		return nil, fmt.Errorf("%w: source state has no parent", ErrIllegalAction)
	}
}

func (e *Env) ForwardActionSpaces(states []State) ([]gflow.ActionSpace[Action], error) {
	spaces := make([]gflow.ActionSpace[Action], len(states))
	for i, s := range states {
		space, err := e.forwardSpace(s)
		if err != nil {
			return nil, err
		}
		spaces[i] = space
	}
	return spaces, nil
}

func (e *Env) BackwardActionSpaces(states []State) ([]gflow.ActionSpace[Action], error) {
	spaces := make([]gflow.ActionSpace[Action], len(states))
	for i, s := range states {
		space, err := e.backwardSpace(s)
		if err != nil {
			return nil, err
		}
		spaces[i] = space
	}
	return spaces, nil
}

func (e *Env) ApplyForwardActions(states []State, actions []Action) ([]State, error) {
	if len(states) != len(actions) {
		return nil, fmt.Errorf("%w: states = %d, actions = %d", gflow.ErrLengthMismatch, len(states), len(actions))
	}
	next := make([]State, len(states))
	for i, s := range states {
		space, err := e.forwardSpace(s)
		if err != nil {
			return nil, err
		}
		if _, err := space.IndexOf(actions[i]); err != nil {
			return nil, fmt.Errorf("%w: %v at %s", ErrIllegalAction, actions[i], s.Key())
		}
		switch actions[i].Op {
		case OpPick:
			blocks := append(append(make([]int, 0, len(s.Blocks)+1), s.Blocks...), actions[i].Block)
			next[i] = State{Blocks: blocks, Stage: StageDecide}
		case OpContinue:
			next[i] = State{Blocks: s.Blocks, Stage: StagePick}
		case OpStop:
			next[i] = State{Blocks: s.Blocks, Stage: StageTerminal}
		}
	}
	return next, nil
}

func (e *Env) TerminalMask(states []State) ([]bool, error) {
	mask := make([]bool, len(states))
	for i, s := range states {
		mask[i] = s.IsTerminal()
	}
	return mask, nil
}

func (e *Env) IsReversed() bool {
	return false
}

func (e *Env) SourceStates() ([]State, error) {
	return []State{{Stage: StagePick}}, nil
}

func (e *Env) SampleSourceStates(n int) ([]State, error) {
	states := make([]State, n)
	for i := range states {
		states[i] = State{Stage: StagePick}
	}
	return states, nil
}

// TerminalStates enumerates every terminal state, shortest sequences first.
func (e *Env) TerminalStates() []State {
	var out []State
	frontier := [][]int{{}}
	for range e.MaxLen {
		var grown [][]int
		for _, blocks := range frontier {
			for b := range e.NumBlocks {
				seq := append(append(make([]int, 0, len(blocks)+1), blocks...), b)
				grown = append(grown, seq)
				out = append(out, State{Blocks: seq, Stage: StageTerminal})
			}
		}
		frontier = grown
	}
	return out
}
