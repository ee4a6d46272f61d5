package policy_test

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sw965/gflow"
	"github.com/sw965/gflow/blas32/tensor/2d"
	"github.com/sw965/gflow/mathx/randx"
	"github.com/sw965/gflow/policy"
	"gonum.org/v1/gonum/blas/blas32"
)

const (
	kindPick gflow.Kind = "pick"
	kindStop gflow.Kind = "stop"
)

func listSpace(t *testing.T, kind gflow.Kind, actions ...string) gflow.ActionSpace[string] {
	t.Helper()
	s, err := gflow.NewListSpace(kind, actions)
	require.NoError(t, err)
	return s
}

// mixedBatch has kinds [stop, pick, stop, pick, pick] at positions 0..4.
func mixedBatch(t *testing.T) ([]int, []gflow.ActionSpace[string]) {
	states := []int{0, 1, 2, 3, 4}
	spaces := []gflow.ActionSpace[string]{
		listSpace(t, kindStop, "go", "stop"),
		listSpace(t, kindPick, "a", "b", "c"),
		listSpace(t, kindStop, "go", "stop"),
		listSpace(t, kindPick, "a"),
		listSpace(t, kindPick, "a", "b"),
	}
	return states, spaces
}

// positionPhase writes -(position) into every valid column, so any score read back
// identifies the batch position that produced it.
func positionPhase(calls *[]gflow.Kind, kind gflow.Kind, seen map[gflow.Kind][]int) policy.PhaseFunc[int, string, []int] {
	return func(emb []int, positions []int, states []int, spaces []gflow.ActionSpace[string]) (blas32.General, error) {
		*calls = append(*calls, kind)
		seen[kind] = append(seen[kind], positions...)
		rows := make([][]float32, len(states))
		for r, pos := range positions {
			rows[r] = make([]float32, spaces[r].Len())
			for c := range rows[r] {
				rows[r][c] = -float32(emb[pos])
			}
		}
		return tensor2d.ToDense(rows, math32.Inf(-1)), nil
	}
}

func TestFewPhaseDispatchOrder(t *testing.T) {
	var calls []gflow.Kind
	seen := map[gflow.Kind][]int{}
	p := &policy.FewPhase[int, string, []int]{
		Phases: []policy.Phase[int, string, []int]{
			{Kind: kindPick, Func: positionPhase(&calls, kindPick, seen)},
			{Kind: kindStop, Func: positionPhase(&calls, kindStop, seen)},
		},
		SharedEmbeddingsFunc: func(states []int) ([]int, error) { return states, nil },
		Source:               randx.NewPCG(1),
	}
	states, spaces := mixedBatch(t)
	actions := []string{"stop", "c", "go", "a", "b"}

	logProbs, err := p.ComputeActionLogProbs(states, spaces, actions)
	require.NoError(t, err)

	assert.Equal(t, []gflow.Kind{kindPick, kindStop}, calls, "phases run in registration order")
	assert.Equal(t, []int{1, 3, 4}, seen[kindPick])
	assert.Equal(t, []int{0, 2}, seen[kindStop])
	assert.Equal(t, []float32{0, -1, -2, -3, -4}, logProbs, "outputs come back in batch order")
}

func TestFewPhaseSkipsEmptyPhase(t *testing.T) {
	var calls []gflow.Kind
	seen := map[gflow.Kind][]int{}
	p := &policy.FewPhase[int, string, []int]{
		Phases: []policy.Phase[int, string, []int]{
			{Kind: kindPick, Func: positionPhase(&calls, kindPick, seen)},
			{Kind: kindStop, Func: positionPhase(&calls, kindStop, seen)},
		},
		SharedEmbeddingsFunc: func(states []int) ([]int, error) { return states, nil },
		Source:               randx.NewPCG(1),
	}
	spaces := []gflow.ActionSpace[string]{listSpace(t, kindStop, "go", "stop")}
	_, err := p.ComputeActionLogProbs([]int{0}, spaces, []string{"go"})
	require.NoError(t, err)
	assert.Equal(t, []gflow.Kind{kindStop}, calls)
}

// onehotPhase puts all mass on column (state % Len).
func onehotPhase(_ struct{}, _ []int, states []int, spaces []gflow.ActionSpace[string]) (blas32.General, error) {
	rows := make([][]float32, len(states))
	for r, s := range states {
		n := spaces[r].Len()
		rows[r] = make([]float32, n)
		for c := range rows[r] {
			rows[r][c] = math32.Inf(-1)
		}
		rows[r][s%n] = 0
	}
	return tensor2d.ToDense(rows, math32.Inf(-1)), nil
}

func noEmbeddings(states []int) (struct{}, error) {
	return struct{}{}, nil
}

func TestFewPhaseSampleActions(t *testing.T) {
	p := &policy.FewPhase[int, string, struct{}]{
		Phases: []policy.Phase[int, string, struct{}]{
			{Kind: kindStop, Func: onehotPhase},
			{Kind: kindPick, Func: onehotPhase},
		},
		SharedEmbeddingsFunc: noEmbeddings,
		Source:               randx.NewPCG(3),
	}
	states, spaces := mixedBatch(t)
	actions, err := p.SampleActions(states, spaces)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "b", "go", "a", "a"}, actions)

	logProbs, err := p.ComputeActionLogProbs(states, spaces, actions)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0, 0}, logProbs)
}

func TestFewPhaseErrors(t *testing.T) {
	states, spaces := mixedBatch(t)

	onlyPick := &policy.FewPhase[int, string, struct{}]{
		Phases:               []policy.Phase[int, string, struct{}]{{Kind: kindPick, Func: onehotPhase}},
		SharedEmbeddingsFunc: noEmbeddings,
		Source:               randx.NewPCG(1),
	}
	_, err := onlyPick.SampleActions(states, spaces)
	assert.ErrorIs(t, err, policy.ErrUnregisteredKind)

	dup := &policy.FewPhase[int, string, struct{}]{
		Phases: []policy.Phase[int, string, struct{}]{
			{Kind: kindPick, Func: onehotPhase},
			{Kind: kindPick, Func: onehotPhase},
		},
		SharedEmbeddingsFunc: noEmbeddings,
		Source:               randx.NewPCG(1),
	}
	assert.ErrorIs(t, dup.Validate(), policy.ErrDuplicateKind)

	nilFunc := &policy.FewPhase[int, string, struct{}]{
		Phases:               []policy.Phase[int, string, struct{}]{{Kind: kindPick}},
		SharedEmbeddingsFunc: noEmbeddings,
		Source:               randx.NewPCG(1),
	}
	assert.ErrorIs(t, nilFunc.Validate(), policy.ErrNilFunc)
	assert.ErrorIs(t, (&policy.FewPhase[int, string, struct{}]{}).Validate(), policy.ErrNoPhases)

	badPadding := &policy.FewPhase[int, string, struct{}]{
		Phases: []policy.Phase[int, string, struct{}]{
			{Kind: kindPick, Func: func(_ struct{}, _ []int, states []int, _ []gflow.ActionSpace[string]) (blas32.General, error) {
				return tensor2d.NewZeros(len(states), 3), nil
			}},
			{Kind: kindStop, Func: onehotPhase},
		},
		SharedEmbeddingsFunc: noEmbeddings,
		Source:               randx.NewPCG(1),
	}
	_, err = badPadding.SampleActions(states, spaces)
	assert.ErrorIs(t, err, policy.ErrPhaseOutput)

	deadRow := &policy.FewPhase[int, string, struct{}]{
		Phases: []policy.Phase[int, string, struct{}]{
			{Kind: kindPick, Func: func(_ struct{}, _ []int, states []int, _ []gflow.ActionSpace[string]) (blas32.General, error) {
				return tensor2d.NewFilled(len(states), 3, math32.Inf(-1)), nil
			}},
			{Kind: kindStop, Func: onehotPhase},
		},
		SharedEmbeddingsFunc: noEmbeddings,
		Source:               randx.NewPCG(1),
	}
	_, err = deadRow.SampleActions(states, spaces)
	assert.ErrorIs(t, err, randx.ErrNoSupport)

	emptyPhase := func(_ struct{}, _ []int, states []int, _ []gflow.ActionSpace[string]) (blas32.General, error) {
		return tensor2d.ToDense(make([][]float32, len(states)), math32.Inf(-1)), nil
	}
	withEmpty := &policy.FewPhase[int, string, struct{}]{
		Phases: []policy.Phase[int, string, struct{}]{
			{Kind: kindPick, Func: onehotPhase},
			{Kind: kindStop, Func: emptyPhase},
		},
		SharedEmbeddingsFunc: noEmbeddings,
		Source:               randx.NewPCG(1),
	}
	emptySpaces := []gflow.ActionSpace[string]{listSpace(t, kindPick, "a"), listSpace(t, kindStop)}
	assert.NotPanics(t, func() {
		_, err = withEmpty.SampleActions([]int{0, 1}, emptySpaces)
	})
	assert.ErrorIs(t, err, gflow.ErrEmptyActionSpace)
	assert.ErrorContains(t, err, "batch position 1")

	ok := &policy.FewPhase[int, string, struct{}]{
		Phases: []policy.Phase[int, string, struct{}]{
			{Kind: kindPick, Func: onehotPhase},
			{Kind: kindStop, Func: onehotPhase},
		},
		SharedEmbeddingsFunc: noEmbeddings,
		Source:               randx.NewPCG(1),
	}
	_, err = ok.ComputeActionLogProbs(states, spaces, []string{"go", "zzz", "go", "a", "a"})
	assert.ErrorIs(t, err, gflow.ErrActionNotFound)
	_, err = ok.ComputeActionLogProbs(states, spaces, []string{"go"})
	assert.ErrorIs(t, err, gflow.ErrLengthMismatch)
	_, err = ok.ComputeStatesLogFlow(states)
	assert.ErrorIs(t, err, gflow.ErrNotImplemented)
}
