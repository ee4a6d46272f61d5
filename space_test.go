package gflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sw965/gflow"
)

func TestNewListSpace(t *testing.T) {
	tests := []struct {
		name    string
		actions []string
		wantErr error
	}{
		{name: "正常", actions: []string{"a", "b", "c"}},
		{name: "正常_空", actions: []string{}},
		{name: "異常_重複", actions: []string{"a", "b", "a"}, wantErr: gflow.ErrDuplicateAction},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			space, err := gflow.NewListSpace(gflow.Kind("block"), tc.actions)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tc.actions), space.Len())
			assert.Equal(t, gflow.Kind("block"), space.Kind())
		})
	}
}

func TestListSpaceIndexRoundTrip(t *testing.T) {
	actions := []int{10, 20, 30, 40}
	space, err := gflow.NewListSpace(gflow.Kind("k"), actions)
	require.NoError(t, err)

	for i, a := range actions {
		idx, err := space.IndexOf(a)
		require.NoError(t, err)
		assert.Equal(t, i, idx)

		got, err := space.ActionAt(idx)
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}

	_, err = space.IndexOf(50)
	assert.ErrorIs(t, err, gflow.ErrActionNotFound)
	_, err = space.ActionAt(4)
	assert.ErrorIs(t, err, gflow.ErrIndexOutOfRange)
	_, err = space.ActionAt(-1)
	assert.ErrorIs(t, err, gflow.ErrIndexOutOfRange)
}

func TestListSpacePossibleActionsIsCopy(t *testing.T) {
	space, err := gflow.NewListSpace(gflow.Kind("k"), []int{1, 2})
	require.NoError(t, err)
	got := space.PossibleActions()
	got[0] = 100
	assert.Equal(t, []int{1, 2}, space.PossibleActions())
}

func TestSpacesOf(t *testing.T) {
	a, err := gflow.NewListSpace(gflow.Kind("a"), []int{1})
	require.NoError(t, err)
	b, err := gflow.NewListSpace(gflow.Kind("b"), []int{2, 3})
	require.NoError(t, err)

	spaces := gflow.SpacesOf[int]([]*gflow.ListSpace[int]{a, b})
	require.Len(t, spaces, 2)
	assert.Equal(t, gflow.Kind("a"), spaces[0].Kind())
	assert.Equal(t, 2, spaces[1].Len())
}

func TestRewardOutput(t *testing.T) {
	x := &gflow.RewardOutput{
		LogReward:       []float32{0, 1, 2},
		Reward:          []float32{1, 2, 3},
		Proxy:           []float32{4, 5, 6},
		ProxyComponents: map[string][]float32{"qed": {7, 8, 9}, "sa": {1, 1, 1}},
	}
	require.NoError(t, x.Validate())

	sel := x.Select([]int{2, 0})
	assert.Equal(t, []float32{2, 0}, sel.LogReward)
	assert.Equal(t, []float32{6, 4}, sel.Proxy)
	assert.Equal(t, []float32{9, 7}, sel.ProxyComponents["qed"])

	y := &gflow.RewardOutput{
		LogReward:       []float32{3},
		Reward:          []float32{4},
		Proxy:           []float32{7},
		ProxyComponents: map[string][]float32{"qed": {10}},
	}
	cat := gflow.ConcatRewardOutputs(x, y)
	require.NoError(t, cat.Validate())
	assert.Equal(t, []float32{0, 1, 2, 3}, cat.LogReward)
	assert.Equal(t, []float32{7, 8, 9, 10}, cat.ProxyComponents["qed"])
	assert.NotContains(t, cat.ProxyComponents, "sa")

	bad := &gflow.RewardOutput{LogReward: []float32{1}, Reward: []float32{}, Proxy: []float32{1}}
	assert.ErrorIs(t, bad.Validate(), gflow.ErrLengthMismatch)
}
