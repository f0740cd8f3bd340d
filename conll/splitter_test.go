package conll

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingShuffler struct {
	calls int
}

func (s *countingShuffler) Shuffle(n int, swap func(i, j int)) { s.calls++ }

func corpus(n int, docstart bool) string {
	blocks := make([]string, 0, n+1)
	if docstart {
		blocks = append(blocks, "-DOCSTART- -X- -X- O")
	}
	for i := 0; i < n; i++ {
		blocks = append(blocks, fmt.Sprintf("tok%d NN B-NP O\nend%d NN I-NP O", i, i))
	}
	return strings.Join(blocks, "\n\n") + "\n"
}

func collect(groups []Group) []string {
	var all []string
	for _, g := range groups {
		all = append(all, g.Blocks...)
	}
	sort.Strings(all)
	return all
}

func TestSplitRejectsRatioSumAboveOne(t *testing.T) {
	rng := &countingShuffler{}
	groups, err := Split(corpus(4, false), Ratios{Train: 0.6, Val: 0.3, Test: 0.3}, rng)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRatioSum))
	assert.True(t, IsConfigError(err))
	assert.Nil(t, groups)
	assert.Zero(t, rng.calls, "no shuffling may happen before validation")
}

func TestSplitZeroTestRatioDropsTestGroup(t *testing.T) {
	groups, err := Split(corpus(4, false), Ratios{Train: 0.5, Val: 0.5, Test: 0}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	require.Len(t, groups, 2)
	assert.Equal(t, TrainSplit, groups[0].Name)
	assert.Equal(t, ValidationSplit, groups[1].Name)
	assert.Len(t, groups[0].Blocks, 2)
	assert.Len(t, groups[1].Blocks, 2)

	_, all := Blocks(corpus(4, false))
	sort.Strings(all)
	assert.Equal(t, all, collect(groups))
}

func TestSplitZeroRatioForcesEmptyGroup(t *testing.T) {
	// floor(10*0.5)=5 leaves 5 blocks past val_end; test is still empty.
	groups, err := Split(corpus(10, false), Ratios{Train: 0.5, Val: 0, Test: 0}, rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	require.Len(t, groups, 1)
	assert.Equal(t, TrainSplit, groups[0].Name)
	assert.Len(t, groups[0].Blocks, 5)
}

func TestSplitFloorArithmetic(t *testing.T) {
	tests := []struct {
		name   string
		blocks int
		ratios Ratios
		want   map[string]int
	}{
		{name: "defaults on ten", blocks: 10, ratios: DefaultRatios, want: map[string]int{"train": 7, "val": 1, "test": 2}},
		{name: "80/10/10 on seven", blocks: 7, ratios: Ratios{0.8, 0.1, 0.1}, want: map[string]int{"train": 5, "test": 2}},
		{name: "remainder goes to test", blocks: 9, ratios: Ratios{0.5, 0.25, 0.1}, want: map[string]int{"train": 4, "val": 2, "test": 3}},
		{name: "train only at full ratio", blocks: 3, ratios: Ratios{1, 0, 0}, want: map[string]int{"train": 3}},
		{name: "test only", blocks: 3, ratios: Ratios{0, 0, 1}, want: map[string]int{"test": 3}},
		{name: "all zero", blocks: 3, ratios: Ratios{0, 0, 0}, want: map[string]int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups, err := Split(corpus(tt.blocks, false), tt.ratios, rand.New(rand.NewSource(3)))
			require.NoError(t, err)

			got := map[string]int{}
			for _, g := range groups {
				got[g.Name] = len(g.Blocks)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitPreservesEveryBlockExactlyOnce(t *testing.T) {
	ratios := []Ratios{
		DefaultRatios,
		{0.8, 0.1, 0.1},
		{0.34, 0.33, 0.33},
		{0.1, 0.2, 0.7},
		{0.25, 0.25, 0.5},
		{0.9, 0.05, 0.05},
	}
	for n := 1; n <= 25; n++ {
		text := corpus(n, n%2 == 0)
		_, want := Blocks(text)
		sort.Strings(want)

		for _, r := range ratios {
			groups, err := Split(text, r, rand.New(rand.NewSource(int64(n))))
			if errors.Is(err, ErrRatioSum) {
				continue
			}
			require.NoError(t, err)
			assert.Equal(t, want, collect(groups), "n=%d ratios=%v", n, r)
		}
	}
}

func TestSplitReinsertsDocStart(t *testing.T) {
	groups, err := Split(corpus(6, true), DefaultRatios, rand.New(rand.NewSource(4)))
	require.NoError(t, err)
	require.NotEmpty(t, groups)

	for _, g := range groups {
		assert.Equal(t, "-DOCSTART- -X- -X- O", g.Marker)
		assert.True(t, strings.HasPrefix(g.Text(), "-DOCSTART- -X- -X- O\n\n"), g.Name)
		assert.Equal(t, len(g.Blocks)+1, g.BlockCount())
		for _, b := range g.Blocks {
			assert.False(t, strings.HasPrefix(b, DocStart))
		}
	}
}

func TestSplitSameSeedSameMembership(t *testing.T) {
	text := corpus(20, false)
	a, err := Split(text, DefaultRatios, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	b, err := Split(text, DefaultRatios, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSplitEmptyCorpus(t *testing.T) {
	groups, err := Split("  \n\n ", DefaultRatios, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestGroupText(t *testing.T) {
	g := Group{Name: TestSplit, Blocks: []string{"a NN B-NP O", "b NN B-NP O\nc NN I-NP O"}}
	assert.Equal(t, "a NN B-NP O\n\nb NN B-NP O\nc NN I-NP O\n", g.Text())
	assert.Equal(t, "test.conll", g.FileName())
	assert.Equal(t, 2, g.BlockCount())
}

func TestParseRatios(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Ratios
		wantErr error
	}{
		{name: "defaults", input: "0.7,0.15,0.15", want: DefaultRatios},
		{name: "spaces", input: " 0.8 , 0.1 ,0.1", want: Ratios{0.8, 0.1, 0.1}},
		{name: "under one", input: "0.5,0.2,0", want: Ratios{0.5, 0.2, 0}},
		{name: "two values", input: "0.5,0.5", wantErr: ErrRatioCount},
		{name: "four values", input: "0.5,0.2,0.2,0.1", wantErr: ErrRatioCount},
		{name: "not a number", input: "a,0.2,0.2", wantErr: ErrRatioValue},
		{name: "negative", input: "-0.1,0.5,0.5", wantErr: ErrRatioValue},
		{name: "nan", input: "NaN,0,0", wantErr: ErrRatioValue},
		{name: "sum above one", input: "0.6,0.4,0.2", wantErr: ErrRatioSum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRatios(tt.input)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
