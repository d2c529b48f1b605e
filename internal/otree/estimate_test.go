package otree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/otree/internal/cube"
	"github.com/devrev/otree/internal/weight"
)

func TestCubeWeightsBuilder(t *testing.T) {
	b := NewCubeWeightsBuilder(1, 2)

	records := []*Record{
		{Position: 0, Point: []float64{0.1}, Weight: 50},
		{Position: 1, Point: []float64{0.9}, Weight: 10},
		{Position: 2, Point: []float64{0.2}, Weight: 30}, // evicts 50, which moves to the lower child
		{Position: 3, Point: []float64{0.7}, Weight: 90}, // too heavy for the root, goes upper
	}
	for _, r := range records {
		b.Update(r)
	}

	root := cube.Root(1)
	got := b.Result()
	require.Len(t, got, 3)
	assert.Equal(t, weight.FromWeight(30), got[root])
	assert.Equal(t, weight.FromSize(2, 1), got[root.Child(0)])
	assert.Equal(t, weight.FromSize(2, 1), got[root.Child(1)])
}

func TestCubeWeightsBuilderTieBreak(t *testing.T) {
	b := NewCubeWeightsBuilder(1, 1)
	b.Update(&Record{Position: 1, Point: []float64{0.9}, Weight: 7})
	b.Update(&Record{Position: 0, Point: []float64{0.1}, Weight: 7})

	// equal weights: the earlier position wins the root, the later one descends
	h := b.heaps[cube.Root(1)]
	require.Equal(t, 1, h.Len())
	assert.Equal(t, 0, (*h)[0].Position)
	_, ok := b.heaps[cube.Root(1).Child(1)]
	assert.True(t, ok)
}

func TestDescend(t *testing.T) {
	root := cube.Root(2)
	thresholds := map[cube.ID]Threshold{
		root:          {Weight: 100, Position: 5},
		root.Child(3): {Weight: 200, Position: 0},
	}
	upper := []float64{0.9, 0.9}

	tests := []struct {
		name   string
		record Record
		want   cube.ID
	}{
		{"below root", Record{Position: 9, Point: upper, Weight: 99}, root},
		{"root tie, earlier position", Record{Position: 5, Point: upper, Weight: 100}, root},
		{"root tie, later position", Record{Position: 6, Point: upper, Weight: 100}, root.Child(3)},
		{"between", Record{Position: 1, Point: upper, Weight: 150}, root.Child(3)},
		{"child tie, later position", Record{Position: 1, Point: upper, Weight: 200}, root.Child(3).Child(3)},
		{"above all", Record{Position: 0, Point: upper, Weight: 250}, root.Child(3).Child(3)},
		{"other branch", Record{Position: 0, Point: []float64{0.1, 0.1}, Weight: 150}, root.Child(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Descend(2, thresholds, &tt.record))
		})
	}

	assert.Equal(t, root, Descend(2, nil, &Record{Point: []float64{0.1, 0.1}, Weight: weight.MaxValue}))
}

func TestThresholdAdmits(t *testing.T) {
	th := Threshold{Weight: 10, Position: 3}
	assert.True(t, th.Admits(9, 100))
	assert.True(t, th.Admits(10, 3))
	assert.False(t, th.Admits(10, 4))
	assert.False(t, th.Admits(11, 0))
	assert.True(t, Unbounded.Admits(weight.MaxValue, 1<<40))
}

func TestBoundaries(t *testing.T) {
	b := NewCubeWeightsBuilder(1, 2)
	for i, w := range []weight.Weight{7, 7, 7} {
		b.Update(&Record{Position: i, Point: []float64{0.3}, Weight: w})
	}

	got := b.Boundaries()
	require.Len(t, got, 1, "only the root reached the target")
	assert.Equal(t, Threshold{Weight: 7, Position: 1}, got[cube.Root(1)])
}

func TestPartition(t *testing.T) {
	ix := NewIndexer(Options{Partitions: 4}, nil)

	tests := []struct {
		n    int
		want []span
	}{
		{n: 0, want: nil},
		{n: 3, want: []span{{0, 1}, {1, 2}, {2, 3}}},
		{n: 10, want: []span{{0, 3}, {3, 6}, {6, 9}, {9, 10}}},
		{n: 8, want: []span{{0, 2}, {2, 4}, {4, 6}, {6, 8}}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ix.partition(tt.n), "n=%d", tt.n)
	}
}
