package weight

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestFromSeedDeterministic(t *testing.T) {
	key := []byte("record-42")

	w1 := FromSeed(key, 7)
	w2 := FromSeed(key, 7)
	assert.Equal(t, w1, w2)
	assert.True(t, w1.IsValid())

	assert.NotEqual(t, w1, FromSeed(key, 8), "seed must change the weight")
	assert.NotEqual(t, w1, FromSeed([]byte("record-43"), 7))
}

func TestFromSeedRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.SliceOf(rapid.Byte()).Draw(t, "key")
		seed := rapid.Uint64().Draw(t, "seed")

		w := FromSeed(key, seed)
		if w <= MinValue || w > MaxValue {
			t.Fatalf("weight %d out of range", w)
		}
		f := w.Fraction()
		if f <= 0 || f > 1 {
			t.Fatalf("fraction %v out of (0,1]", f)
		}
	})
}

func TestFromSeedUniform(t *testing.T) {
	const n = 20000
	buckets := make([]int, 10)
	for i := 0; i < n; i++ {
		w := FromSeed([]byte(fmt.Sprintf("row-%d", i)), 1)
		idx := int(w.Fraction() * 10)
		if idx == 10 {
			idx = 9
		}
		buckets[idx]++
	}
	for i, count := range buckets {
		assert.InDelta(t, n/10, count, n/50, "bucket %d is skewed", i)
	}
}

func TestFraction(t *testing.T) {
	tests := []struct {
		name string
		w    Weight
		want float64
	}{
		{name: "max", w: MaxValue, want: 1},
		{name: "middle", w: 0, want: 0.5},
		{name: "smallest valid", w: MinValue + 1, want: 1 / span},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.w.Fraction(), 1e-9)
		})
	}
}

func TestFromFraction(t *testing.T) {
	assert.Equal(t, MaxValue, FromFraction(1))
	assert.Equal(t, MaxValue, FromFraction(3))
	assert.Equal(t, MinValue+1, FromFraction(0))
	assert.Equal(t, MinValue+1, FromFraction(-1))
	assert.Equal(t, MinValue+1, FromFraction(math.NaN()))

	rapid.Check(t, func(t *rapid.T) {
		w := Weight(rapid.Int32Range(math.MinInt32+1, math.MaxInt32).Draw(t, "w"))
		back := FromFraction(w.Fraction())
		if back != w {
			t.Fatalf("round trip %d -> %v -> %d", w, w.Fraction(), back)
		}
	})
}

func TestCompareMinMax(t *testing.T) {
	assert.Equal(t, -1, Compare(1, 2))
	assert.Equal(t, 1, Compare(2, 1))
	assert.Equal(t, 0, Compare(2, 2))
	assert.Equal(t, Weight(1), Min(1, 2))
	assert.Equal(t, Weight(2), Max(1, 2))
}

func TestNormalizedFromSize(t *testing.T) {
	assert.Equal(t, Normalized(2), FromSize(10000, 5000))
	assert.Equal(t, Normalized(1), FromSize(10000, 10000))
	assert.True(t, math.IsInf(float64(FromSize(10, 0)), 1))
}

func TestNormalizedMerge(t *testing.T) {
	// two half-full partitions make one full cube
	assert.InDelta(t, 1.0, float64(Merge(FromSize(100, 50), FromSize(100, 50))), 1e-12)
	assert.Equal(t, Normalized(2), Merge(Unbounded, 2))
	assert.Equal(t, Normalized(0.25), MergeAll(0.5, 0.5))
	assert.True(t, math.IsInf(float64(MergeAll()), 1))

	rapid.Check(t, func(t *rapid.T) {
		a := Normalized(rapid.Float64Range(0.001, 100).Draw(t, "a"))
		b := Normalized(rapid.Float64Range(0.001, 100).Draw(t, "b"))
		c := Normalized(rapid.Float64Range(0.001, 100).Draw(t, "c"))

		if math.Abs(float64(Merge(a, b)-Merge(b, a))) > 1e-12 {
			t.Fatalf("merge is not commutative for %v %v", a, b)
		}
		left := Merge(Merge(a, b), c)
		right := Merge(a, Merge(b, c))
		if math.Abs(float64(left-right)) > 1e-9*float64(left) {
			t.Fatalf("merge is not associative: %v != %v", left, right)
		}
		if Merge(a, b) > a || Merge(a, b) > b {
			t.Fatalf("merge must tighten the bound")
		}
	})
}

func TestNormalizedToWeight(t *testing.T) {
	assert.Equal(t, MaxValue, Normalized(2).ToWeight())
	assert.Equal(t, MaxValue, Normalized(1).ToWeight())
	assert.Equal(t, MaxValue, Unbounded.ToWeight())
	assert.Equal(t, Weight(0), Normalized(0.5).ToWeight())
	assert.True(t, Normalized(0.3).IsFull())
	assert.False(t, Normalized(1.3).IsFull())
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		name      string
		maxWeight Weight
		size      int64
		target    int64
		want      float64
	}{
		{name: "half full", maxWeight: MaxValue, size: 5000, target: 10000, want: 2},
		{name: "full", maxWeight: 0, size: 10000, target: 10000, want: 0.5},
		{name: "over full", maxWeight: 0, size: 10400, target: 10000, want: 0.5},
		{name: "empty", maxWeight: MaxValue, size: 0, target: 10000, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, float64(Estimate(tt.maxWeight, tt.size, tt.target)), 1e-9)
		})
	}
}
