package cube

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRoot(t *testing.T) {
	root := Root(2)

	assert.True(t, root.IsRoot())
	assert.Equal(t, 0, root.Depth())
	assert.Equal(t, "", root.String())

	_, ok := root.Parent()
	assert.False(t, ok)
}

func TestChildren(t *testing.T) {
	tests := []struct {
		name string
		dims int
		want int
	}{
		{name: "one dimension", dims: 1, want: 2},
		{name: "two dimensions", dims: 2, want: 4},
		{name: "six dimensions", dims: 6, want: 64},
		{name: "seven dimensions", dims: 7, want: 128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := Root(tt.dims).Children()

			seen := make(map[ID]struct{})
			var prev ID
			for i := 0; ; i++ {
				child, ok := it.Next()
				if !ok {
					break
				}
				parent, ok := child.Parent()
				require.True(t, ok)
				assert.Equal(t, Root(tt.dims), parent)
				assert.Equal(t, 1, child.Depth())
				if i > 0 {
					assert.Equal(t, -1, Compare(prev, child), "children must be in ascending order")
				}
				prev = child
				seen[child] = struct{}{}
			}
			assert.Len(t, seen, tt.want)

			// restartable and deterministic
			it.Reset()
			first, ok := it.Next()
			require.True(t, ok)
			assert.Equal(t, Root(tt.dims).Child(0), first)
		})
	}
}

func TestChildrenPartitionParent(t *testing.T) {
	parent := Root(2).Child(2).Child(1)
	it := parent.Children()

	point := []float64{0.6, 0.3}
	require.True(t, parent.Contains(point))

	matches := 0
	for {
		child, ok := it.Next()
		if !ok {
			break
		}
		if child.Contains(point) {
			matches++
			assert.Equal(t, parent.ChildContaining(point), child)
		}
	}
	assert.Equal(t, 1, matches, "exactly one child owns a point of the parent")
}

func TestBounds(t *testing.T) {
	// digit 2 = 0b10 selects the upper half of the first dimension
	c := Root(2).Child(2)
	lo, hi := c.Bounds()
	assert.Equal(t, []float64{0.5, 0}, lo)
	assert.Equal(t, []float64{1, 0.5}, hi)

	assert.True(t, c.Contains([]float64{0.5, 0}))
	assert.True(t, c.Contains([]float64{0.99, 0.49}))
	assert.False(t, c.Contains([]float64{0.49, 0.2}))
	assert.False(t, c.Contains([]float64{0.7, 0.5}))
	assert.False(t, c.Contains([]float64{0.7}))
}

func TestIntersects(t *testing.T) {
	c := Root(2).Child(3) // [0.5,1) x [0.5,1)

	assert.True(t, c.Intersects([]float64{0.6, 0.6}, []float64{0.7, 0.7}))
	assert.True(t, c.Intersects([]float64{0, 0}, []float64{0.5, 0.5}))
	assert.False(t, c.Intersects([]float64{0, 0}, []float64{0.4, 0.9}))
	assert.True(t, Root(2).Intersects([]float64{0, 0}, []float64{1, 1}))
}

func TestIsAncestorOf(t *testing.T) {
	root := Root(3)
	a := root.Child(5)
	b := a.Child(1)

	assert.True(t, root.IsAncestorOf(a))
	assert.True(t, root.IsAncestorOf(b))
	assert.True(t, a.IsAncestorOf(b))
	assert.False(t, b.IsAncestorOf(a))
	assert.False(t, a.IsAncestorOf(a))
	assert.False(t, Root(2).IsAncestorOf(b))
}

func TestPath(t *testing.T) {
	c := Root(2).Child(1).Child(3).Child(0)
	path := c.Path()

	require.Len(t, path, 4)
	assert.True(t, path[0].IsRoot())
	assert.Equal(t, c, path[3])
	for i := 1; i < len(path); i++ {
		parent, ok := path[i].Parent()
		require.True(t, ok)
		assert.Equal(t, path[i-1], parent)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		dims    int
		input   string
		wantErr bool
	}{
		{name: "root", dims: 2, input: ""},
		{name: "two levels", dims: 2, input: "BD"},
		{name: "digit out of range", dims: 2, input: "E", wantErr: true},
		{name: "invalid character", dims: 2, input: "A/", wantErr: true},
		{name: "wide tree", dims: 8, input: "DAAB"},
		{name: "wide tree odd length", dims: 8, input: "DAA", wantErr: true},
		{name: "wide tree high digit", dims: 8, input: "EA", wantErr: true},
		{name: "zero dimensions", dims: 0, input: "", wantErr: true},
		{name: "too many dimensions", dims: MaxDimensions + 1, input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := Parse(tt.dims, tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, id.String())
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dims := rapid.IntRange(1, MaxDimensions).Draw(t, "dims")
		depth := rapid.IntRange(0, 12).Draw(t, "depth")

		c := Root(dims)
		digits := make([]uint32, depth)
		for i := range digits {
			digits[i] = uint32(rapid.Uint64Range(0, (1<<uint(dims))-1).Draw(t, "digit"))
			c = c.Child(digits[i])
		}

		parsed, err := Parse(dims, c.String())
		if err != nil {
			t.Fatalf("parse %q: %v", c.String(), err)
		}
		if parsed != c {
			t.Fatalf("round trip mismatch: %q != %q", parsed.String(), c.String())
		}
		if c.Depth() != depth {
			t.Fatalf("depth %d, want %d", c.Depth(), depth)
		}
		for i, d := range digits {
			if c.Digit(i) != d {
				t.Fatalf("digit %d = %d, want %d", i, c.Digit(i), d)
			}
		}
	})
}

func TestChildContainingDescends(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dims := rapid.IntRange(1, 4).Draw(t, "dims")
		point := make([]float64, dims)
		for i := range point {
			point[i] = rapid.Float64Range(0, 0.999999).Draw(t, "coord")
		}

		c := Root(dims)
		for depth := 0; depth < 10; depth++ {
			if !c.Contains(point) {
				t.Fatalf("cube %q at depth %d lost the point %v", c.String(), depth, point)
			}
			c = c.ChildContaining(point)
		}
	})
}
