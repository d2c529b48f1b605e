package cube

import (
	"fmt"
	"strings"
)

// alphabet maps 6-bit groups of a child digit to characters. It is URL and path safe
// so cube addresses can be used directly in file names and HTTP routes.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

const (
	// MaxDimensions is the largest number of indexed columns a cube tree supports
	MaxDimensions = 24

	// MaxDepth bounds the tree depth. Below it float64 coordinates stop separating.
	MaxDepth = 52

	bitsPerChar = 6
)

var charValue [256]int8

func init() {
	for i := range charValue {
		charValue[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		charValue[alphabet[i]] = int8(i)
	}
}

// ID addresses a node of the 2^d-ary tree over [0,1)^d. The zero-depth cube is the root.
// IDs are comparable values and can be used as map keys.
type ID struct {
	dims int
	path string
}

// Root returns the root cube for the given number of dimensions
func Root(dimensions int) ID {
	return ID{dims: dimensions}
}

// charsPerLevel returns how many characters encode one child digit
func charsPerLevel(dims int) int {
	return (dims + bitsPerChar - 1) / bitsPerChar
}

// Dimensions returns the dimension count of the tree this cube belongs to
func (c ID) Dimensions() int {
	return c.dims
}

// Depth returns the number of digits from the root
func (c ID) Depth() int {
	if c.dims == 0 {
		return 0
	}
	return len(c.path) / charsPerLevel(c.dims)
}

// IsRoot reports whether c is the root cube
func (c ID) IsRoot() bool {
	return c.path == ""
}

// Digit returns the child selector used at the given level (0 = first level below root)
func (c ID) Digit(level int) uint32 {
	cpl := charsPerLevel(c.dims)
	var digit uint32
	for _, ch := range []byte(c.path[level*cpl : (level+1)*cpl]) {
		digit = digit<<bitsPerChar | uint32(charValue[ch])
	}
	return digit
}

// Parent returns the parent cube, or false for the root
func (c ID) Parent() (ID, bool) {
	if c.IsRoot() {
		return ID{}, false
	}
	return ID{dims: c.dims, path: c.path[:len(c.path)-charsPerLevel(c.dims)]}, true
}

// Child returns the child selected by digit. Digit must be below 2^dimensions.
func (c ID) Child(digit uint32) ID {
	cpl := charsPerLevel(c.dims)
	var sb strings.Builder
	sb.Grow(len(c.path) + cpl)
	sb.WriteString(c.path)
	for i := cpl - 1; i >= 0; i-- {
		sb.WriteByte(alphabet[(digit>>(uint(i)*bitsPerChar))&0x3f])
	}
	return ID{dims: c.dims, path: sb.String()}
}

// Children returns an iterator over the 2^d children of c in ascending digit order
func (c ID) Children() *Children {
	return &Children{parent: c, count: uint64(1) << uint(c.dims)}
}

// Path returns every ancestor of c from the root, followed by c itself
func (c ID) Path() []ID {
	depth := c.Depth()
	cpl := charsPerLevel(c.dims)
	path := make([]ID, 0, depth+1)
	for d := 0; d <= depth; d++ {
		path = append(path, ID{dims: c.dims, path: c.path[:d*cpl]})
	}
	return path
}

// IsAncestorOf reports whether c is a strict ancestor of other
func (c ID) IsAncestorOf(other ID) bool {
	return c.dims == other.dims &&
		len(c.path) < len(other.path) &&
		strings.HasPrefix(other.path, c.path)
}

// Bounds returns the half-open box [lo, hi) the cube covers in normalized space
func (c ID) Bounds() (lo, hi []float64) {
	lo = make([]float64, c.dims)
	hi = make([]float64, c.dims)
	width := 1.0
	for level := 0; level < c.Depth(); level++ {
		width /= 2
		digit := c.Digit(level)
		for dim := 0; dim < c.dims; dim++ {
			if digit&dimensionBit(c.dims, dim) != 0 {
				lo[dim] += width
			}
		}
	}
	for dim := range hi {
		hi[dim] = lo[dim] + width
	}
	return lo, hi
}

// Contains reports whether the normalized point lies inside the cube
func (c ID) Contains(point []float64) bool {
	if len(point) != c.dims {
		return false
	}
	lo, hi := c.Bounds()
	for dim, v := range point {
		if v < lo[dim] || v >= hi[dim] {
			return false
		}
	}
	return true
}

// Intersects reports whether the cube overlaps the closed query box [lo, hi]
func (c ID) Intersects(lo, hi []float64) bool {
	if len(lo) != c.dims || len(hi) != c.dims {
		return false
	}
	clo, chi := c.Bounds()
	for dim := 0; dim < c.dims; dim++ {
		if hi[dim] < clo[dim] || lo[dim] >= chi[dim] {
			return false
		}
	}
	return true
}

// ChildContaining returns the child of c whose subspace holds point.
// The point is assumed to lie inside c.
func (c ID) ChildContaining(point []float64) ID {
	lo, hi := c.Bounds()
	var digit uint32
	for dim := 0; dim < c.dims; dim++ {
		if point[dim] >= (lo[dim]+hi[dim])/2 {
			digit |= dimensionBit(c.dims, dim)
		}
	}
	return c.Child(digit)
}

// String returns the canonical address. The root encodes as the empty string.
func (c ID) String() string {
	return c.path
}

// Compare orders cubes by depth and then by digits, so parents sort before children
func Compare(a, b ID) int {
	if a.dims != b.dims {
		return a.dims - b.dims
	}
	da, db := a.Depth(), b.Depth()
	if da != db {
		return da - db
	}
	for level := 0; level < da; level++ {
		x, y := a.Digit(level), b.Digit(level)
		if x < y {
			return -1
		}
		if x > y {
			return 1
		}
	}
	return 0
}

// Parse decodes a canonical address produced by String
func Parse(dimensions int, s string) (ID, error) {
	if dimensions < 1 || dimensions > MaxDimensions {
		return ID{}, fmt.Errorf("invalid dimension count %d", dimensions)
	}
	cpl := charsPerLevel(dimensions)
	if len(s)%cpl != 0 {
		return ID{}, fmt.Errorf("cube address %q has length %d, not a multiple of %d", s, len(s), cpl)
	}
	if len(s)/cpl > MaxDepth {
		return ID{}, fmt.Errorf("cube address %q exceeds max depth %d", s, MaxDepth)
	}
	topBits := dimensions - (cpl-1)*bitsPerChar
	for i := 0; i < len(s); i++ {
		v := charValue[s[i]]
		if v < 0 {
			return ID{}, fmt.Errorf("cube address %q has invalid character %q", s, s[i])
		}
		if i%cpl == 0 && int(v) >= 1<<uint(topBits) {
			return ID{}, fmt.Errorf("cube address %q has digit out of range at level %d", s, i/cpl)
		}
	}
	return ID{dims: dimensions, path: s}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(dimensions int, s string) ID {
	id, err := Parse(dimensions, s)
	if err != nil {
		panic(err)
	}
	return id
}

// dimensionBit returns the digit bit that selects the upper half of dim.
// The first dimension is the most significant bit.
func dimensionBit(dims, dim int) uint32 {
	return 1 << uint(dims-1-dim)
}

// Children iterates the children of a cube. It can be restarted with Reset.
type Children struct {
	parent ID
	next   uint64
	count  uint64
}

// Next returns the next child, or false once all 2^d children were produced
func (it *Children) Next() (ID, bool) {
	if it.next >= it.count {
		return ID{}, false
	}
	child := it.parent.Child(uint32(it.next))
	it.next++
	return child, true
}

// Reset restarts the iteration from the first child
func (it *Children) Reset() {
	it.next = 0
}
