package weight

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Weight is the sampling key assigned to every record. Lower weights are sampled
// first and stay closer to the root. Valid weights lie in (MinValue, MaxValue].
type Weight int32

const (
	// MinValue is the exclusive lower bound of every stored weight
	MinValue Weight = math.MinInt32

	// MaxValue is the inclusive upper bound. A cube whose threshold is MaxValue admits every record.
	MaxValue Weight = math.MaxInt32
)

const span = float64(MaxValue) - float64(MinValue)

// FromSeed derives a deterministic pseudo-random weight from a record key and a table seed.
// The same inputs always produce the same weight.
func FromSeed(recordKey []byte, tableSeed uint64) Weight {
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], tableSeed)

	d := xxhash.New()
	_, _ = d.Write(seed[:])
	_, _ = d.Write(recordKey)

	w := Weight(int32(d.Sum64() >> 32))
	if w == MinValue {
		return MinValue + 1
	}
	return w
}

// FromFraction maps a fraction in (0, 1] back to a weight. Out-of-range fractions are clamped.
func FromFraction(f float64) Weight {
	if math.IsNaN(f) || f <= 0 {
		return MinValue + 1
	}
	if f >= 1 {
		return MaxValue
	}
	w := int64(MinValue) + int64(math.Round(f*span))
	if w <= int64(MinValue) {
		return MinValue + 1
	}
	if w > int64(MaxValue) {
		return MaxValue
	}
	return Weight(w)
}

// IsValid reports whether w lies in (MinValue, MaxValue]
func (w Weight) IsValid() bool {
	return w > MinValue
}

// Fraction normalizes w into (0, 1]
func (w Weight) Fraction() float64 {
	return (float64(w) - float64(MinValue)) / span
}

// Compare returns -1, 0 or 1 ordering a against b
func Compare(a, b Weight) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less reports whether a sorts before b
func Less(a, b Weight) bool {
	return a < b
}

// Min returns the smaller of two weights
func Min(a, b Weight) Weight {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of two weights
func Max(a, b Weight) Weight {
	if a > b {
		return a
	}
	return b
}
