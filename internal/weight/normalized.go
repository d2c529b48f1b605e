package weight

import "math"

// Normalized estimates which share of a cube's subspace population is retained in the cube.
// Values below 1 come from a full cube and equal the fraction of its weight threshold.
// Values above 1 come from an under-filled cube and equal target/size, so a cube filled
// to half its target reports 2.
type Normalized float64

// Unbounded is the normalized weight of a cube that has seen no records
var Unbounded = Normalized(math.Inf(1))

// FromWeight returns the normalized weight of a full cube with the given threshold
func FromWeight(w Weight) Normalized {
	return Normalized(w.Fraction())
}

// FromSize returns the normalized weight of a cube holding size records out of target
func FromSize(target, size int64) Normalized {
	if size <= 0 {
		return Unbounded
	}
	return Normalized(float64(target) / float64(size))
}

// Merge combines the estimates of two independent samples of the same subspace.
// It is associative and commutative: 1/merge = 1/a + 1/b.
func Merge(a, b Normalized) Normalized {
	return Normalized(1 / (1/float64(a) + 1/float64(b)))
}

// MergeAll folds Merge over values in order
func MergeAll(values ...Normalized) Normalized {
	acc := Unbounded
	for _, v := range values {
		acc = Merge(acc, v)
	}
	return acc
}

// IsFull reports whether the estimate comes from a cube that reached its target
func (n Normalized) IsFull() bool {
	return n < 1
}

// ToWeight converts the estimate into an admission threshold.
// Estimates of 1 or more admit every record.
func (n Normalized) ToWeight() Weight {
	if n >= 1 {
		return MaxValue
	}
	return FromFraction(float64(n))
}

// Estimate computes the normalized weight of a cube from its aggregated statistics.
// A cube at or above target reports the fraction of its max weight, otherwise target/size.
// Empty cubes fall back to the weight fraction so the result stays finite.
func Estimate(maxWeight Weight, size, target int64) Normalized {
	if size >= target || size <= 0 {
		return FromWeight(maxWeight)
	}
	return FromSize(target, size)
}
