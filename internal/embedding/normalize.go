package embedding

import "math"

// roundDecimals is the fixed precision stored for every vector component.
// Indexed vectors and freshly encoded query vectors must agree bit for bit,
// so the precision is a constant of the subsystem, not a config knob.
const roundDecimals = 5

// Normalize scales v to unit L2 length in place and returns it. A zero
// vector is returned unchanged: dividing by a substituted norm of 1 keeps
// every component zero without introducing NaNs.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}

	norm := math.Sqrt(sum)
	if norm == 0 {
		norm = 1
	}

	for i, x := range v {
		v[i] = float32(float64(x) / norm)
	}

	return v
}

// Round rounds each component, half away from zero, to the subsystem's fixed
// decimal precision in place and returns the slice. Rounding happens after
// normalization, so equal inputs always produce bit-identical stored vectors.
func Round(v []float32) []float32 {
	const scale = 1e5 // 10^roundDecimals

	for i, x := range v {
		v[i] = float32(math.Round(float64(x)*scale) / scale)
	}

	return v
}
