package impute

import "math"

// DefaultSteepness is the logistic steepness used when blending forward and
// reverse estimates across a gap. A steepness of about 0.2335 minimised MSE in
// offline fits of the evaluation blend; it is exposed rather than assumed.
const DefaultSteepness = 1.0

// BlendWeight is the logistic 1/(1+exp(-k(x-x0))). It saturates to 0 and 1
// without overflowing for any finite input.
func BlendWeight(x, x0, k float64) float64 {
	z := k * (x - x0)
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// BlendWeights returns the reverse-pass weights for the positions 0..n-1 of a
// gap of length n. The midpoint sits at the centre of the gap, (n-1)/2, so the
// curve is symmetric: w[i] + w[n-1-i] == 1 and a single-frame gap blends at
// exactly 0.5. The forward-pass weight is 1 - w[i].
func BlendWeights(n int, k float64) []float64 {
	w := make([]float64, n)
	x0 := float64(n-1) / 2
	for i := range w {
		w[i] = BlendWeight(float64(i), x0, k)
	}
	return w
}
