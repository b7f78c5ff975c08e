package relation

import (
	"math/rand"

	"github.com/KevoDB/blockq/pkg/tuple"
)

// Generate returns n tuples with A uniform in [lo, hi] and B uniform in
// [1, maxB]. B is never zero, so no generated tuple is the empty marker.
func Generate(rng *rand.Rand, n, lo, hi, maxB int) []tuple.Tuple {
	if maxB < 1 {
		maxB = 1
	}
	out := make([]tuple.Tuple, n)
	for i := range out {
		out[i] = tuple.Tuple{
			A: lo + rng.Intn(hi-lo+1),
			B: 1 + rng.Intn(maxB),
		}
	}
	return out
}
