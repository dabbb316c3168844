// Package prior provides the prior distributions the sampler draws live
// points from.
package prior

import (
	"math/rand/v2"

	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
)

// Prior is a distribution over a block of parameters.
type Prior interface {
	// Dimensions is the number of parameters the prior covers.
	Dimensions() int
	// Draw fills every row of dst with an independent draw.
	Draw(rng *rand.Rand, dst [][]float64)
	// Rejects reports whether a point proposed uniformly in parameter space
	// should be discarded so that accepted points follow the prior. Points
	// outside the support are always rejected.
	Rejects(rng *rand.Rand, point []float64) bool
	// DrawWithConstraint overwrites point with fresh draws until accept
	// returns true or maxAttempts draws were made. It returns the number of
	// draws used.
	DrawWithConstraint(rng *rand.Rand, point []float64, accept func([]float64) bool, maxAttempts int) (int, error)
	// NormalizingFactor is the log of the prior density at its mode.
	NormalizingFactor() float64
}

// drawWithConstraint is the shared rejection loop behind
// DrawWithConstraint.
func drawWithConstraint(rng *rand.Rand, p Prior, point []float64, accept func([]float64) bool, maxAttempts int) (int, error) {
	if len(point) != p.Dimensions() {
		return 0, perrors.Newf(perrors.ErrInvalidInput, "point has %d coordinates, prior covers %d", len(point), p.Dimensions())
	}
	dst := [][]float64{point}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		p.Draw(rng, dst)
		if accept(point) {
			return attempt, nil
		}
	}
	return maxAttempts, perrors.Newf(perrors.ErrDrawExhausted, "no prior draw passed the constraint in %d attempts", maxAttempts)
}

// unitOpen returns a uniform variate in (0, 1).
func unitOpen(rng *rand.Rand) float64 {
	for {
		if u := rng.Float64(); u > 0 {
			return u
		}
	}
}
