package prior

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
)

// Uniform is a product of independent uniform distributions on [Min_i, Max_i].
type Uniform struct {
	dists []distuv.Uniform
}

func NewUniform(minima, maxima []float64) (*Uniform, error) {
	if len(minima) == 0 || len(minima) != len(maxima) {
		return nil, perrors.Newf(perrors.ErrConfiguration, "uniform prior needs matching bounds, got %d minima and %d maxima", len(minima), len(maxima))
	}
	dists := make([]distuv.Uniform, len(minima))
	for i := range minima {
		if !(maxima[i] > minima[i]) {
			return nil, perrors.Newf(perrors.ErrConfiguration, "uniform prior dimension %d: max %g not above min %g", i, maxima[i], minima[i])
		}
		dists[i] = distuv.Uniform{Min: minima[i], Max: maxima[i]}
	}
	return &Uniform{dists: dists}, nil
}

func (u *Uniform) Dimensions() int { return len(u.dists) }

func (u *Uniform) Draw(rng *rand.Rand, dst [][]float64) {
	for _, row := range dst {
		for i, d := range u.dists {
			row[i] = d.Quantile(rng.Float64())
		}
	}
}

// Rejects discards points outside the box; inside it the density is flat.
func (u *Uniform) Rejects(_ *rand.Rand, point []float64) bool {
	for i, d := range u.dists {
		if point[i] < d.Min || point[i] > d.Max {
			return true
		}
	}
	return false
}

func (u *Uniform) DrawWithConstraint(rng *rand.Rand, point []float64, accept func([]float64) bool, maxAttempts int) (int, error) {
	return drawWithConstraint(rng, u, point, accept, maxAttempts)
}

// NormalizingFactor is -sum log(Max_i - Min_i), the log density inside the
// box.
func (u *Uniform) NormalizingFactor() float64 {
	var f float64
	for _, d := range u.dists {
		f -= math.Log(d.Max - d.Min)
	}
	return f
}
