package prior

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
)

// Normal is a product of independent normal distributions.
type Normal struct {
	dists []distuv.Normal
}

func NewNormal(means, sigmas []float64) (*Normal, error) {
	if len(means) == 0 || len(means) != len(sigmas) {
		return nil, perrors.Newf(perrors.ErrConfiguration, "normal prior needs matching parameters, got %d means and %d sigmas", len(means), len(sigmas))
	}
	dists := make([]distuv.Normal, len(means))
	for i := range means {
		if !(sigmas[i] > 0) {
			return nil, perrors.Newf(perrors.ErrConfiguration, "normal prior dimension %d: sigma %g must be positive", i, sigmas[i])
		}
		dists[i] = distuv.Normal{Mu: means[i], Sigma: sigmas[i]}
	}
	return &Normal{dists: dists}, nil
}

func (n *Normal) Dimensions() int { return len(n.dists) }

func (n *Normal) Draw(rng *rand.Rand, dst [][]float64) {
	for _, row := range dst {
		for i, d := range n.dists {
			row[i] = d.Quantile(unitOpen(rng))
		}
	}
}

// Rejects accepts a point with probability equal to its density relative to
// the mode.
func (n *Normal) Rejects(rng *rand.Rand, point []float64) bool {
	var z2 float64
	for i, d := range n.dists {
		z := (point[i] - d.Mu) / d.Sigma
		z2 += z * z
	}
	return rng.Float64() > math.Exp(-z2/2)
}

func (n *Normal) DrawWithConstraint(rng *rand.Rand, point []float64, accept func([]float64) bool, maxAttempts int) (int, error) {
	return drawWithConstraint(rng, n, point, accept, maxAttempts)
}

func (n *Normal) NormalizingFactor() float64 {
	var f float64
	for _, d := range n.dists {
		f += d.LogProb(d.Mu)
	}
	return f
}
