package prior

import (
	"math/rand/v2"

	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
)

// Joint concatenates independent priors, each covering a consecutive block
// of parameters in the order given.
type Joint struct {
	parts   []Prior
	offsets []int
	dims    int
}

func NewJoint(parts ...Prior) (*Joint, error) {
	if len(parts) == 0 {
		return nil, perrors.New(perrors.ErrConfiguration, "joint prior needs at least one component")
	}
	j := &Joint{parts: parts, offsets: make([]int, len(parts))}
	for i, p := range parts {
		j.offsets[i] = j.dims
		j.dims += p.Dimensions()
	}
	return j, nil
}

func (j *Joint) Dimensions() int { return j.dims }

func (j *Joint) Draw(rng *rand.Rand, dst [][]float64) {
	block := make([][]float64, len(dst))
	for i, p := range j.parts {
		lo, hi := j.offsets[i], j.offsets[i]+p.Dimensions()
		for r, row := range dst {
			block[r] = row[lo:hi]
		}
		p.Draw(rng, block)
	}
}

func (j *Joint) Rejects(rng *rand.Rand, point []float64) bool {
	for i, p := range j.parts {
		if p.Rejects(rng, point[j.offsets[i]:j.offsets[i]+p.Dimensions()]) {
			return true
		}
	}
	return false
}

func (j *Joint) DrawWithConstraint(rng *rand.Rand, point []float64, accept func([]float64) bool, maxAttempts int) (int, error) {
	return drawWithConstraint(rng, j, point, accept, maxAttempts)
}

func (j *Joint) NormalizingFactor() float64 {
	var f float64
	for _, p := range j.parts {
		f += p.NormalizingFactor()
	}
	return f
}
