// Package likelihood provides log-likelihood functions and the forward
// models they compare against observations.
package likelihood

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Likelihood maps a parameter vector to its natural-log likelihood.
// Implementations must be safe to call from one goroutine at a time and
// must not retain params.
type Likelihood interface {
	LogLikelihood(params []float64) float64
}

// Func adapts a plain function to the Likelihood interface.
type Func func(params []float64) float64

func (f Func) LogLikelihood(params []float64) float64 { return f(params) }

// Model predicts an observable at every covariate for the given parameters.
type Model interface {
	Predict(covariates, params, dst []float64)
}

// Flat is a constant log-likelihood, useful to recover the prior volume.
type Flat struct {
	Value float64
}

func (f Flat) LogLikelihood([]float64) float64 { return f.Value }

// Eggbox is the two-dimensional eggbox surface (2 + cos(x/2)cos(y/2))^5 with
// a regular grid of equal modes.
type Eggbox struct{}

func (Eggbox) LogLikelihood(params []float64) float64 {
	return 5 * math.Log(2+math.Cos(params[0]/2)*math.Cos(params[1]/2))
}

// GaussianMixture is an equal-weight mixture of isotropic Gaussians.
type GaussianMixture struct {
	Means  [][]float64
	Sigmas []float64
}

func (g GaussianMixture) LogLikelihood(params []float64) float64 {
	terms := make([]float64, len(g.Means))
	dims := float64(len(params))
	for k, mean := range g.Means {
		sigma := g.Sigmas[k]
		d := floats.Distance(params, mean, 2) / sigma
		terms[k] = -0.5*d*d - dims*math.Log(sigma*math.Sqrt(2*math.Pi))
	}
	return floats.LogSumExp(terms) - math.Log(float64(len(g.Means)))
}
