package main

import (
	"fmt"
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/likelihood"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/prior"
	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
)

// problem pairs a prior with a likelihood.
type problem struct {
	prior      prior.Prior
	likelihood likelihood.Likelihood
}

type problemFactory func(dataPath string) (problem, error)

var problems = map[string]problemFactory{
	// Eggbox: a 2-D grid of equal peaks.
	"eggbox": func(string) (problem, error) {
		p, err := prior.NewUniform([]float64{0, 0}, []float64{10 * math.Pi, 10 * math.Pi})
		return problem{prior: p, likelihood: likelihood.Eggbox{}}, err
	},
	"gaussian-mixture": func(string) (problem, error) {
		p, err := prior.NewUniform([]float64{-10, -10}, []float64{10, 10})
		return problem{
			prior: p,
			likelihood: likelihood.GaussianMixture{
				Means:  [][]float64{{-5, 0}, {5, 0}},
				Sigmas: []float64{1, 1},
			},
		}, err
	},
	"flat": func(string) (problem, error) {
		p, err := prior.NewUniform([]float64{0, 0}, []float64{1, 1})
		return problem{prior: p, likelihood: likelihood.Flat{}}, err
	},
	// mixed-prior: a uniform and a normal prior side by side.
	"mixed-prior": func(string) (problem, error) {
		u, err := prior.NewUniform([]float64{-5}, []float64{5})
		if err != nil {
			return problem{}, err
		}
		n, err := prior.NewNormal([]float64{0}, []float64{2})
		if err != nil {
			return problem{}, err
		}
		joint, err := prior.NewJoint(u, n)
		if err != nil {
			return problem{}, err
		}
		return problem{
			prior:      joint,
			likelihood: likelihood.GaussianMixture{Means: [][]float64{{1, -1}}, Sigmas: []float64{0.5}},
		}, nil
	},
	// lorentzian fits centroid, amplitude and width of a single peak to a
	// three-column file: covariate, observation, uncertainty.
	"lorentzian": func(dataPath string) (problem, error) {
		if dataPath == "" {
			return problem{}, perrors.New(perrors.ErrConfiguration, "the lorentzian problem needs --data")
		}
		cols, err := likelihood.ReadColumns(dataPath)
		if err != nil {
			return problem{}, err
		}
		if len(cols) < 3 {
			return problem{}, perrors.Newf(perrors.ErrInvalidInput, "%s: need 3 columns, found %d", dataPath, len(cols))
		}
		l, err := likelihood.NewNormal(cols[0], cols[1], cols[2], likelihood.Lorentzian{})
		if err != nil {
			return problem{}, err
		}
		p, err := prior.NewUniform([]float64{0, 0.8, 1}, []float64{20, 1.5, 3})
		return problem{prior: p, likelihood: l}, err
	},
}

func problemNames() []string {
	names := make([]string, 0, len(problems))
	for name := range problems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupProblem(name, dataPath string) (problem, error) {
	factory, ok := problems[name]
	if !ok {
		return problem{}, perrors.Newf(perrors.ErrConfiguration, "unknown problem %q (known: %v)", name, problemNames())
	}
	pr, err := factory(dataPath)
	if err != nil {
		return problem{}, fmt.Errorf("building problem %s: %w", name, err)
	}
	return pr, nil
}
