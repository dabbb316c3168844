package likelihood

import (
	"math"

	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
)

// Normal is the Gaussian likelihood of observations with independent
// per-point uncertainties around a model prediction.
type Normal struct {
	covariates    []float64
	observations  []float64
	uncertainties []float64
	model         Model
	logNorm       float64
	predictions   []float64
}

func NewNormal(covariates, observations, uncertainties []float64, model Model) (*Normal, error) {
	n := len(observations)
	if n == 0 || len(covariates) != n || len(uncertainties) != n {
		return nil, perrors.Newf(perrors.ErrInvalidInput,
			"normal likelihood needs equal-length data, got %d covariates, %d observations, %d uncertainties",
			len(covariates), n, len(uncertainties))
	}
	var logNorm float64
	for i, s := range uncertainties {
		if !(s > 0) {
			return nil, perrors.Newf(perrors.ErrInvalidInput, "uncertainty %d is %g, must be positive", i, s)
		}
		logNorm -= math.Log(math.Sqrt(2*math.Pi) * s)
	}
	return &Normal{
		covariates:    covariates,
		observations:  observations,
		uncertainties: uncertainties,
		model:         model,
		logNorm:       logNorm,
		predictions:   make([]float64, n),
	}, nil
}

func (l *Normal) LogLikelihood(params []float64) float64 {
	l.model.Predict(l.covariates, params, l.predictions)
	var chi2 float64
	for i, obs := range l.observations {
		r := (obs - l.predictions[i]) / l.uncertainties[i]
		chi2 += r * r
	}
	return l.logNorm - chi2/2
}

// Lorentzian is a single Lorentzian profile with parameters
// (centroid, amplitude, gamma), gamma being the full width at half maximum.
type Lorentzian struct{}

func (Lorentzian) Predict(covariates, params, dst []float64) {
	centroid, amplitude, gamma := params[0], params[1], params[2]
	hw2 := gamma * gamma / 4
	for i, x := range covariates {
		dx := x - centroid
		dst[i] = amplitude * hw2 / (dx*dx + hw2)
	}
}

// ZeroModel predicts zero everywhere.
type ZeroModel struct{}

func (ZeroModel) Predict(_, _, dst []float64) {
	clear(dst)
}
