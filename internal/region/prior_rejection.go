package region

import (
	"context"
	"math/rand/v2"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/likelihood"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/prior"
	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/metrics"
)

// PriorRejection draws replacements straight from the prior, rejecting
// those below the floor. It needs no clustering and suits problems where the
// posterior still fills a large part of the prior.
type PriorRejection struct {
	prior      prior.Prior
	likelihood likelihood.Likelihood
	metrics    *metrics.Metrics
}

func NewPriorRejection(p prior.Prior, l likelihood.Likelihood, opts ...Option) (*PriorRejection, error) {
	if p == nil || l == nil {
		return nil, perrors.New(perrors.ErrConfiguration, "prior sampler needs a prior and a likelihood")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &PriorRejection{prior: p, likelihood: l, metrics: o.metrics}, nil
}

// DrawConstrained starts from a copy of a random surviving point and lets
// the prior redraw it until the floor is met.
func (pr *PriorRejection) DrawConstrained(ctx context.Context, rng *rand.Rand, live []LivePoint, worst int, req Request) (LivePoint, int, error) {
	if err := ctx.Err(); err != nil {
		return LivePoint{}, 0, err
	}
	if len(live) == 0 {
		return LivePoint{}, 0, perrors.New(perrors.ErrInvalidInput, "no live points")
	}
	source := worst
	if len(live) > 1 {
		for source == worst {
			source = rng.IntN(len(live))
		}
	}
	point := append([]float64(nil), live[source].Params...)

	var logL float64
	attempts, err := pr.prior.DrawWithConstraint(rng, point, func(x []float64) bool {
		logL = pr.likelihood.LogLikelihood(x)
		if pr.metrics != nil {
			pr.metrics.LikelihoodEvaluationsTotal.Inc()
		}
		return logL >= req.Floor
	}, req.MaxDrawAttempts)
	if pr.metrics != nil {
		pr.metrics.DrawAttempts.Observe(float64(attempts))
		pr.metrics.Clusters.Set(1)
	}
	if err != nil {
		if pr.metrics != nil && perrors.Is(err, perrors.ErrDrawExhausted) {
			pr.metrics.DrawExhaustionsTotal.Inc()
		}
		return LivePoint{}, attempts, err
	}
	return LivePoint{Params: point, LogLikelihood: logL}, attempts, nil
}

func (pr *PriorRejection) Remove(int) {}

func (pr *PriorRejection) Nclusters() int { return 1 }
