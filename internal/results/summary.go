// Package results turns a finished sampler run into parameter estimates,
// output files, a database archive and a cached run record.
package results

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/sampler"
	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
)

// ParameterSummary estimates one parameter from the weighted posterior.
// Lower and Upper bound the central credible interval.
type ParameterSummary struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Mode   float64 `json:"mode"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
}

// Summarize computes a ParameterSummary per dimension. credibleLevel is a
// percentage in (0, 100).
func Summarize(res *sampler.Result, credibleLevel float64) ([]ParameterSummary, error) {
	if res == nil || len(res.Posterior) == 0 {
		return nil, perrors.New(perrors.ErrInvalidInput, "no posterior samples to summarize")
	}
	if !(credibleLevel > 0 && credibleLevel < 100) {
		return nil, perrors.Newf(perrors.ErrInvalidInput, "credible level %g outside (0, 100)", credibleLevel)
	}
	weights := res.PosteriorProbabilities()
	dims := len(res.Posterior[0].Parameters)
	tail := (1 - credibleLevel/100) / 2

	summaries := make([]ParameterSummary, dims)
	values := make([]float64, len(res.Posterior))
	order := make([]int, len(values))
	sorted := make([]float64, len(values))
	for d := range dims {
		for i, s := range res.Posterior {
			values[i] = s.Parameters[d]
		}
		copy(sorted, values)
		floats.Argsort(sorted, order)
		sortedWeights := make([]float64, len(order))
		for i, j := range order {
			sortedWeights[i] = weights[j]
		}

		summaries[d] = ParameterSummary{
			Mean:   stat.Mean(values, weights),
			Median: stat.Quantile(0.5, stat.Empirical, sorted, sortedWeights),
			Mode:   values[floats.MaxIdx(weights)],
			Lower:  stat.Quantile(tail, stat.Empirical, sorted, sortedWeights),
			Upper:  stat.Quantile(1-tail, stat.Empirical, sorted, sortedWeights),
		}
	}
	return summaries, nil
}

// RunRecord is the compact, posterior-free description of a run that gets
// cached and archived.
type RunRecord struct {
	RunID            string                 `json:"run_id"`
	Problem          string                 `json:"problem"`
	LogEvidence      float64                `json:"log_evidence"`
	LogEvidenceError float64                `json:"log_evidence_error"`
	InformationH     float64                `json:"information_h"`
	Iterations       int                    `json:"iterations"`
	FinalNobjects    int                    `json:"final_n_objects"`
	DrawAttempts     int                    `json:"draw_attempts"`
	ClusterHistory   []sampler.ClusterEvent `json:"cluster_history"`
	Settings         sampler.Settings       `json:"settings"`
	Parameters       []ParameterSummary     `json:"parameters"`
	Duration         time.Duration          `json:"duration"`
}

func NewRecord(problem string, res *sampler.Result, parameters []ParameterSummary) RunRecord {
	return RunRecord{
		RunID:            res.RunID,
		Problem:          problem,
		LogEvidence:      res.LogEvidence,
		LogEvidenceError: res.LogEvidenceError,
		InformationH:     res.InformationH,
		Iterations:       res.Iterations,
		FinalNobjects:    res.FinalNobjects,
		DrawAttempts:     res.DrawAttempts,
		ClusterHistory:   res.ClusterHistory,
		Settings:         res.Settings,
		Parameters:       parameters,
		Duration:         res.Duration,
	}
}
