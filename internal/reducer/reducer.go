// Package reducer decides when the nesting loop stops and whether the number
// of live points shrinks along the way.
package reducer

import (
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/config"
	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
)

// EvidenceState is the per-iteration summary the sampler hands to a
// Reducer.
type EvidenceState struct {
	Iteration               int
	ExpectedTotalIterations int
	Nobjects                int
	LogEvidence             float64
	LogWidth                float64
	// LogRemainingPriorMass is log X, the prior mass still enclosed by the
	// live points.
	LogRemainingPriorMass float64
	MaxLogLikelihood      float64
}

// RemainingLogRatio estimates the log of the evidence still held by the
// live points, bounded by Lmax·X, relative to the evidence accumulated so
// far.
func (s EvidenceState) RemainingLogRatio() float64 {
	return s.MaxLogLikelihood + s.LogRemainingPriorMass - s.LogEvidence
}

// Reducer is a termination and live-point-count policy.
type Reducer interface {
	// UpdateNobjects returns the live-point count wanted for the next
	// iteration. It never exceeds state.Nobjects.
	UpdateNobjects(state EvidenceState) int
	ShouldTerminate(state EvidenceState) bool
}

// New builds the reducer selected by cfg.
func New(cfg config.ReducerConfig, sampler config.SamplerConfig) (Reducer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case config.ReducerFeroz:
		return NewFeroz(cfg.Tolerance)
	case config.ReducerPowerLaw:
		return NewPowerLaw(cfg.Tolerance, cfg.Exponent, sampler.TerminationFactor, sampler.InitialNobjects, sampler.MinNobjects)
	default:
		return nil, perrors.Newf(perrors.ErrConfiguration, "unknown reducer %q", cfg.Kind)
	}
}

// Feroz keeps the number of live points fixed and stops once the remaining
// evidence ratio drops below its tolerance.
type Feroz struct {
	tolerance float64
}

func NewFeroz(tolerance float64) (*Feroz, error) {
	if !(tolerance > 0) {
		return nil, perrors.Newf(perrors.ErrConfiguration, "feroz tolerance %g must be positive", tolerance)
	}
	return &Feroz{tolerance: tolerance}, nil
}

func (f *Feroz) UpdateNobjects(state EvidenceState) int { return state.Nobjects }

func (f *Feroz) ShouldTerminate(state EvidenceState) bool {
	return state.RemainingLogRatio() < math.Log(f.tolerance)
}

func (f *Feroz) String() string { return fmt.Sprintf("feroz(tolerance=%g)", f.tolerance) }

// PowerLaw shrinks the live-point count from initialN towards minN once the
// remaining evidence ratio falls below tolerance. With p the fraction of the
// expected iterations already done, the target count is
//
//	minN + (initialN - minN) * (1 - p^exponent)
type PowerLaw struct {
	tolerance         float64
	exponent          float64
	terminationFactor float64
	initialN          int
	minN              int
}

func NewPowerLaw(tolerance, exponent, terminationFactor float64, initialN, minN int) (*PowerLaw, error) {
	switch {
	case !(tolerance > 0):
		return nil, perrors.Newf(perrors.ErrConfiguration, "power-law tolerance %g must be positive", tolerance)
	case !(exponent > 0):
		return nil, perrors.Newf(perrors.ErrConfiguration, "power-law exponent %g must be positive", exponent)
	case !(terminationFactor > 0):
		return nil, perrors.Newf(perrors.ErrConfiguration, "termination factor %g must be positive", terminationFactor)
	case minN <= 0 || minN > initialN:
		return nil, perrors.Newf(perrors.ErrConfiguration, "live-point bounds min=%d initial=%d are inconsistent", minN, initialN)
	}
	return &PowerLaw{
		tolerance:         tolerance,
		exponent:          exponent,
		terminationFactor: terminationFactor,
		initialN:          initialN,
		minN:              minN,
	}, nil
}

func (p *PowerLaw) UpdateNobjects(state EvidenceState) int {
	if math.Exp(state.RemainingLogRatio()) >= p.tolerance {
		return state.Nobjects
	}
	progress := 1.0
	if state.ExpectedTotalIterations > 0 {
		progress = float64(state.Iteration) / float64(state.ExpectedTotalIterations)
	}
	progress = math.Min(1, math.Max(0, progress))

	target := p.minN + int(math.Round(float64(p.initialN-p.minN)*(1-math.Pow(progress, p.exponent))))
	return max(p.minN, min(target, state.Nobjects))
}

func (p *PowerLaw) ShouldTerminate(state EvidenceState) bool {
	return state.RemainingLogRatio() < math.Log(p.terminationFactor)
}

func (p *PowerLaw) String() string {
	return fmt.Sprintf("powerlaw(tolerance=%g, exponent=%g)", p.tolerance, p.exponent)
}
