package sampler

import "math"

// Evidence accumulates the log-evidence and the information gain H, both in
// nats, one weighted sample at a time.
type Evidence struct {
	LogEvidence  float64
	InformationH float64
}

// NewEvidence starts from an evidence of effectively zero. The most negative
// finite float is used instead of -Inf so that H never sees Inf-Inf.
func NewEvidence() Evidence {
	return Evidence{LogEvidence: -math.MaxFloat64}
}

// Absorb adds a sample with the given log-weight and log-likelihood. The
// information update needs the evidence before and after the sample.
func (e *Evidence) Absorb(logWeight, logLikelihood float64) {
	if math.IsInf(logWeight, -1) {
		return
	}
	previous := e.LogEvidence
	updated := LogSumExp(previous, logWeight)
	e.InformationH = math.Exp(logWeight-updated)*logLikelihood +
		math.Exp(previous-updated)*(e.InformationH+previous) -
		updated
	e.LogEvidence = updated
}

// Error is the one-sigma uncertainty of the log-evidence for n live points.
func (e Evidence) Error(n int) float64 {
	return math.Sqrt(math.Abs(e.InformationH) / float64(n))
}

// LogSumExp returns log(exp(a) + exp(b)) without overflow.
func LogSumExp(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}
