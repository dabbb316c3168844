// Package region produces replacement live points drawn from the prior
// under a hard likelihood floor.
package region

import (
	"context"
	"math/rand/v2"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/cluster"
)

// LivePoint is a parameter vector together with its log-likelihood.
type LivePoint struct {
	Params        []float64
	LogLikelihood float64
}

// Mode selects how live points are grouped before ellipsoids are fitted.
type Mode int

const (
	// ModeSingle treats every live point as one cluster.
	ModeSingle Mode = iota
	// ModeReuse keeps the labels from the last clustering.
	ModeReuse
	// ModeRecluster runs the clusterer on the current live points.
	ModeRecluster
)

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeReuse:
		return "reuse"
	case ModeRecluster:
		return "recluster"
	default:
		return "unknown"
	}
}

// Request describes one constrained replacement.
type Request struct {
	// Floor is the log-likelihood of the discarded point. A replacement is
	// accepted when its log-likelihood is >= Floor rather than strictly
	// above it, so runs on plateaus (a flat likelihood) keep drawing
	// instead of exhausting their attempts.
	Floor           float64
	MaxDrawAttempts int
	Mode            Mode
	// LogRemainingPriorMass drives the decay of the enlargement fraction.
	LogRemainingPriorMass float64
}

// Clusterer partitions live points.
type Clusterer interface {
	Cluster(ctx context.Context, rng *rand.Rand, points [][]float64) (cluster.Partition, error)
}

func paramsOf(live []LivePoint) [][]float64 {
	points := make([][]float64, len(live))
	for i, p := range live {
		points[i] = p.Params
	}
	return points
}
