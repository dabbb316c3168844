// Package metric defines pairwise distances over parameter vectors.
package metric

import "gonum.org/v1/gonum/floats"

// Metric is a distance between two vectors of equal length. Implementations
// must be symmetric, non-negative and zero only for equal vectors.
type Metric interface {
	Distance(a, b []float64) float64
}

// Euclidean is the L2 distance.
type Euclidean struct{}

func (Euclidean) Distance(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// SquaredDistance returns Distance(a, b)^2. The clusterer measures
// dispersion with it.
func SquaredDistance(m Metric, a, b []float64) float64 {
	d := m.Distance(a, b)
	return d * d
}
