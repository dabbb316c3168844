package cluster

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Projector maps points to the feature space the clusterer measures
// distances in. It never modifies its input.
type Projector interface {
	Project(points [][]float64) [][]float64
}

// IdentityProjector clusters on the raw parameter coordinates.
type IdentityProjector struct{}

func (IdentityProjector) Project(points [][]float64) [][]float64 {
	return points
}

// PCAProjector projects points onto the leading principal components that
// together explain at least VarianceThreshold of the total variance.
type PCAProjector struct {
	VarianceThreshold float64
}

// Project centers the points and projects them on the retained components.
// Inputs that cannot be decomposed are returned as a copy.
func (p PCAProjector) Project(points [][]float64) [][]float64 {
	n := len(points)
	if n < 2 {
		return copyPoints(points)
	}
	dims := len(points[0])

	centered := mat.NewDense(n, dims, nil)
	for i, point := range points {
		centered.SetRow(i, point)
	}
	for j := 0; j < dims; j++ {
		mean := stat.Mean(mat.Col(nil, j, centered), nil)
		for i := 0; i < n; i++ {
			centered.Set(i, j, centered.At(i, j)-mean)
		}
	}

	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDThin) {
		return copyPoints(points)
	}
	values := svd.Values(nil)

	var total float64
	for _, s := range values {
		total += s * s
	}
	if total == 0 {
		return copyPoints(points)
	}
	threshold := p.VarianceThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = 1
	}
	keep := len(values)
	var explained float64
	for i, s := range values {
		explained += s * s
		if explained/total >= threshold {
			keep = i + 1
			break
		}
	}

	var v mat.Dense
	svd.VTo(&v)
	rows, _ := v.Dims()
	var projected mat.Dense
	projected.Mul(centered, v.Slice(0, rows, 0, keep))

	out := make([][]float64, n)
	for i := range out {
		out[i] = mat.Row(nil, i, &projected)
	}
	return out
}

func copyPoints(points [][]float64) [][]float64 {
	out := make([][]float64, len(points))
	for i, p := range points {
		out[i] = append([]float64(nil), p...)
	}
	return out
}
