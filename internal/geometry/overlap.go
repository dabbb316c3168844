package geometry

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/metric"
)

// Overlaps reports whether e and other may intersect. Centers farther apart
// than the sum of the largest semi-axes never overlap. Otherwise the exact
// test on the pencil of the two quadratic forms decides: the ellipsoids are
// disjoint iff inv(A)*B has two distinct negative real eigenvalues. Numerical
// failures report an overlap, which only costs sampling efficiency.
func (e *Ellipsoid) Overlaps(other *Ellipsoid, m metric.Metric) bool {
	if m == nil {
		m = metric.Euclidean{}
	}
	if m.Distance(e.center, other.center) > e.maxSemiAxis()+other.maxSemiAxis() {
		return false
	}

	a := e.homogeneous()
	b := other.homogeneous()
	var prod mat.Dense
	if err := prod.Solve(a, b); err != nil {
		return true
	}
	var eig mat.Eigen
	if !eig.Factorize(&prod, mat.EigenNone) {
		return true
	}
	values := eig.Values(nil)

	var scale float64
	for _, v := range values {
		scale = math.Max(scale, cmplxAbs(v))
	}
	tol := 1e-9 * math.Max(scale, 1)

	var negatives []float64
	for _, v := range values {
		if math.Abs(imag(v)) <= tol && real(v) < -tol {
			negatives = append(negatives, real(v))
		}
	}
	for i := 0; i < len(negatives); i++ {
		for j := i + 1; j < len(negatives); j++ {
			if math.Abs(negatives[i]-negatives[j]) > tol {
				return false
			}
		}
	}
	return true
}

// homogeneous returns the (d+1)x(d+1) matrix M with [x 1] M [x 1]^T <= 0
// exactly on the ellipsoid.
func (e *Ellipsoid) homogeneous() *mat.Dense {
	dims := len(e.center)
	q := mat.NewDense(dims, dims, nil)
	for j, dir := range e.directions {
		w := 1 / (e.semiAxes[j] * e.semiAxes[j])
		for r := 0; r < dims; r++ {
			for c := 0; c < dims; c++ {
				q.Set(r, c, q.At(r, c)+w*dir[r]*dir[c])
			}
		}
	}

	center := mat.NewVecDense(dims, e.center)
	var qc mat.VecDense
	qc.MulVec(q, center)

	m := mat.NewDense(dims+1, dims+1, nil)
	for r := 0; r < dims; r++ {
		for c := 0; c < dims; c++ {
			m.Set(r, c, q.At(r, c))
		}
		m.Set(r, dims, -qc.AtVec(r))
		m.Set(dims, r, -qc.AtVec(r))
	}
	m.Set(dims, dims, mat.Dot(center, &qc)-1)
	return m
}

func cmplxAbs(v complex128) float64 {
	return math.Hypot(real(v), imag(v))
}
