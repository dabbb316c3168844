// Package geometry implements the bounding ellipsoids used to restrict
// constrained prior sampling to the region occupied by the live points.
//
// An ellipsoid is described by its center c, its principal directions v_j and
// semi-axis lengths a_j. A point x lies inside when
//
//	sum_j ((x-c)·v_j / a_j)^2 <= 1
//
// The semi-axes are the square roots of the eigenvalues of the member
// covariance, scaled so that every member lies inside, then multiplied by
// (1 + enlargement).
package geometry

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
)

// Ellipsoid is an enlarged bounding ellipsoid. The zero value is not usable;
// build one with Fit or NewAxisAligned.
type Ellipsoid struct {
	center      []float64
	directions  [][]float64 // unit principal directions
	variances   []float64   // bounding variances along directions, before enlargement
	enlargement float64
	semiAxes    []float64
	logVolume   float64
	members     int
	degenerate  bool
	regularized bool
}

// FitOptions tunes Fit.
type FitOptions struct {
	// MinVariance floors every principal variance. Clusters with no more
	// points than dimensions end up with their missing axes at this value.
	MinVariance float64
}

// Fit builds the smallest covariance-shaped ellipsoid containing points and
// enlarges it by the given fraction.
func Fit(points [][]float64, enlargement float64, opts FitOptions) (*Ellipsoid, error) {
	n := len(points)
	if n == 0 {
		return nil, perrors.New(perrors.ErrInvalidInput, "cannot fit an ellipsoid to zero points")
	}
	if enlargement < 0 {
		return nil, perrors.Newf(perrors.ErrInvalidInput, "negative enlargement %g", enlargement)
	}
	dims := len(points[0])
	if dims == 0 {
		return nil, perrors.New(perrors.ErrInvalidInput, "cannot fit an ellipsoid in zero dimensions")
	}

	center := make([]float64, dims)
	data := mat.NewDense(n, dims, nil)
	for i, p := range points {
		if len(p) != dims {
			return nil, perrors.Newf(perrors.ErrInvalidInput, "point %d has %d coordinates, want %d", i, len(p), dims)
		}
		data.SetRow(i, p)
		floats.Add(center, p)
	}
	floats.Scale(1/float64(n), center)

	cov := mat.NewSymDense(dims, nil)
	if n >= 2 {
		stat.CovarianceMatrix(cov, data, nil)
	}

	floor := opts.MinVariance
	if floor <= 0 {
		floor = 1e-12 * math.Max(1, mat.Trace(cov)/float64(dims))
	}

	values, directions, err := eigen(cov, floor)
	if err != nil {
		return nil, err
	}

	e := &Ellipsoid{
		center:     center,
		directions: directions,
		variances:  values,
		members:    n,
		degenerate: n <= dims,
	}
	for i, v := range e.variances {
		if v < floor || math.IsNaN(v) {
			e.variances[i] = floor
			if !e.degenerate {
				e.regularized = true
			}
		}
	}

	// Scale so that the farthest member sits on the boundary.
	var maxDist float64
	for _, p := range points {
		maxDist = math.Max(maxDist, e.scaledDistance(p, e.variances))
	}
	if maxDist > 0 {
		floats.Scale(maxDist, e.variances)
	}

	e.SetEnlargement(enlargement)
	return e, nil
}

// eigen decomposes cov, inflating its diagonal once if the first attempt
// fails.
func eigen(cov *mat.SymDense, floor float64) ([]float64, [][]float64, error) {
	dims := cov.SymmetricDim()
	var es mat.EigenSym
	if !es.Factorize(cov, true) {
		inflated := mat.NewSymDense(dims, nil)
		inflated.CopySym(cov)
		for i := 0; i < dims; i++ {
			inflated.SetSym(i, i, inflated.At(i, i)+floor)
		}
		if !es.Factorize(inflated, true) {
			return nil, nil, perrors.New(perrors.ErrNumericInstability, "covariance eigendecomposition failed after regularization")
		}
	}
	values := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	directions := make([][]float64, dims)
	for j := range directions {
		directions[j] = mat.Col(nil, j, &vecs)
	}
	return values, directions, nil
}

// NewAxisAligned returns an ellipsoid with the given center and semi-axes
// along the coordinate axes, without enlargement.
func NewAxisAligned(center, semiAxes []float64) *Ellipsoid {
	dims := len(center)
	e := &Ellipsoid{
		center:     append([]float64(nil), center...),
		directions: make([][]float64, dims),
		variances:  make([]float64, dims),
	}
	for j := 0; j < dims; j++ {
		e.directions[j] = make([]float64, dims)
		e.directions[j][j] = 1
		e.variances[j] = semiAxes[j] * semiAxes[j]
	}
	e.SetEnlargement(0)
	return e
}

// SetEnlargement rescales the semi-axes to sqrt(variance)*(1+fraction) and
// refreshes the cached volume.
func (e *Ellipsoid) SetEnlargement(fraction float64) {
	e.enlargement = fraction
	if e.semiAxes == nil {
		e.semiAxes = make([]float64, len(e.variances))
	}
	logVolume := logUnitBallVolume(len(e.variances))
	for j, v := range e.variances {
		e.semiAxes[j] = math.Sqrt(v) * (1 + fraction)
		logVolume += math.Log(e.semiAxes[j])
	}
	e.logVolume = logVolume
}

// boundaryTolerance absorbs the rounding left on the member that Fit
// places on the boundary.
const boundaryTolerance = 1e-12

// Contains reports whether x lies inside the enlarged ellipsoid.
func (e *Ellipsoid) Contains(x []float64) bool {
	return e.NormalizedDistance(x) <= 1+boundaryTolerance
}

// NormalizedDistance returns the squared generalized distance of x from the
// center; 1 on the boundary.
func (e *Ellipsoid) NormalizedDistance(x []float64) float64 {
	var d float64
	for j, dir := range e.directions {
		var proj float64
		for i, c := range e.center {
			proj += (x[i] - c) * dir[i]
		}
		proj /= e.semiAxes[j]
		d += proj * proj
	}
	return d
}

func (e *Ellipsoid) scaledDistance(x []float64, variances []float64) float64 {
	var d float64
	for j, dir := range e.directions {
		var proj float64
		for i, c := range e.center {
			proj += (x[i] - c) * dir[i]
		}
		d += proj * proj / variances[j]
	}
	return d
}

// Sample writes a point drawn uniformly from the ellipsoid interior to dst.
func (e *Ellipsoid) Sample(rng *rand.Rand, dst []float64) {
	dims := len(e.center)
	z := make([]float64, dims)
	for {
		for i := range z {
			z[i] = rng.NormFloat64()
		}
		if floats.Norm(z, 2) > 0 {
			break
		}
	}
	radius := math.Pow(rng.Float64(), 1/float64(dims)) / floats.Norm(z, 2)
	copy(dst, e.center)
	for j, dir := range e.directions {
		floats.AddScaled(dst, radius*z[j]*e.semiAxes[j], dir)
	}
}

// LogVolume returns the natural log of the enlarged volume.
func (e *Ellipsoid) LogVolume() float64 { return e.logVolume }

func (e *Ellipsoid) Volume() float64 { return math.Exp(e.logVolume) }

func (e *Ellipsoid) Dimensions() int { return len(e.center) }

func (e *Ellipsoid) Enlargement() float64 { return e.enlargement }

// Members is the number of points the ellipsoid was fitted to.
func (e *Ellipsoid) Members() int { return e.members }

// Degenerate reports whether the ellipsoid was fitted to no more points than
// dimensions and relies on the variance floor.
func (e *Ellipsoid) Degenerate() bool { return e.degenerate }

// Regularized reports whether a near-singular covariance had to be floored.
func (e *Ellipsoid) Regularized() bool { return e.regularized }

func (e *Ellipsoid) Center() []float64 {
	return append([]float64(nil), e.center...)
}

func (e *Ellipsoid) SemiAxes() []float64 {
	return append([]float64(nil), e.semiAxes...)
}

func (e *Ellipsoid) maxSemiAxis() float64 {
	return floats.Max(e.semiAxes)
}

func (e *Ellipsoid) String() string {
	return fmt.Sprintf("Ellipsoid{center=%v semiAxes=%v enlargement=%.3f}", e.center, e.semiAxes, e.enlargement)
}

// logUnitBallVolume is log(pi^(d/2) / Gamma(d/2 + 1)).
func logUnitBallVolume(dims int) float64 {
	half := float64(dims) / 2
	lg, _ := math.Lgamma(half + 1)
	return half*math.Log(math.Pi) - lg
}
