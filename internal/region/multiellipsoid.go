package region

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/geometry"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/likelihood"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/metric"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/prior"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/config"
	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/metrics"
)

const ctxCheckInterval = 1024

// MultiEllipsoid draws replacements uniformly from the union of one enlarged
// ellipsoid per live-point cluster.
type MultiEllipsoid struct {
	prior         prior.Prior
	likelihood    likelihood.Likelihood
	clusterer     Clusterer
	metric        metric.Metric
	enlargement   float64
	shrinkingRate float64
	metrics       *metrics.Metrics

	labels     []int
	nclusters  int
	ellipsoids []*geometry.Ellipsoid
	ellLabels  []int
	overlaps   [][]int
}

// Option configures a MultiEllipsoid or PriorRejection.
type Option func(*options)

type options struct {
	metrics *metrics.Metrics
}

// WithMetrics records draw and clustering statistics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func NewMultiEllipsoid(p prior.Prior, l likelihood.Likelihood, c Clusterer, m metric.Metric, cfg config.SamplerConfig, opts ...Option) (*MultiEllipsoid, error) {
	if p == nil || l == nil || c == nil {
		return nil, perrors.New(perrors.ErrConfiguration, "multi-ellipsoid sampler needs a prior, a likelihood and a clusterer")
	}
	f0 := cfg.EnlargementFraction(p.Dimensions())
	if f0 < 0 {
		return nil, perrors.Newf(perrors.ErrConfiguration, "enlargement fraction %g must be non-negative", f0)
	}
	if m == nil {
		m = metric.Euclidean{}
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &MultiEllipsoid{
		prior:         p,
		likelihood:    l,
		clusterer:     c,
		metric:        m,
		enlargement:   f0,
		shrinkingRate: cfg.ShrinkingRate,
		metrics:       o.metrics,
		nclusters:     1,
	}, nil
}

// DrawConstrained returns a replacement for live[worst] whose log-likelihood
// is at least req.Floor, together with the number of candidates drawn.
// The worst point takes no part in the ellipsoid fit.
func (me *MultiEllipsoid) DrawConstrained(ctx context.Context, rng *rand.Rand, live []LivePoint, worst int, req Request) (LivePoint, int, error) {
	if len(live) < 2 {
		return LivePoint{}, 0, perrors.Newf(perrors.ErrInvalidInput, "need at least 2 live points, have %d", len(live))
	}
	if err := me.partition(ctx, rng, live, req.Mode); err != nil {
		return LivePoint{}, 0, err
	}
	if err := me.fit(ctx, live, worst, req.LogRemainingPriorMass); err != nil {
		return LivePoint{}, 0, err
	}
	me.computeOverlaps()

	point, label, attempts, err := me.sample(ctx, rng, req)
	if me.metrics != nil {
		me.metrics.DrawAttempts.Observe(float64(attempts))
	}
	if err != nil {
		if me.metrics != nil && perrors.Is(err, perrors.ErrDrawExhausted) {
			me.metrics.DrawExhaustionsTotal.Inc()
		}
		return LivePoint{}, attempts, err
	}
	me.labels[worst] = label
	return point, attempts, nil
}

// Remove forgets the cluster label of a live point removed without
// replacement, keeping the remaining labels aligned with the live set.
func (me *MultiEllipsoid) Remove(index int) {
	if index >= 0 && index < len(me.labels) {
		me.labels = append(me.labels[:index], me.labels[index+1:]...)
	}
}

// Nclusters is the number of clusters in the current partition.
func (me *MultiEllipsoid) Nclusters() int { return me.nclusters }

// Ellipsoids returns the ellipsoids fitted by the last draw.
func (me *MultiEllipsoid) Ellipsoids() []*geometry.Ellipsoid {
	return append([]*geometry.Ellipsoid(nil), me.ellipsoids...)
}

func (me *MultiEllipsoid) partition(ctx context.Context, rng *rand.Rand, live []LivePoint, mode Mode) error {
	if mode == ModeReuse && len(me.labels) != len(live) {
		logger.FromContext(ctx).Debug("stored partition does not match live set, using a single cluster",
			"labels", len(me.labels),
			"live", len(live),
		)
		mode = ModeSingle
	}

	switch mode {
	case ModeRecluster:
		start := time.Now()
		part, err := me.clusterer.Cluster(ctx, rng, paramsOf(live))
		if err != nil {
			return err
		}
		me.labels = part.Labels
		me.nclusters = part.K
		if me.metrics != nil {
			me.metrics.ReclusteringsTotal.Inc()
			me.metrics.ReclusterDuration.Observe(time.Since(start).Seconds())
		}
		logger.FromContext(ctx).Debug("live points reclustered",
			"clusters", part.K,
			"sizes", part.Sizes(),
			"duration", time.Since(start),
		)
	case ModeSingle:
		if len(me.labels) != len(live) {
			me.labels = make([]int, len(live))
		} else {
			clear(me.labels)
		}
		me.nclusters = 1
	}
	if me.metrics != nil {
		me.metrics.Clusters.Set(float64(me.nclusters))
	}
	return nil
}

func (me *MultiEllipsoid) fit(ctx context.Context, live []LivePoint, worst int, logX float64) error {
	dims := me.prior.Dimensions()
	members := make([][][]float64, me.nclusters)
	var all [][]float64
	for i, p := range live {
		if i == worst {
			continue
		}
		members[me.labels[i]] = append(members[me.labels[i]], p.Params)
		all = append(all, p.Params)
	}
	n := float64(len(all))
	globalVar := meanVariance(all)
	decay := math.Exp(me.shrinkingRate * logX)

	me.ellipsoids = me.ellipsoids[:0]
	me.ellLabels = me.ellLabels[:0]
	for label, points := range members {
		nk := len(points)
		if nk == 0 {
			continue
		}
		floor := globalVar * 1e-10
		if nk <= dims {
			floor = globalVar * math.Pow(float64(nk)/n, 2/float64(dims))
		}
		f := me.enlargement * decay * math.Sqrt(n/float64(nk))
		e, err := geometry.Fit(points, f, geometry.FitOptions{MinVariance: floor})
		if err != nil {
			return err
		}
		if e.Degenerate() {
			if me.metrics != nil {
				me.metrics.DegenerateClustersTotal.Inc()
			}
			logger.FromContext(ctx).Debug("degenerate cluster replaced by minimum-volume ellipsoid",
				"error", perrors.Newf(perrors.ErrDegenerateCluster, "cluster %d has %d points in %d dimensions", label, nk, dims),
			)
		} else if e.Regularized() {
			logger.FromContext(ctx).Warn("near-singular cluster covariance regularized",
				"error", perrors.Newf(perrors.ErrNumericInstability, "cluster %d covariance floored at %g", label, floor),
			)
		}
		me.ellipsoids = append(me.ellipsoids, e)
		me.ellLabels = append(me.ellLabels, label)
	}
	return nil
}

func (me *MultiEllipsoid) computeOverlaps() {
	me.overlaps = make([][]int, len(me.ellipsoids))
	for i := range me.ellipsoids {
		for j := i + 1; j < len(me.ellipsoids); j++ {
			if me.ellipsoids[i].Overlaps(me.ellipsoids[j], me.metric) {
				me.overlaps[i] = append(me.overlaps[i], j)
				me.overlaps[j] = append(me.overlaps[j], i)
			}
		}
	}
}

func (me *MultiEllipsoid) sample(ctx context.Context, rng *rand.Rand, req Request) (LivePoint, int, int, error) {
	cumulative := volumeWeights(me.ellipsoids)
	candidate := make([]float64, me.prior.Dimensions())

	for attempts := 1; attempts <= req.MaxDrawAttempts; attempts++ {
		if attempts%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return LivePoint{}, 0, attempts, err
			}
		}
		i := pick(rng, cumulative)
		me.ellipsoids[i].Sample(rng, candidate)
		if me.prior.Rejects(rng, candidate) {
			continue
		}
		k := 1
		for _, j := range me.overlaps[i] {
			if me.ellipsoids[j].Contains(candidate) {
				k++
			}
		}
		if k > 1 && rng.Float64()*float64(k) >= 1 {
			continue
		}
		logL := me.likelihood.LogLikelihood(candidate)
		if me.metrics != nil {
			me.metrics.LikelihoodEvaluationsTotal.Inc()
		}
		if logL >= req.Floor {
			return LivePoint{Params: candidate, LogLikelihood: logL}, me.ellLabels[i], attempts, nil
		}
	}
	return LivePoint{}, 0, req.MaxDrawAttempts, perrors.Newf(perrors.ErrDrawExhausted,
		"no candidate reached log-likelihood %g in %d attempts", req.Floor, req.MaxDrawAttempts)
}

// volumeWeights returns the cumulative normalized volumes of es.
func volumeWeights(es []*geometry.Ellipsoid) []float64 {
	maxLog := math.Inf(-1)
	for _, e := range es {
		maxLog = math.Max(maxLog, e.LogVolume())
	}
	cumulative := make([]float64, len(es))
	var total float64
	for i, e := range es {
		total += math.Exp(e.LogVolume() - maxLog)
		cumulative[i] = total
	}
	for i := range cumulative {
		cumulative[i] /= total
	}
	return cumulative
}

func pick(rng *rand.Rand, cumulative []float64) int {
	u := rng.Float64()
	for i, c := range cumulative {
		if u < c {
			return i
		}
	}
	return len(cumulative) - 1
}

// meanVariance is the average eigenvalue of the covariance of points, i.e.
// its trace divided by the dimension.
func meanVariance(points [][]float64) float64 {
	if len(points) < 2 {
		return 0
	}
	dims := len(points[0])
	data := mat.NewDense(len(points), dims, nil)
	for i, p := range points {
		data.SetRow(i, p)
	}
	cov := mat.NewSymDense(dims, nil)
	stat.CovarianceMatrix(cov, data, nil)
	return mat.Trace(cov) / float64(dims)
}
