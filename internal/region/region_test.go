package region

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/cluster"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/geometry"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/likelihood"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/metric"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/prior"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/config"
	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/metrics"
)

type fixedClusterer struct {
	labels []int
	k      int
	calls  int
}

func (f *fixedClusterer) Cluster(_ context.Context, _ *rand.Rand, points [][]float64) (cluster.Partition, error) {
	f.calls++
	return cluster.Partition{Labels: append([]int(nil), f.labels[:len(points)]...), K: f.k}, nil
}

func box(t *testing.T) *prior.Uniform {
	t.Helper()
	p, err := prior.NewUniform([]float64{-5, -5}, []float64{5, 5})
	require.NoError(t, err)
	return p
}

func samplerConfig(enlargement float64) config.SamplerConfig {
	cfg := config.Default().Sampler
	cfg.InitialEnlargementFraction = &enlargement
	return cfg
}

func bowl(p []float64) float64 { return -(p[0]*p[0] + p[1]*p[1]) }

func drawLive(rng *rand.Rand, p prior.Prior, l likelihood.Likelihood, n int) []LivePoint {
	points := make([][]float64, n)
	for i := range points {
		points[i] = make([]float64, p.Dimensions())
	}
	p.Draw(rng, points)
	live := make([]LivePoint, n)
	for i, x := range points {
		live[i] = LivePoint{Params: x, LogLikelihood: l.LogLikelihood(x)}
	}
	return live
}

func worstOf(live []LivePoint) int {
	worst := 0
	for i, p := range live {
		if p.LogLikelihood < live[worst].LogLikelihood {
			worst = i
		}
	}
	return worst
}

func TestMultiEllipsoidHonoursFloor(t *testing.T) {
	p := box(t)
	l := likelihood.Func(bowl)
	km, err := cluster.NewKMeans(metric.Euclidean{}, cluster.IdentityProjector{}, config.Default().Clustering)
	require.NoError(t, err)
	me, err := NewMultiEllipsoid(p, l, km, metric.Euclidean{}, config.Default().Sampler)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 1))
	live := drawLive(rng, p, l, 100)
	for iter := 0; iter < 300; iter++ {
		worst := worstOf(live)
		floor := live[worst].LogLikelihood
		mode := ModeSingle
		if iter >= 100 {
			mode = ModeReuse
			if iter%50 == 0 {
				mode = ModeRecluster
			}
		}
		got, attempts, err := me.DrawConstrained(context.Background(), rng, live, worst, Request{
			Floor:                 floor,
			MaxDrawAttempts:       10000,
			Mode:                  mode,
			LogRemainingPriorMass: -float64(iter) / 100,
		})
		require.NoError(t, err)
		require.GreaterOrEqual(t, got.LogLikelihood, floor)
		require.False(t, p.Rejects(rng, got.Params))
		require.GreaterOrEqual(t, attempts, 1)
		assert.Equal(t, bowl(got.Params), got.LogLikelihood)
		live[worst] = got
	}
	assert.GreaterOrEqual(t, me.Nclusters(), 1)
}

func TestMultiEllipsoidDrawExhaustion(t *testing.T) {
	p := box(t)
	l := likelihood.Func(bowl)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	me, err := NewMultiEllipsoid(p, l, &fixedClusterer{}, nil, config.Default().Sampler, WithMetrics(m))
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(2, 2))
	live := drawLive(rng, p, l, 50)
	_, attempts, err := me.DrawConstrained(context.Background(), rng, live, worstOf(live), Request{
		Floor:           1,
		MaxDrawAttempts: 1,
		Mode:            ModeSingle,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrDrawExhausted)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DrawExhaustionsTotal))
}

func TestMultiEllipsoidReclusterUsesClusterer(t *testing.T) {
	p := box(t)
	l := likelihood.Flat{}
	rng := rand.New(rand.NewPCG(3, 3))

	live := make([]LivePoint, 0, 120)
	labels := make([]int, 0, 120)
	for i := 0; i < 120; i++ {
		cx := -3.0
		if i%2 == 1 {
			cx = 3
		}
		x := []float64{cx + rng.Float64() - 0.5, rng.Float64() - 0.5}
		live = append(live, LivePoint{Params: x})
		labels = append(labels, i%2)
	}
	fc := &fixedClusterer{labels: labels, k: 2}
	me, err := NewMultiEllipsoid(p, l, fc, nil, samplerConfig(0.1))
	require.NoError(t, err)

	got, _, err := me.DrawConstrained(context.Background(), rng, live, 0, Request{
		Floor:           math.Inf(-1),
		MaxDrawAttempts: 100,
		Mode:            ModeRecluster,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fc.calls)
	assert.Equal(t, 2, me.Nclusters())
	require.Len(t, me.Ellipsoids(), 2)
	assert.False(t, me.Ellipsoids()[0].Overlaps(me.Ellipsoids()[1], metric.Euclidean{}))

	wantLabel := 0
	if got.Params[0] > 0 {
		wantLabel = 1
	}
	assert.Equal(t, wantLabel, me.labels[0], "replacement inherits the label of its ellipsoid")

	_, _, err = me.DrawConstrained(context.Background(), rng, live, 1, Request{
		Floor:           math.Inf(-1),
		MaxDrawAttempts: 100,
		Mode:            ModeReuse,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fc.calls, "reuse does not recluster")

	me.Remove(5)
	assert.Len(t, me.labels, 119)
	_, _, err = me.DrawConstrained(context.Background(), rng, live[:119], 1, Request{
		Floor:           math.Inf(-1),
		MaxDrawAttempts: 100,
		Mode:            ModeReuse,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, me.Nclusters())
}

func TestMultiEllipsoidReuseWithoutPartitionFallsBack(t *testing.T) {
	p := box(t)
	l := likelihood.Flat{}
	me, err := NewMultiEllipsoid(p, l, &fixedClusterer{}, nil, config.Default().Sampler)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(4, 4))
	live := drawLive(rng, p, l, 30)
	_, _, err = me.DrawConstrained(context.Background(), rng, live, 0, Request{
		Floor:           math.Inf(-1),
		MaxDrawAttempts: 100,
		Mode:            ModeReuse,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, me.Nclusters())
	assert.Len(t, me.Ellipsoids(), 1)
}

// Candidates in the overlap of two ellipsoids must not be over-sampled.
func TestMultiEllipsoidUniformOverUnion(t *testing.T) {
	p := box(t)
	l := likelihood.Flat{}
	rng := rand.New(rand.NewPCG(5, 5))

	var live []LivePoint
	var labels []int
	for i := 0; i < 800; i++ {
		x := rng.Float64() * 2
		if i%2 == 1 {
			x++
		}
		live = append(live, LivePoint{Params: []float64{x, rng.Float64()}})
		labels = append(labels, i%2)
	}
	me, err := NewMultiEllipsoid(p, l, &fixedClusterer{labels: labels, k: 2}, nil, samplerConfig(0))
	require.NoError(t, err)

	req := Request{Floor: math.Inf(-1), MaxDrawAttempts: 1000, Mode: ModeRecluster}
	_, _, err = me.DrawConstrained(context.Background(), rng, live, 0, req)
	require.NoError(t, err)
	es := me.Ellipsoids()
	require.Len(t, es, 2)
	require.True(t, es[0].Overlaps(es[1], metric.Euclidean{}))

	req.Mode = ModeReuse
	var onlyA, both int
	for i := 0; i < 20000; i++ {
		got, _, err := me.DrawConstrained(context.Background(), rng, live, 0, req)
		require.NoError(t, err)
		x, y := got.Params[0], got.Params[1]
		if y < 0.3 || y > 0.7 {
			continue
		}
		switch {
		case x >= -0.2 && x <= 0.4:
			onlyA++
		case x >= 1.2 && x <= 1.8:
			both++
		}
	}
	require.Positive(t, onlyA)
	assert.InEpsilon(t, 1.0, float64(both)/float64(onlyA), 0.2)
}

func TestNewMultiEllipsoidValidation(t *testing.T) {
	_, err := NewMultiEllipsoid(nil, likelihood.Flat{}, &fixedClusterer{}, nil, config.Default().Sampler)
	assert.ErrorIs(t, err, perrors.ErrConfiguration)
	_, err = NewMultiEllipsoid(box(t), likelihood.Flat{}, &fixedClusterer{}, nil, samplerConfig(-1))
	assert.ErrorIs(t, err, perrors.ErrConfiguration)
}

func TestPriorRejection(t *testing.T) {
	p := box(t)
	l := likelihood.Func(bowl)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	pr, err := NewPriorRejection(p, l, WithMetrics(m))
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(6, 6))
	live := drawLive(rng, p, l, 40)
	worst := worstOf(live)
	floor := live[worst].LogLikelihood

	got, attempts, err := pr.DrawConstrained(context.Background(), rng, live, worst, Request{Floor: floor, MaxDrawAttempts: 1000})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.LogLikelihood, floor)
	assert.Equal(t, bowl(got.Params), got.LogLikelihood)
	assert.Equal(t, float64(attempts), testutil.ToFloat64(m.LikelihoodEvaluationsTotal))
	assert.Equal(t, 1, pr.Nclusters())

	_, _, err = pr.DrawConstrained(context.Background(), rng, live, worst, Request{Floor: 10, MaxDrawAttempts: 1})
	assert.ErrorIs(t, err, perrors.ErrDrawExhausted)
}

func TestPlateauAtFloorIsAccepted(t *testing.T) {
	p := box(t)
	l := likelihood.Flat{Value: -2}
	pr, err := NewPriorRejection(p, l)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(8, 8))
	live := drawLive(rng, p, l, 10)
	got, attempts, err := pr.DrawConstrained(context.Background(), rng, live, 0, Request{Floor: -2, MaxDrawAttempts: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, -2.0, got.LogLikelihood)
}

func TestVolumeWeightsAndPick(t *testing.T) {
	small := geometry.NewAxisAligned([]float64{0, 0}, []float64{1, 1})
	large := geometry.NewAxisAligned([]float64{5, 5}, []float64{3, 1})
	cumulative := volumeWeights([]*geometry.Ellipsoid{small, large})
	assert.InDelta(t, 0.25, cumulative[0], 1e-12)
	assert.InDelta(t, 1.0, cumulative[1], 1e-12)

	rng := rand.New(rand.NewPCG(7, 7))
	var first int
	for i := 0; i < 10000; i++ {
		if pick(rng, cumulative) == 0 {
			first++
		}
	}
	assert.InDelta(t, 0.25, float64(first)/10000, 0.02)
}
