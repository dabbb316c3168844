package sampler

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/cluster"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/likelihood"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/metric"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/prior"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/reducer"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/region"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/config"
	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/metrics"
)

func testConfig(n int) *config.Config {
	cfg := config.Default()
	cfg.Sampler.InitialNobjects = n
	cfg.Sampler.MinNobjects = n
	cfg.Sampler.NinitialIterationsWithoutClustering = 300
	cfg.Sampler.NiterationsWithSameClustering = 100
	cfg.Sampler.MaxNdrawAttempts = 20000
	cfg.Clustering.MinNclusters = 1
	cfg.Clustering.MaxNclusters = 4
	return cfg
}

func square(t *testing.T, half float64) *prior.Uniform {
	t.Helper()
	p, err := prior.NewUniform([]float64{-half, -half}, []float64{half, half})
	require.NoError(t, err)
	return p
}

func newSampler(t *testing.T, cfg *config.Config, p prior.Prior, l likelihood.Likelihood, opts ...Option) *Sampler {
	t.Helper()
	km, err := cluster.NewKMeans(metric.Euclidean{}, cluster.IdentityProjector{}, cfg.Clustering)
	require.NoError(t, err)
	me, err := region.NewMultiEllipsoid(p, l, km, metric.Euclidean{}, cfg.Sampler)
	require.NoError(t, err)
	s, err := New(cfg.Sampler, cfg.Clustering, p, l, me, opts...)
	require.NoError(t, err)
	return s
}

func feroz(t *testing.T, tol float64) reducer.Reducer {
	t.Helper()
	r, err := reducer.NewFeroz(tol)
	require.NoError(t, err)
	return r
}

func gaussian(sigma float64) likelihood.Likelihood {
	return likelihood.GaussianMixture{Means: [][]float64{{0, 0}}, Sigmas: []float64{sigma}}
}

func TestLogSumExpIsOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	weights := make([]float64, 500)
	for i := range weights {
		weights[i] = -50 + 60*rng.Float64()
	}

	forward := NewEvidence()
	for _, w := range weights {
		forward.Absorb(w, w)
	}
	backward := NewEvidence()
	for i := len(weights) - 1; i >= 0; i-- {
		backward.Absorb(weights[i], weights[i])
	}
	shuffled := NewEvidence()
	for _, i := range rng.Perm(len(weights)) {
		shuffled.Absorb(weights[i], weights[i])
	}

	want := floats.LogSumExp(weights)
	assert.InEpsilon(t, want, forward.LogEvidence, 1e-9)
	assert.InEpsilon(t, want, backward.LogEvidence, 1e-9)
	assert.InEpsilon(t, want, shuffled.LogEvidence, 1e-9)
}

func TestEvidenceFirstAbsorb(t *testing.T) {
	e := NewEvidence()
	e.Absorb(-3, -1)
	assert.Equal(t, -3.0, e.LogEvidence)
	assert.InDelta(t, -1+3, e.InformationH, 1e-12)
	assert.False(t, math.IsNaN(e.InformationH))

	e.Absorb(math.Inf(-1), math.Inf(-1))
	assert.Equal(t, -3.0, e.LogEvidence)
	assert.InDelta(t, 2.0, e.InformationH, 1e-12)
}

func TestLogSumExp(t *testing.T) {
	assert.InDelta(t, math.Log(3), LogSumExp(math.Log(1), math.Log(2)), 1e-12)
	assert.InDelta(t, 1000+math.Log(2), LogSumExp(1000, 1000), 1e-9)
	assert.Equal(t, 5.0, LogSumExp(5, -math.MaxFloat64))
}

// checkingReplacer verifies every request against the live set it sees.
type checkingReplacer struct {
	t     *testing.T
	inner Replacer
}

func (c *checkingReplacer) DrawConstrained(ctx context.Context, rng *rand.Rand, live []region.LivePoint, worst int, req region.Request) (region.LivePoint, int, error) {
	for i, p := range live {
		require.GreaterOrEqual(c.t, p.LogLikelihood, live[worst].LogLikelihood)
		if p.LogLikelihood == live[worst].LogLikelihood {
			require.LessOrEqual(c.t, worst, i, "ties go to the first index")
		}
	}
	require.Equal(c.t, live[worst].LogLikelihood, req.Floor)
	got, attempts, err := c.inner.DrawConstrained(ctx, rng, live, worst, req)
	if err == nil {
		require.GreaterOrEqual(c.t, got.LogLikelihood, req.Floor)
	}
	return got, attempts, err
}

func (c *checkingReplacer) Remove(i int)   { c.inner.Remove(i) }
func (c *checkingReplacer) Nclusters() int { return c.inner.Nclusters() }

func TestRunInvariants(t *testing.T) {
	cfg := testConfig(100)
	p := square(t, 5)
	l := gaussian(0.5)
	km, err := cluster.NewKMeans(nil, nil, cfg.Clustering)
	require.NoError(t, err)
	me, err := region.NewMultiEllipsoid(p, l, km, nil, cfg.Sampler)
	require.NoError(t, err)

	var progress []Progress
	s, err := New(cfg.Sampler, cfg.Clustering, p, l, &checkingReplacer{t: t, inner: me},
		WithObserver(ObserverFunc(func(pr Progress) { progress = append(progress, pr) })))
	require.NoError(t, err)

	res, err := s.Run(context.Background(), feroz(t, 0.01), RunOptionsFrom(cfg.Sampler, "test_"))
	require.NoError(t, err)

	require.Len(t, progress, res.Iterations)
	require.Len(t, res.Posterior, res.Iterations)
	for i := 1; i < len(progress); i++ {
		assert.Less(t, progress[i].LogWidth, progress[i-1].LogWidth, "width strictly decreases")
		assert.GreaterOrEqual(t, progress[i].LogLikelihoodFloor, progress[i-1].LogLikelihoodFloor, "floor never drops")
		assert.GreaterOrEqual(t, res.Posterior[i].LogLikelihood, res.Posterior[i-1].LogLikelihood)
	}
	assert.Equal(t, progress[len(progress)-1].LogEvidence, res.LogEvidence)

	// The Gaussian is normalized and sits well inside the prior box.
	want := -math.Log(100)
	assert.InDelta(t, want, res.LogEvidence, 4*res.LogEvidenceError+0.05)
	assert.Positive(t, res.InformationH, "posterior concentrates, so H > 0")
	assert.InDelta(t, math.Sqrt(res.InformationH/100), res.LogEvidenceError, 1e-12)

	var total float64
	for _, w := range res.PosteriorProbabilities() {
		total += w
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 100, res.FinalNobjects)
}

func TestRunStopsOnceLivePointsHoldLittleEvidence(t *testing.T) {
	cfg := testConfig(100)
	var progress []Progress
	s := newSampler(t, cfg, square(t, 5), gaussian(0.5),
		WithObserver(ObserverFunc(func(pr Progress) { progress = append(progress, pr) })))

	const tol = 0.05
	res, err := s.Run(context.Background(), feroz(t, tol), RunOptionsFrom(cfg.Sampler, ""))
	require.NoError(t, err)
	require.NotEmpty(t, progress)

	remaining := func(p Progress) float64 {
		return p.MaxLogLikelihood + p.LogPriorMass - p.LogEvidence
	}
	last := progress[len(progress)-1]
	assert.Less(t, remaining(last), math.Log(tol))
	for _, p := range progress[:len(progress)-1] {
		assert.GreaterOrEqual(t, remaining(p), math.Log(tol), "iteration %d", p.Iteration)
	}
	assert.InDelta(t, -float64(res.Iterations)/100, last.LogPriorMass, 1e-9)
	assert.InDelta(t, -math.Log(100), res.LogEvidence, 4*res.LogEvidenceError+0.1)
}

func TestRunFlatLikelihood(t *testing.T) {
	cfg := testConfig(100)
	cfg.Sampler.NinitialIterationsWithoutClustering = 100000
	p := square(t, 0.5)
	s := newSampler(t, cfg, p, likelihood.Flat{Value: 0})

	res, err := s.Run(context.Background(), feroz(t, 1e-6), RunOptionsFrom(cfg.Sampler, ""))
	require.NoError(t, err)

	// A normalized prior with L = 1 has evidence 1.
	assert.InDelta(t, 0.0, res.LogEvidence, 1e-3)
	assert.Less(t, math.Abs(res.InformationH), 1e-2)
	assert.Empty(t, res.ClusterHistory)
}

func TestRunDrawExhaustion(t *testing.T) {
	cfg := testConfig(20)
	cfg.Sampler.MaxNdrawAttempts = 1
	p := square(t, 1)
	calls := 0
	// Every point after the initial draw falls below the first floor.
	l := likelihood.Func(func([]float64) float64 {
		calls++
		if calls <= 20 {
			return 0
		}
		return -1
	})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := newSampler(t, cfg, p, l, WithMetrics(m))

	res, err := s.Run(context.Background(), feroz(t, 0.01), RunOptionsFrom(cfg.Sampler, ""))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, perrors.ErrDrawExhausted)
	assert.Equal(t, perrors.ExitDrawExhausted, perrors.ExitCode(err))

	var se *perrors.SamplerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, se.Iteration)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("draw_exhausted")))
}

func TestRunPowerLawReducesLivePoints(t *testing.T) {
	cfg := testConfig(100)
	cfg.Sampler.MinNobjects = 50
	p := square(t, 5)
	l := gaussian(1)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var progress []Progress
	s := newSampler(t, cfg, p, l,
		WithMetrics(m),
		WithObserver(ObserverFunc(func(pr Progress) { progress = append(progress, pr) })),
	)
	red, err := reducer.NewPowerLaw(1e6, 0.4, 0.01, 100, 50)
	require.NoError(t, err)

	res, err := s.Run(context.Background(), red, RunOptionsFrom(cfg.Sampler, ""))
	require.NoError(t, err)

	assert.Equal(t, 50, res.FinalNobjects)
	removed := 0
	for i, pr := range progress {
		if pr.Removed {
			removed++
		}
		if i > 0 {
			assert.LessOrEqual(t, pr.Nobjects, progress[i-1].Nobjects)
			assert.Less(t, pr.LogWidth, progress[i-1].LogWidth)
		}
	}
	assert.Equal(t, 50, removed)
	assert.Len(t, res.Posterior, res.Iterations)
	assert.Equal(t, float64(res.Iterations), testutil.ToFloat64(m.IterationsTotal))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.LivePoints))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("ok")))
	assert.InDelta(t, -math.Log(100), res.LogEvidence, 4*res.LogEvidenceError+0.1)
}

func TestRunRecoversTwoModes(t *testing.T) {
	if testing.Short() {
		t.Skip("slow")
	}
	modes := likelihood.GaussianMixture{
		Means:  [][]float64{{-5, 0}, {5, 0}},
		Sigmas: []float64{1, 1},
	}
	recovered := 0
	for seed := uint64(1); seed <= 10; seed++ {
		cfg := testConfig(200)
		cfg.Sampler.Seed = seed
		s := newSampler(t, cfg, square(t, 10), modes)

		res, err := s.Run(context.Background(), feroz(t, 0.5), RunOptionsFrom(cfg.Sampler, ""))
		require.NoError(t, err)
		require.NotEmpty(t, res.ClusterHistory)
		if res.ClusterHistory[len(res.ClusterHistory)-1].Nclusters == 2 {
			recovered++
		}
		assert.InDelta(t, -math.Log(400), res.LogEvidence, 4*res.LogEvidenceError+0.1)
	}
	assert.GreaterOrEqual(t, recovered, 8)
}

func TestRunIsReproducible(t *testing.T) {
	cfg := testConfig(60)
	p := square(t, 5)
	l := gaussian(1)

	a, err := newSampler(t, cfg, p, l).Run(context.Background(), feroz(t, 0.1), RunOptionsFrom(cfg.Sampler, ""))
	require.NoError(t, err)
	b, err := newSampler(t, cfg, p, l).Run(context.Background(), feroz(t, 0.1), RunOptionsFrom(cfg.Sampler, ""))
	require.NoError(t, err)
	assert.Equal(t, a.LogEvidence, b.LogEvidence)
	assert.Equal(t, a.Iterations, b.Iterations)

	opts := RunOptionsFrom(cfg.Sampler, "")
	opts.SeedOffset = 1
	c, err := newSampler(t, cfg, p, l).Run(context.Background(), feroz(t, 0.1), opts)
	require.NoError(t, err)
	assert.NotEqual(t, a.LogEvidence, c.LogEvidence)
}

func TestRunCancelled(t *testing.T) {
	cfg := testConfig(50)
	s := newSampler(t, cfg, square(t, 5), gaussian(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := s.Run(ctx, feroz(t, 0.01), RunOptionsFrom(cfg.Sampler, ""))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunValidation(t *testing.T) {
	cfg := testConfig(50)
	s := newSampler(t, cfg, square(t, 5), gaussian(1))

	opts := RunOptionsFrom(cfg.Sampler, "")
	opts.MaxDrawAttempts = 0
	_, err := s.Run(context.Background(), feroz(t, 0.01), opts)
	assert.ErrorIs(t, err, perrors.ErrConfiguration)

	_, err = s.Run(context.Background(), nil, RunOptionsFrom(cfg.Sampler, ""))
	assert.ErrorIs(t, err, perrors.ErrConfiguration)

	bad := testConfig(50)
	bad.Sampler.MinNobjects = 60
	_, err = New(bad.Sampler, bad.Clustering, square(t, 5), gaussian(1), &checkingReplacer{})
	assert.ErrorIs(t, err, perrors.ErrConfiguration)

	bad = testConfig(50)
	bad.Clustering.RelTolerance = 0
	_, err = New(bad.Sampler, bad.Clustering, square(t, 5), gaussian(1), &checkingReplacer{})
	assert.ErrorIs(t, err, perrors.ErrConfiguration)
}

func TestRunWithPriorRejection(t *testing.T) {
	cfg := testConfig(50)
	p := square(t, 2)
	l := gaussian(1)
	pr, err := region.NewPriorRejection(p, l)
	require.NoError(t, err)
	s, err := New(cfg.Sampler, cfg.Clustering, p, l, pr)
	require.NoError(t, err)

	res, err := s.Run(context.Background(), feroz(t, 0.1), RunOptionsFrom(cfg.Sampler, ""))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Settings.MinNclusters)
	assert.Equal(t, cfg.Sampler.Seed, res.Settings.Seed)
	assert.Contains(t, res.Settings.Reducer, "feroz")
}

func TestModeSchedule(t *testing.T) {
	opts := RunOptions{NinitialIterationsWithoutClustering: 3, NiterationsWithSameClustering: 2}
	st := &run{lastRecluster: -1}
	var modes []region.Mode
	for st.iteration = 0; st.iteration < 8; st.iteration++ {
		modes = append(modes, st.mode(opts))
	}
	assert.Equal(t, []region.Mode{
		region.ModeSingle, region.ModeSingle, region.ModeSingle,
		region.ModeRecluster, region.ModeReuse,
		region.ModeRecluster, region.ModeReuse,
		region.ModeRecluster,
	}, modes)
}
