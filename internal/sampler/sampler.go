// Package sampler runs the nested-sampling loop: it keeps the live points,
// accumulates evidence and information, archives the posterior samples and
// asks a Replacer for constrained replacements until a Reducer says stop.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/likelihood"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/prior"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/reducer"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/region"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/config"
	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/metrics"
)

// LivePoint is a member of the live set.
type LivePoint = region.LivePoint

// Replacer produces constrained replacements for the worst live point.
type Replacer interface {
	DrawConstrained(ctx context.Context, rng *rand.Rand, live []region.LivePoint, worst int, req region.Request) (region.LivePoint, int, error)
	// Remove is called when live point index leaves the set without a
	// replacement.
	Remove(index int)
	Nclusters() int
}

// Observer receives a snapshot after every completed iteration. Observe is
// called on the sampling goroutine and must not block.
type Observer interface {
	Observe(p Progress)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Progress)

func (f ObserverFunc) Observe(p Progress) { f(p) }

// Progress describes the state right after an iteration.
type Progress struct {
	RunID              string  `json:"run_id"`
	Iteration          int     `json:"iteration"`
	Nobjects           int     `json:"n_objects"`
	Nclusters          int     `json:"n_clusters"`
	LogEvidence        float64 `json:"log_evidence"`
	InformationH       float64 `json:"information_h"`
	LogWidth           float64 `json:"log_width"`
	LogPriorMass       float64 `json:"log_prior_mass"`
	LogLikelihoodFloor float64 `json:"log_likelihood_floor"`
	MaxLogLikelihood   float64 `json:"max_log_likelihood"`
	DrawAttempts       int     `json:"draw_attempts"`
	// Removed marks an iteration that dropped a live point without
	// replacing it.
	Removed bool `json:"removed"`
}

// Sample is one entry of the posterior archive.
type Sample struct {
	Parameters    []float64
	LogLikelihood float64
	LogWeight     float64
}

// ClusterEvent records the outcome of a re-clustering.
type ClusterEvent struct {
	Iteration int
	Nclusters int
}

// Settings are the configuration values a run used.
type Settings struct {
	InitialNobjects            int
	MinNobjects                int
	MinNclusters               int
	MaxNclusters               int
	InitialEnlargementFraction float64
	ShrinkingRate              float64
	TerminationFactor          float64
	Reducer                    string
	Seed                       uint64
	SeedOffset                 int
}

// Result is the read-only outcome of a completed run.
type Result struct {
	RunID            string
	LogEvidence      float64
	LogEvidenceError float64
	InformationH     float64
	Iterations       int
	FinalNobjects    int
	DrawAttempts     int
	Posterior        []Sample
	ClusterHistory   []ClusterEvent
	Settings         Settings
	Duration         time.Duration
}

// PosteriorProbabilities returns the normalized weight of every archived
// sample.
func (r *Result) PosteriorProbabilities() []float64 {
	probs := make([]float64, len(r.Posterior))
	for i, s := range r.Posterior {
		probs[i] = math.Exp(s.LogWeight - r.LogEvidence)
	}
	return probs
}

// RunOptions are the per-run loop controls.
type RunOptions struct {
	NinitialIterationsWithoutClustering int
	NiterationsWithSameClustering       int
	MaxDrawAttempts                     int
	TerminationFactor                   float64
	SeedOffset                          int
	OutputPrefix                        string
	// RunID identifies the run in logs and events; generated when empty.
	RunID string
}

// RunOptionsFrom takes the loop controls from the sampler configuration.
func RunOptionsFrom(cfg config.SamplerConfig, outputPrefix string) RunOptions {
	return RunOptions{
		NinitialIterationsWithoutClustering: cfg.NinitialIterationsWithoutClustering,
		NiterationsWithSameClustering:       cfg.NiterationsWithSameClustering,
		MaxDrawAttempts:                     cfg.MaxNdrawAttempts,
		TerminationFactor:                   cfg.TerminationFactor,
		OutputPrefix:                        outputPrefix,
	}
}

func (o RunOptions) Validate() error {
	switch {
	case o.NinitialIterationsWithoutClustering <= 0:
		return perrors.Newf(perrors.ErrConfiguration, "nInitialIterationsWithoutClustering must be > 0, got %d", o.NinitialIterationsWithoutClustering)
	case o.NiterationsWithSameClustering <= 0:
		return perrors.Newf(perrors.ErrConfiguration, "nIterationsWithSameClustering must be > 0, got %d", o.NiterationsWithSameClustering)
	case o.MaxDrawAttempts <= 0:
		return perrors.Newf(perrors.ErrConfiguration, "maxDrawAttempts must be > 0, got %d", o.MaxDrawAttempts)
	case !(o.TerminationFactor > 0):
		return perrors.Newf(perrors.ErrConfiguration, "terminationFactor must be > 0, got %g", o.TerminationFactor)
	case o.SeedOffset < 0:
		return perrors.Newf(perrors.ErrConfiguration, "seedOffset must be >= 0, got %d", o.SeedOffset)
	}
	return nil
}

// Sampler is the nested-sampling orchestrator.
type Sampler struct {
	cfg           config.SamplerConfig
	clustering    config.ClusteringConfig
	prior         prior.Prior
	likelihood    likelihood.Likelihood
	replacer      Replacer
	observer      Observer
	metrics       *metrics.Metrics
	progressEvery int
}

// Option configures a Sampler.
type Option func(*Sampler)

func WithObserver(o Observer) Option {
	return func(s *Sampler) { s.observer = o }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sampler) { s.metrics = m }
}

// WithProgressEvery logs a progress line every n iterations; 0 disables it.
func WithProgressEvery(n int) Option {
	return func(s *Sampler) { s.progressEvery = n }
}

func New(cfg config.SamplerConfig, clustering config.ClusteringConfig, p prior.Prior, l likelihood.Likelihood, r Replacer, opts ...Option) (*Sampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := clustering.Validate(); err != nil {
		return nil, err
	}
	if cfg.MinNobjects < 2 {
		return nil, perrors.Newf(perrors.ErrConfiguration, "minNobjects must be at least 2, got %d", cfg.MinNobjects)
	}
	if p == nil || l == nil || r == nil {
		return nil, perrors.New(perrors.ErrConfiguration, "sampler needs a prior, a likelihood and a replacer")
	}
	if p.Dimensions() <= 0 {
		return nil, perrors.New(perrors.ErrConfiguration, "prior has no dimensions")
	}
	s := &Sampler{
		cfg:        cfg,
		clustering: clustering,
		prior:      p,
		likelihood: l,
		replacer:   r,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// run holds the mutable state of one Run call.
type run struct {
	id            string
	live          []region.LivePoint
	evidence      Evidence
	logWidth      float64
	logX          float64
	iteration     int
	posterior     []Sample
	drawAttempts  int
	lastRecluster int
	history       []ClusterEvent
}

// Run executes the nesting loop until red signals termination. A failed
// run returns no Result.
func (s *Sampler) Run(ctx context.Context, red reducer.Reducer, opts RunOptions) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if red == nil {
		return nil, perrors.New(perrors.ErrConfiguration, "no reducer")
	}
	start := time.Now()
	st := &run{id: opts.RunID, lastRecluster: -1}
	if st.id == "" {
		st.id = uuid.NewString()
	}
	ctx = logger.WithRunID(ctx, st.id)
	log := logger.FromContext(ctx).With("component", "sampler")

	rng := rand.New(rand.NewPCG(s.cfg.Seed, uint64(opts.SeedOffset)))
	n := s.cfg.InitialNobjects
	st.live = s.drawInitial(rng, n)
	st.evidence = NewEvidence()
	st.logWidth = math.Log(-math.Expm1(-1 / float64(n)))

	log.Info("nested sampling started",
		"dimensions", s.prior.Dimensions(),
		"n_objects", n,
		"reducer", fmt.Sprint(red),
	)

	for {
		if err := ctx.Err(); err != nil {
			s.countRun("error")
			return nil, perrors.AtIteration(err, st.iteration)
		}

		worst := worstIndex(st.live)
		floor := st.live[worst].LogLikelihood
		s.absorb(st, worst)

		mode := st.mode(opts)
		replacement, attempts, err := s.replacer.DrawConstrained(ctx, rng, st.live, worst, region.Request{
			Floor:                 floor,
			MaxDrawAttempts:       opts.MaxDrawAttempts,
			Mode:                  mode,
			LogRemainingPriorMass: st.logX,
		})
		st.drawAttempts += attempts
		if err != nil {
			if perrors.Is(err, perrors.ErrDrawExhausted) {
				s.countRun("draw_exhausted")
			} else {
				s.countRun("error")
			}
			log.Error("nested sampling aborted", "iteration", st.iteration, "error", err)
			return nil, perrors.AtIteration(err, st.iteration)
		}
		if mode == region.ModeRecluster {
			st.history = append(st.history, ClusterEvent{Iteration: st.iteration, Nclusters: s.replacer.Nclusters()})
		}
		st.live[worst] = replacement
		st.shrink(n)
		s.completed(ctx, st, n, floor, attempts, false)

		state := s.state(st, n, opts.TerminationFactor)
		target := max(s.cfg.MinNobjects, min(red.UpdateNobjects(state), n))
		for n > target {
			worst := worstIndex(st.live)
			floor := st.live[worst].LogLikelihood
			s.absorb(st, worst)
			st.live = append(st.live[:worst], st.live[worst+1:]...)
			s.replacer.Remove(worst)
			st.shrink(n)
			n--
			s.completed(ctx, st, n, floor, 0, true)
		}
		if target < state.Nobjects {
			log.Debug("live points reduced", "iteration", st.iteration, "n_objects", n)
			state = s.state(st, n, opts.TerminationFactor)
		}

		if red.ShouldTerminate(state) {
			break
		}
	}

	res := &Result{
		RunID:            st.id,
		LogEvidence:      st.evidence.LogEvidence,
		LogEvidenceError: st.evidence.Error(n),
		InformationH:     st.evidence.InformationH,
		Iterations:       st.iteration,
		FinalNobjects:    n,
		DrawAttempts:     st.drawAttempts,
		Posterior:        st.posterior,
		ClusterHistory:   st.history,
		Settings: Settings{
			InitialNobjects:            s.cfg.InitialNobjects,
			MinNobjects:                s.cfg.MinNobjects,
			MinNclusters:               s.clustering.MinNclusters,
			MaxNclusters:               s.clustering.MaxNclusters,
			InitialEnlargementFraction: s.cfg.EnlargementFraction(s.prior.Dimensions()),
			ShrinkingRate:              s.cfg.ShrinkingRate,
			TerminationFactor:          opts.TerminationFactor,
			Reducer:                    fmt.Sprint(red),
			Seed:                       s.cfg.Seed,
			SeedOffset:                 opts.SeedOffset,
		},
		Duration: time.Since(start),
	}
	s.countRun("ok")
	log.Info("nested sampling finished",
		"iterations", res.Iterations,
		"log_evidence", res.LogEvidence,
		"log_evidence_error", res.LogEvidenceError,
		"information_h", res.InformationH,
		"n_objects", n,
		"duration", res.Duration,
	)
	return res, nil
}

func (s *Sampler) drawInitial(rng *rand.Rand, n int) []region.LivePoint {
	points := make([][]float64, n)
	for i := range points {
		points[i] = make([]float64, s.prior.Dimensions())
	}
	s.prior.Draw(rng, points)
	live := make([]region.LivePoint, n)
	for i, p := range points {
		live[i] = region.LivePoint{Params: p, LogLikelihood: s.likelihood.LogLikelihood(p)}
	}
	if s.metrics != nil {
		s.metrics.LikelihoodEvaluationsTotal.Add(float64(n))
	}
	return live
}

// absorb folds live[worst] into the evidence and the archive. Nothing
// observes the run between this and the following replacement.
func (s *Sampler) absorb(st *run, worst int) {
	p := st.live[worst]
	logWeight := st.logWidth + p.LogLikelihood
	st.evidence.Absorb(logWeight, p.LogLikelihood)
	st.posterior = append(st.posterior, Sample{
		Parameters:    append([]float64(nil), p.Params...),
		LogLikelihood: p.LogLikelihood,
		LogWeight:     logWeight,
	})
}

func (s *Sampler) completed(ctx context.Context, st *run, n int, floor float64, attempts int, removed bool) {
	st.iteration++
	p := Progress{
		RunID:              st.id,
		Iteration:          st.iteration,
		Nobjects:           n,
		Nclusters:          s.replacer.Nclusters(),
		LogEvidence:        st.evidence.LogEvidence,
		InformationH:       st.evidence.InformationH,
		LogWidth:           st.logWidth,
		LogPriorMass:       st.logX,
		LogLikelihoodFloor: floor,
		MaxLogLikelihood:   maxLogLikelihood(st.live),
		DrawAttempts:       attempts,
		Removed:            removed,
	}
	if s.metrics != nil {
		s.metrics.IterationsTotal.Inc()
		s.metrics.LivePoints.Set(float64(n))
		s.metrics.LogEvidence.Set(p.LogEvidence)
		s.metrics.InformationGain.Set(p.InformationH)
	}
	if s.observer != nil {
		s.observer.Observe(p)
	}
	if s.progressEvery > 0 && st.iteration%s.progressEvery == 0 {
		logger.FromContext(ctx).Info("nested sampling progress",
			slog.Int("iteration", p.Iteration),
			slog.Int("n_objects", p.Nobjects),
			slog.Int("n_clusters", p.Nclusters),
			slog.Float64("log_evidence", p.LogEvidence),
			slog.Float64("information_h", p.InformationH),
			slog.Float64("floor", p.LogLikelihoodFloor),
		)
	}
}

// state summarizes the run for the reducer. The expected total assumes the
// remaining ratio keeps dropping by 1/n per iteration, as log X does.
func (s *Sampler) state(st *run, n int, terminationFactor float64) reducer.EvidenceState {
	es := reducer.EvidenceState{
		Iteration:             st.iteration,
		Nobjects:              n,
		LogEvidence:           st.evidence.LogEvidence,
		LogWidth:              st.logWidth,
		LogRemainingPriorMass: st.logX,
		MaxLogLikelihood:      maxLogLikelihood(st.live),
	}
	left := math.Max(0, es.RemainingLogRatio()-math.Log(terminationFactor))
	es.ExpectedTotalIterations = st.iteration + int(math.Ceil(float64(n)*left))
	return es
}

func (s *Sampler) countRun(outcome string) {
	if s.metrics != nil {
		s.metrics.RunsTotal.WithLabelValues(outcome).Inc()
	}
}

// mode decides how the replacer groups live points this iteration.
func (st *run) mode(opts RunOptions) region.Mode {
	if st.iteration < opts.NinitialIterationsWithoutClustering {
		return region.ModeSingle
	}
	if st.lastRecluster < 0 || st.iteration-st.lastRecluster >= opts.NiterationsWithSameClustering {
		st.lastRecluster = st.iteration
		return region.ModeRecluster
	}
	return region.ModeReuse
}

// shrink moves the prior-mass bookkeeping one step for n live points.
func (st *run) shrink(n int) {
	st.logWidth -= 1 / float64(n)
	st.logX -= 1 / float64(n)
}

// worstIndex returns the first index holding the lowest log-likelihood.
func worstIndex(live []region.LivePoint) int {
	worst := 0
	for i := 1; i < len(live); i++ {
		if live[i].LogLikelihood < live[worst].LogLikelihood {
			worst = i
		}
	}
	return worst
}

func maxLogLikelihood(live []region.LivePoint) float64 {
	best := math.Inf(-1)
	for _, p := range live {
		best = math.Max(best, p.LogLikelihood)
	}
	return best
}
