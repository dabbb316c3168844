package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/cluster"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/metric"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/progress"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/reducer"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/region"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/results"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/sampler"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/redis"
)

type runFlags struct {
	problem    string
	data       string
	seed       uint64
	seedSet    bool
	noFiles    bool
	noCache    bool
	flushCache bool
	outDir     string
	strategy   string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compute the evidence of one problem",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.seedSet = cmd.Flags().Changed("seed")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if f.seedSet {
				cfg.Sampler.Seed = f.seed
			}
			if f.outDir != "" {
				cfg.Output.Dir = f.outDir
			}
			if f.strategy != "" {
				cfg.Sampler.Strategy = f.strategy
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return execute(ctx, cmd.OutOrStdout(), cfg, f)
		},
	}
	cmd.Flags().StringVar(&f.problem, "problem", "eggbox", fmt.Sprintf("problem to solve %v", problemNames()))
	cmd.Flags().StringVar(&f.data, "data", "", "observation file for data-driven problems")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "override the configured random seed")
	cmd.Flags().StringVar(&f.outDir, "output-dir", "", "override the configured output directory")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "sampling strategy: multi-ellipsoid or prior")
	cmd.Flags().BoolVar(&f.noFiles, "no-files", false, "skip writing result files")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "ignore the result cache")
	cmd.Flags().BoolVar(&f.flushCache, "flush-cache", false, "drop every cached run before running")
	return cmd
}

func execute(ctx context.Context, out io.Writer, cfg *config.Config, f runFlags) error {
	pr, err := lookupProblem(f.problem, f.data)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx)
		}()
	}

	replacer, err := newReplacer(cfg, pr, m)
	if err != nil {
		return err
	}
	red, err := reducer.New(cfg.Reducer, cfg.Sampler)
	if err != nil {
		return err
	}

	opts := []sampler.Option{
		sampler.WithMetrics(m),
		sampler.WithProgressEvery(cfg.Output.ProgressEvery),
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Progress)
		defer producer.Close()
		collector := progress.NewCollector(producer, 4096, max(1, cfg.Output.ProgressEvery/10))
		collector.Start(ctx)
		defer collector.Close()
		opts = append(opts, sampler.WithObserver(collector))
	}

	s, err := sampler.New(cfg.Sampler, cfg.Clustering, pr.prior, pr.likelihood, replacer, opts...)
	if err != nil {
		return err
	}

	var store *results.Store
	if cfg.Postgres.Enabled {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()
		store = results.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	compute := func() (*results.RunRecord, error) {
		res, err := s.Run(ctx, red, sampler.RunOptionsFrom(cfg.Sampler, cfg.Output.Prefix))
		if err != nil {
			return nil, err
		}
		summaries, err := results.Summarize(res, cfg.Output.CredibleLevel)
		if err != nil {
			return nil, err
		}
		if !f.noFiles {
			if _, err := results.NewWriter(cfg.Output).WriteAll(res); err != nil {
				return nil, err
			}
		}
		rec := results.NewRecord(f.problem, res, summaries)
		if store != nil {
			if err := store.Save(ctx, rec, res.Posterior); err != nil {
				return nil, err
			}
		}
		return &rec, nil
	}

	var (
		rec    *results.RunRecord
		cached bool
	)
	if cfg.Redis.Enabled && !f.noCache {
		client, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		key, err := results.Key(f.problem, f.data, cfg)
		if err != nil {
			return err
		}
		cache := results.NewCache(client, cfg.Redis)
		if f.flushCache {
			if err := cache.Invalidate(ctx); err != nil {
				return err
			}
		}
		rec, cached, err = cachedRun(ctx, cache, key, !f.noFiles, compute)
		if err != nil {
			return err
		}
		hits, misses := cache.Stats()
		slog.Info("result cache consulted",
			"key", key,
			"served_from_cache", cached,
			"hits", hits,
			"misses", misses,
		)
	} else if rec, err = compute(); err != nil {
		return err
	}

	printRecord(out, rec)
	return nil
}

// cachedRun answers from the cache only when no result files are wanted:
// a cached record carries no posterior to write them from. Fresh results
// are stored either way.
func cachedRun(ctx context.Context, cache *results.Cache, key string, writeFiles bool, compute func() (*results.RunRecord, error)) (*results.RunRecord, bool, error) {
	if !writeFiles {
		return cache.GetOrRun(ctx, key, compute)
	}
	rec, err := compute()
	if err != nil {
		return nil, false, err
	}
	cache.Set(ctx, key, rec)
	return rec, false, nil
}

func newReplacer(cfg *config.Config, pr problem, m *metrics.Metrics) (sampler.Replacer, error) {
	if cfg.Sampler.Strategy == config.StrategyPrior {
		return region.NewPriorRejection(pr.prior, pr.likelihood, region.WithMetrics(m))
	}
	var projector cluster.Projector = cluster.IdentityProjector{}
	if cfg.Clustering.FeatureProjection {
		projector = cluster.PCAProjector{VarianceThreshold: cfg.Clustering.VarianceThreshold}
	}
	km, err := cluster.NewKMeans(metric.Euclidean{}, projector, cfg.Clustering)
	if err != nil {
		return nil, err
	}
	return region.NewMultiEllipsoid(pr.prior, pr.likelihood, km, metric.Euclidean{}, cfg.Sampler, region.WithMetrics(m))
}

func printRecord(out io.Writer, rec *results.RunRecord) {
	fmt.Fprintf(out, "run:                 %s (%s)\n", rec.RunID, rec.Problem)
	fmt.Fprintf(out, "log(evidence):       %.6f +/- %.6f\n", rec.LogEvidence, rec.LogEvidenceError)
	fmt.Fprintf(out, "information gain:    %.6f nats\n", rec.InformationH)
	fmt.Fprintf(out, "iterations:          %d\n", rec.Iterations)
	fmt.Fprintf(out, "live points (final): %d\n", rec.FinalNobjects)
	fmt.Fprintf(out, "draw attempts:       %d\n", rec.DrawAttempts)
	fmt.Fprintf(out, "duration:            %s\n", rec.Duration.Round(time.Millisecond))
	for i, p := range rec.Parameters {
		fmt.Fprintf(out, "parameter %d: mean=%.6g median=%.6g mode=%.6g interval=[%.6g, %.6g]\n",
			i, p.Mean, p.Median, p.Mode, p.Lower, p.Upper)
	}
}
