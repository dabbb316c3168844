package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/progress"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/sampler"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/config"
	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/logger"
)

func newWatchCmd() *cobra.Command {
	var (
		runID     string
		fromStart bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print progress events published by running samplers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
			if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topics.Progress == "" {
				return perrors.New(perrors.ErrConfiguration, "watch needs kafka brokers and a progress topic")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			w := progress.NewWatcher(runID, func(p sampler.Progress) {
				fmt.Fprintln(out, formatProgress(p))
			})
			consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Progress, fromStart, w.HandleMessage)
			return consumer.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "only show this run id")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "replay retained events instead of only new ones")
	return cmd
}

func formatProgress(p sampler.Progress) string {
	line := fmt.Sprintf("%s iter=%d N=%d clusters=%d logZ=%.6f H=%.4f floor=%.6g attempts=%d",
		p.RunID, p.Iteration, p.Nobjects, p.Nclusters, p.LogEvidence, p.InformationH, p.LogLikelihoodFloor, p.DrawAttempts)
	if p.Removed {
		line += " removed"
	}
	return line
}
