package progress

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/sampler"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/kafka"
)

// Watcher decodes progress events and hands the ones for the selected run
// (or all runs when RunID is empty) to Handle.
type Watcher struct {
	RunID  string
	Handle func(sampler.Progress)
	logger *slog.Logger
}

func NewWatcher(runID string, handle func(sampler.Progress)) *Watcher {
	return &Watcher{
		RunID:  runID,
		Handle: handle,
		logger: slog.Default().With("component", "progress-watcher"),
	}
}

// HandleMessage is a kafka.MessageHandler. Undecodable messages are logged
// and skipped rather than retried.
func (w *Watcher) HandleMessage(_ context.Context, key, value []byte) error {
	if w.RunID != "" && string(key) != w.RunID {
		return nil
	}
	p, err := kafka.DecodeJSON[sampler.Progress](value)
	if err != nil {
		w.logger.Warn("skipping malformed progress event", "key", string(key), "error", err)
		return nil
	}
	w.Handle(p)
	return nil
}
