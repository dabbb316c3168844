package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/sampler"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS nested_runs (
    run_id             TEXT PRIMARY KEY,
    problem            TEXT NOT NULL,
    log_evidence       DOUBLE PRECISION NOT NULL,
    log_evidence_error DOUBLE PRECISION NOT NULL,
    information_h      DOUBLE PRECISION NOT NULL,
    iterations         INTEGER NOT NULL,
    final_n_objects    INTEGER NOT NULL,
    draw_attempts      BIGINT NOT NULL,
    cluster_iterations INTEGER[] NOT NULL,
    cluster_counts     INTEGER[] NOT NULL,
    settings           JSONB NOT NULL,
    parameters         JSONB NOT NULL,
    duration_ms        BIGINT NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS nested_samples (
    run_id         TEXT NOT NULL REFERENCES nested_runs(run_id) ON DELETE CASCADE,
    idx            INTEGER NOT NULL,
    parameters     DOUBLE PRECISION[] NOT NULL,
    log_likelihood DOUBLE PRECISION NOT NULL,
    log_weight     DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (run_id, idx)
);`

// Store archives runs and their posterior samples in PostgreSQL.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "results-store"),
	}
}

// EnsureSchema creates the archive tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating results schema: %w", err)
	}
	return nil
}

// Save writes the record and every posterior sample in one transaction.
func (s *Store) Save(ctx context.Context, rec RunRecord, posterior []sampler.Sample) error {
	settings, err := json.Marshal(rec.Settings)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return fmt.Errorf("marshaling parameter summaries: %w", err)
	}
	iterations, counts := splitHistory(rec.ClusterHistory)

	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO nested_runs (
				run_id, problem, log_evidence, log_evidence_error, information_h,
				iterations, final_n_objects, draw_attempts,
				cluster_iterations, cluster_counts, settings, parameters, duration_ms
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			rec.RunID, rec.Problem, rec.LogEvidence, rec.LogEvidenceError, rec.InformationH,
			rec.Iterations, rec.FinalNobjects, rec.DrawAttempts,
			pq.Array(iterations), pq.Array(counts), settings, params, rec.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("inserting run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO nested_samples (run_id, idx, parameters, log_likelihood, log_weight)
			VALUES ($1, $2, $3, $4, $5)`)
		if err != nil {
			return fmt.Errorf("preparing sample insert: %w", err)
		}
		defer stmt.Close()
		for i, smp := range posterior {
			if _, err := stmt.ExecContext(ctx, rec.RunID, i, pq.Array(smp.Parameters), smp.LogLikelihood, smp.LogWeight); err != nil {
				return fmt.Errorf("inserting sample %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("run archived", "run_id", rec.RunID, "samples", len(posterior))
	return nil
}

// Load returns the stored record for runID, or nil when there is none.
func (s *Store) Load(ctx context.Context, runID string) (*RunRecord, error) {
	var (
		rec        RunRecord
		iterations []int64
		counts     []int64
		settings   []byte
		params     []byte
		durationMS int64
	)
	err := s.db.DB.QueryRowContext(ctx, `
		SELECT run_id, problem, log_evidence, log_evidence_error, information_h,
		       iterations, final_n_objects, draw_attempts,
		       cluster_iterations, cluster_counts, settings, parameters, duration_ms
		FROM nested_runs WHERE run_id = $1`, runID,
	).Scan(
		&rec.RunID, &rec.Problem, &rec.LogEvidence, &rec.LogEvidenceError, &rec.InformationH,
		&rec.Iterations, &rec.FinalNobjects, &rec.DrawAttempts,
		pq.Array(&iterations), pq.Array(&counts), &settings, &params, &durationMS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	if err := json.Unmarshal(settings, &rec.Settings); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}
	if err := json.Unmarshal(params, &rec.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshaling parameter summaries: %w", err)
	}
	rec.ClusterHistory = joinHistory(iterations, counts)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return &rec, nil
}

func splitHistory(history []sampler.ClusterEvent) (iterations, counts []int64) {
	iterations = make([]int64, len(history))
	counts = make([]int64, len(history))
	for i, ev := range history {
		iterations[i] = int64(ev.Iteration)
		counts[i] = int64(ev.Nclusters)
	}
	return iterations, counts
}

func joinHistory(iterations, counts []int64) []sampler.ClusterEvent {
	n := min(len(iterations), len(counts))
	history := make([]sampler.ClusterEvent, n)
	for i := range n {
		history[i] = sampler.ClusterEvent{Iteration: int(iterations[i]), Nclusters: int(counts[i])}
	}
	return history
}
