package results

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/sampler"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/config"
)

// Writer saves a run as plain-text column files under Dir, every name
// starting with Prefix.
type Writer struct {
	dir           string
	prefix        string
	credibleLevel float64
	logger        *slog.Logger
}

func NewWriter(cfg config.OutputConfig) *Writer {
	return &Writer{
		dir:           cfg.Dir,
		prefix:        cfg.Prefix,
		credibleLevel: cfg.CredibleLevel,
		logger:        slog.Default().With("component", "results-writer"),
	}
}

// WriteAll writes every output file and returns their paths in the order
// written.
func (w *Writer) WriteAll(res *sampler.Result) ([]string, error) {
	summaries, err := Summarize(res, w.credibleLevel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	var paths []string
	write := func(name string, header []string, body func(io.Writer) error) error {
		path := filepath.Join(w.dir, w.prefix+name)
		if err := writeFile(path, header, body); err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	}

	for d := range summaries {
		err := write(fmt.Sprintf("parameter%03d.txt", d),
			[]string{fmt.Sprintf("Posterior sample of parameter %d", d)},
			func(out io.Writer) error {
				for _, s := range res.Posterior {
					if _, err := fmt.Fprintf(out, "%.12e\n", s.Parameters[d]); err != nil {
						return err
					}
				}
				return nil
			})
		if err != nil {
			return paths, err
		}
	}

	steps := []struct {
		name   string
		header []string
		body   func(io.Writer) error
	}{
		{
			name:   "logLikelihood.txt",
			header: []string{"Log likelihood of each posterior sample"},
			body: func(out io.Writer) error {
				for _, s := range res.Posterior {
					if _, err := fmt.Fprintf(out, "%.12e\n", s.LogLikelihood); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			name: "evidenceInformation.txt",
			header: []string{
				"Row #1: log(Evidence)",
				"Row #2: Error of log(Evidence)",
				"Row #3: Information Gain (nats)",
			},
			body: func(out io.Writer) error {
				_, err := fmt.Fprintf(out, "%.12e\n%.12e\n%.12e\n", res.LogEvidence, res.LogEvidenceError, res.InformationH)
				return err
			},
		},
		{
			name:   "posteriorDistribution.txt",
			header: []string{"Posterior probability of each sample"},
			body: func(out io.Writer) error {
				for _, p := range res.PosteriorProbabilities() {
					if _, err := fmt.Fprintf(out, "%.12e\n", p); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			name: "parameterSummary.txt",
			header: []string{
				fmt.Sprintf("Credible level: %g %%", w.credibleLevel),
				"Col #1: Mean",
				"Col #2: Median",
				"Col #3: Mode",
				"Col #4: Lower credible limit",
				"Col #5: Upper credible limit",
				"One row per parameter",
			},
			body: func(out io.Writer) error {
				for _, s := range summaries {
					if _, err := fmt.Fprintf(out, "%.12e %.12e %.12e %.12e %.12e\n", s.Mean, s.Median, s.Mode, s.Lower, s.Upper); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			name: "configuringParameters.txt",
			header: []string{
				"List of configuring parameters used for the ellipsoidal sampler and X-means",
				"Row #1: Minimum Nclusters",
				"Row #2: Maximum Nclusters",
				"Row #3: Initial Enlargement Fraction",
				"Row #4: Shrinking Rate",
			},
			body: func(out io.Writer) error {
				st := res.Settings
				_, err := fmt.Fprintf(out, "%d\n%d\n%g\n%g\n", st.MinNclusters, st.MaxNclusters, st.InitialEnlargementFraction, st.ShrinkingRate)
				return err
			},
		},
		{
			name:   "clusterHistory.txt",
			header: []string{"Col #1: Iteration", "Col #2: Nclusters"},
			body: func(out io.Writer) error {
				for _, ev := range res.ClusterHistory {
					if _, err := fmt.Fprintf(out, "%d %d\n", ev.Iteration, ev.Nclusters); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
	for _, step := range steps {
		if err := write(step.name, step.header, step.body); err != nil {
			return paths, err
		}
	}

	w.logger.Info("results written", "dir", w.dir, "files", len(paths), "run_id", res.RunID)
	return paths, nil
}

func writeFile(path string, header []string, body func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	buf := bufio.NewWriter(f)
	for _, line := range header {
		if _, err := fmt.Fprintf(buf, "# %s\n", line); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	if err := body(buf); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	return nil
}
