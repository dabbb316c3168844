package likelihood

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
)

func TestEggboxPeaks(t *testing.T) {
	var e Eggbox
	assert.InDelta(t, 5*math.Log(3), e.LogLikelihood([]float64{0, 0}), 1e-12)
	assert.InDelta(t, 5*math.Log(3), e.LogLikelihood([]float64{4 * math.Pi, 0}), 1e-12)
	assert.InDelta(t, 5*math.Log(1), e.LogLikelihood([]float64{2 * math.Pi, 0}), 1e-12)
}

func TestGaussianMixture(t *testing.T) {
	g := GaussianMixture{Means: [][]float64{{-5, 0}, {5, 0}}, Sigmas: []float64{1, 1}}

	peak := g.LogLikelihood([]float64{5, 0})
	assert.InDelta(t, peak, g.LogLikelihood([]float64{-5, 0}), 1e-12)
	assert.InDelta(t, -math.Log(2*math.Pi)-math.Log(2), peak, 1e-9)
	assert.Less(t, g.LogLikelihood([]float64{0, 0}), peak)
}

func TestFuncAndFlat(t *testing.T) {
	f := Func(func(p []float64) float64 { return p[0] * 2 })
	assert.Equal(t, 6.0, f.LogLikelihood([]float64{3}))
	assert.Equal(t, -1.5, Flat{Value: -1.5}.LogLikelihood([]float64{9, 9}))
}

func TestLorentzian(t *testing.T) {
	covariates := []float64{9, 10, 11}
	dst := make([]float64, 3)
	Lorentzian{}.Predict(covariates, []float64{10, 1.2, 2}, dst)

	assert.InDelta(t, 0.6, dst[0], 1e-12, "half maximum one half-width away")
	assert.InDelta(t, 1.2, dst[1], 1e-12)
	assert.InDelta(t, dst[0], dst[2], 1e-12)
}

func TestNormalLikelihood(t *testing.T) {
	covariates := []float64{9, 10, 11}
	truth := []float64{10, 1.2, 2}
	observations := make([]float64, 3)
	Lorentzian{}.Predict(covariates, truth, observations)
	sigmas := []float64{0.1, 0.1, 0.2}

	l, err := NewNormal(covariates, observations, sigmas, Lorentzian{})
	require.NoError(t, err)

	best := l.LogLikelihood(truth)
	want := -3*math.Log(math.Sqrt(2*math.Pi)) - 2*math.Log(0.1) - math.Log(0.2)
	assert.InDelta(t, want, best, 1e-12)
	assert.Less(t, l.LogLikelihood([]float64{10, 1.0, 2}), best)

	zero, err := NewNormal(covariates, observations, sigmas, ZeroModel{})
	require.NoError(t, err)
	assert.Less(t, zero.LogLikelihood(truth), best)
}

func TestNewNormalValidation(t *testing.T) {
	_, err := NewNormal([]float64{1}, []float64{1, 2}, []float64{1, 1}, ZeroModel{})
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
	_, err = NewNormal([]float64{1}, []float64{1}, []float64{0}, ZeroModel{})
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
}

func TestReadColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spectrum.txt")
	content := "# frequency power error\n1.0 2.0 0.1\n\n2.0   3.5\t0.2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cols, err := ReadColumns(path)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}, {2, 3.5}, {0.1, 0.2}}, cols)
}

func TestReadColumnsErrors(t *testing.T) {
	dir := t.TempDir()

	ragged := filepath.Join(dir, "ragged.txt")
	require.NoError(t, os.WriteFile(ragged, []byte("1 2 3\n4 5\n"), 0o644))
	_, err := ReadColumns(ragged)
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("1 x\n"), 0o644))
	_, err = ReadColumns(bad)
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)

	_, err = ReadColumns(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}
