// Package cluster partitions live points into an unknown number of groups
// before bounding ellipsoids are fitted to them.
package cluster

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/metric"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/config"
	perrors "github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/errors"
)

// Partition is a labeling of points into K contiguous clusters 0..K-1.
type Partition struct {
	Labels []int
	K      int
	// Dispersion is the summed squared distance of every point to its
	// cluster centroid, measured in feature space.
	Dispersion float64
	// Score is the model-selection score of the partition; lower is better.
	Score float64
}

// Sizes returns the number of points carrying each label.
func (p Partition) Sizes() []int {
	sizes := make([]int, p.K)
	for _, l := range p.Labels {
		sizes[l]++
	}
	return sizes
}

// KMeans selects a partition by running seeded k-means trials for every
// candidate cluster count.
type KMeans struct {
	metric    metric.Metric
	projector Projector
	cfg       config.ClusteringConfig
	logger    *slog.Logger
}

func NewKMeans(m metric.Metric, p Projector, cfg config.ClusteringConfig) (*KMeans, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		m = metric.Euclidean{}
	}
	if p == nil {
		p = IdentityProjector{}
	}
	return &KMeans{
		metric:    m,
		projector: p,
		cfg:       cfg,
		logger:    slog.Default().With("component", "clusterer"),
	}, nil
}

// Cluster partitions points. For each candidate count in
// [MinNclusters, MaxNclusters] it keeps the lowest-dispersion trial, scores
// it, and stops growing the count once the score improves by less than
// RelTolerance. Ties keep the smaller count.
func (km *KMeans) Cluster(ctx context.Context, rng *rand.Rand, points [][]float64) (Partition, error) {
	n := len(points)
	if n == 0 {
		return Partition{}, perrors.New(perrors.ErrInvalidInput, "cannot cluster zero points")
	}
	features := km.projector.Project(points)
	if n == 1 {
		return Partition{Labels: []int{0}, K: 1}, nil
	}

	best := Partition{Score: math.Inf(1)}
	prev := math.Inf(1)
	for k := km.cfg.MinNclusters; k <= km.cfg.MaxNclusters; k++ {
		if k > 1 && k >= n {
			break
		}
		candidate, err := km.bestTrial(ctx, rng, features, k)
		if err != nil {
			return Partition{}, err
		}
		candidate.Score = bicScore(features, candidate)
		km.logger.Debug("cluster count evaluated",
			"k", candidate.K,
			"dispersion", candidate.Dispersion,
			"score", candidate.Score,
		)
		if candidate.Score < best.Score {
			best = candidate
		}
		if k > km.cfg.MinNclusters && !math.IsInf(prev, 1) {
			improvement := (prev - candidate.Score) / math.Max(math.Abs(prev), 1e-300)
			if improvement < km.cfg.RelTolerance {
				break
			}
		}
		prev = candidate.Score
	}
	if best.Labels == nil {
		best = Partition{Labels: make([]int, n), K: 1}
		best.Dispersion = dispersion(features, best.Labels, 1, km.metric)
	}
	return best, nil
}

// bestTrial runs Ntrials seeded k-means partitions with k centroids
// concurrently and returns the one with the lowest dispersion; equal
// dispersions keep the earlier trial.
func (km *KMeans) bestTrial(ctx context.Context, rng *rand.Rand, features [][]float64, k int) (Partition, error) {
	trials := km.cfg.Ntrials
	seeds := make([]uint64, trials)
	for i := range seeds {
		seeds[i] = rng.Uint64()
	}
	results := make([]Partition, trials)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, km.cfg.Parallelism))
	for i := 0; i < trials; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			trialRng := rand.New(rand.NewPCG(seeds[i], uint64(k)))
			results[i] = km.Partition(trialRng, features, k)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Partition{}, err
	}

	best := results[0]
	for _, r := range results[1:] {
		if r.Dispersion < best.Dispersion {
			best = r
		}
	}
	return best, nil
}

// Partition runs one k-means trial with k centroids seeded by k-means++.
// Centroids that lose all their points are re-seeded at the point farthest
// from its nearest centroid.
func (km *KMeans) Partition(rng *rand.Rand, features [][]float64, k int) Partition {
	n := len(features)
	if k > n {
		k = n
	}
	if k <= 1 {
		labels := make([]int, n)
		return Partition{Labels: labels, K: 1, Dispersion: dispersion(features, labels, 1, km.metric)}
	}

	centroids := km.seed(rng, features, k)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	maxIter := max(1, km.cfg.MaxIterations)
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range features {
			l := km.nearest(p, centroids)
			if l != labels[i] {
				labels[i] = l
				changed = true
			}
		}
		if km.reseedEmpty(features, labels, centroids) {
			changed = true
		}
		if !changed {
			break
		}
		updateCentroids(features, labels, centroids)
	}

	labels, k = relabel(labels)
	return Partition{Labels: labels, K: k, Dispersion: dispersion(features, labels, k, km.metric)}
}

func (km *KMeans) seed(rng *rand.Rand, features [][]float64, k int) [][]float64 {
	n := len(features)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), features[rng.IntN(n)]...))

	weights := make([]float64, n)
	for len(centroids) < k {
		var total float64
		for i, p := range features {
			d := metric.SquaredDistance(km.metric, p, centroids[km.nearest(p, centroids)])
			weights[i] = d
			total += d
		}
		next := rng.IntN(n)
		if total > 0 {
			target := rng.Float64() * total
			for i, w := range weights {
				target -= w
				if target <= 0 && w > 0 {
					next = i
					break
				}
			}
		}
		centroids = append(centroids, append([]float64(nil), features[next]...))
	}
	return centroids
}

// nearest returns the index of the closest centroid; ties go to the lower
// index.
func (km *KMeans) nearest(p []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for j, c := range centroids {
		if d := km.metric.Distance(p, c); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}

func (km *KMeans) reseedEmpty(features [][]float64, labels []int, centroids [][]float64) bool {
	counts := make([]int, len(centroids))
	for _, l := range labels {
		counts[l]++
	}
	reseeded := false
	for j, c := range counts {
		if c > 0 {
			continue
		}
		far, farDist := -1, -1.0
		for i, p := range features {
			if counts[labels[i]] <= 1 {
				continue
			}
			if d := km.metric.Distance(p, centroids[labels[i]]); d > farDist {
				far, farDist = i, d
			}
		}
		if far < 0 {
			continue
		}
		counts[labels[far]]--
		counts[j]++
		labels[far] = j
		copy(centroids[j], features[far])
		reseeded = true
	}
	return reseeded
}

func updateCentroids(features [][]float64, labels []int, centroids [][]float64) {
	counts := make([]int, len(centroids))
	for _, c := range centroids {
		clear(c)
	}
	for i, p := range features {
		l := labels[i]
		counts[l]++
		for d, v := range p {
			centroids[l][d] += v
		}
	}
	for j, c := range centroids {
		if counts[j] == 0 {
			continue
		}
		for d := range c {
			c[d] /= float64(counts[j])
		}
	}
}

// relabel renumbers labels to 0..K-1 in order of first appearance.
func relabel(labels []int) ([]int, int) {
	mapping := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		m, ok := mapping[l]
		if !ok {
			m = len(mapping)
			mapping[l] = m
		}
		out[i] = m
	}
	return out, len(mapping)
}

func centroidsOf(features [][]float64, labels []int, k int) [][]float64 {
	dims := len(features[0])
	centroids := make([][]float64, k)
	for j := range centroids {
		centroids[j] = make([]float64, dims)
	}
	updateCentroids(features, labels, centroids)
	return centroids
}

func dispersion(features [][]float64, labels []int, k int, m metric.Metric) float64 {
	if len(features) == 0 {
		return 0
	}
	centroids := centroidsOf(features, labels, k)
	var total float64
	for i, p := range features {
		total += metric.SquaredDistance(m, p, centroids[labels[i]])
	}
	return total
}

// bicScore is the Bayesian information criterion of a spherical Gaussian
// mixture with shared variance fitted to the partition, as used by X-means.
func bicScore(features [][]float64, p Partition) float64 {
	n := float64(len(features))
	d := float64(len(features[0]))
	k := float64(p.K)

	dof := d * (n - k)
	variance := p.Dispersion / math.Max(dof, 1)
	if variance <= 0 {
		variance = 1e-300
	}

	var logL float64
	for _, size := range p.Sizes() {
		if size > 0 {
			logL += float64(size) * math.Log(float64(size)/n)
		}
	}
	logL -= n * d / 2 * math.Log(2*math.Pi*variance)
	logL -= dof / 2

	params := (k - 1) + k*d + 1
	return -2*logL + params*math.Log(n)
}
