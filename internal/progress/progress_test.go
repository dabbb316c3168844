package progress

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/internal/sampler"
	"github.com/Adithya-Monish-Kumar-K/Bayesian-Evidence-Engine/pkg/kafka"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.Event
	fail   int
}

func (r *recordingPublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("broker unavailable")
	}
	r.events = append(r.events, events...)
	return nil
}

func (r *recordingPublisher) iterations() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, e := range r.events {
		out = append(out, e.Value.(sampler.Progress).Iteration)
	}
	return out
}

func TestCollectorForwardsEveryNth(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 100, 5)
	c.Start(context.Background())
	for i := 1; i <= 20; i++ {
		c.Observe(sampler.Progress{RunID: "r", Iteration: i, Removed: i == 7})
	}
	c.Close()

	assert.Equal(t, []int{5, 7, 10, 15, 20}, pub.iterations())
	assert.Equal(t, "r", pub.events[0].Key)
	assert.Zero(t, c.Dropped())
}

func TestCollectorRetriesFailedPublish(t *testing.T) {
	pub := &recordingPublisher{fail: 1}
	c := NewCollector(pub, 10, 1)
	c.Start(context.Background())
	c.Observe(sampler.Progress{RunID: "r", Iteration: 1})
	c.Close()
	assert.Equal(t, []int{1}, pub.iterations())
}

func TestCollectorDropsWhenFull(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 2, 1)
	// Not started: nothing drains the buffer.
	for i := 1; i <= 5; i++ {
		c.Observe(sampler.Progress{Iteration: i})
	}
	assert.Equal(t, int64(3), c.Dropped())

	c.Start(context.Background())
	c.Close()
	assert.Equal(t, []int{1, 2}, pub.iterations())
}

func TestCollectorFlushesOnCancel(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 10, 1)
	for i := 1; i <= 3; i++ {
		c.Observe(sampler.Progress{Iteration: i})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Start(ctx)
	<-c.done
	assert.Len(t, pub.iterations(), 3)
}

func TestWatcherFiltersByRun(t *testing.T) {
	var got []sampler.Progress
	w := NewWatcher("wanted", func(p sampler.Progress) { got = append(got, p) })

	encode := func(p sampler.Progress) []byte {
		b, err := json.Marshal(p)
		require.NoError(t, err)
		return b
	}
	ctx := context.Background()
	require.NoError(t, w.HandleMessage(ctx, []byte("wanted"), encode(sampler.Progress{RunID: "wanted", Iteration: 4, LogEvidence: -3.5})))
	require.NoError(t, w.HandleMessage(ctx, []byte("other"), encode(sampler.Progress{RunID: "other", Iteration: 1})))
	require.NoError(t, w.HandleMessage(ctx, []byte("wanted"), []byte("{broken")))

	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].Iteration)
	assert.Equal(t, -3.5, got[0].LogEvidence)

	all := NewWatcher("", func(p sampler.Progress) { got = append(got, p) })
	require.NoError(t, all.HandleMessage(ctx, []byte("other"), encode(sampler.Progress{RunID: "other"})))
	assert.Len(t, got, 2)
}
