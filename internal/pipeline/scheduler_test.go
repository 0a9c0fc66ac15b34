package pipeline_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/quake-detect/internal/observability"
	"github.com/couchcryptid/quake-detect/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsEachTaskOnItsPeriod(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var fast, slow atomic.Int64
	s := pipeline.NewScheduler(clock, discardLogger(), observability.NewMetricsForTesting(),
		pipeline.Task{Name: "fast", Period: 100 * time.Millisecond, Run: func(context.Context) error {
			fast.Add(1)
			return nil
		}},
		pipeline.Task{Name: "slow", Period: time.Second, Run: func(context.Context) error {
			slow.Add(1)
			return nil
		}},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Start(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 2))

	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return fast.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), slow.Load())

	require.NoError(t, s.Stop(time.Second))
	assert.False(t, s.Running())
}

func TestScheduler_RecoversFromPanic(t *testing.T) {
	clock := clockwork.NewFakeClock()
	metrics := observability.NewMetricsForTesting()
	var calls atomic.Int64
	s := pipeline.NewScheduler(clock, discardLogger(), metrics,
		pipeline.Task{Name: "cluster", Period: time.Second, Run: func(context.Context) error {
			if calls.Add(1) == 1 {
				panic("boom")
			}
			return errors.New("still failing")
		}},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Start(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.TaskPanics.WithLabelValues("cluster")) == 1
	}, time.Second, 5*time.Millisecond)

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop(time.Second))
}

func TestScheduler_StopTimesOutOnStuckTask(t *testing.T) {
	clock := clockwork.NewFakeClock()
	entered := make(chan struct{})
	release := make(chan struct{})
	s := pipeline.NewScheduler(clock, discardLogger(), observability.NewMetricsForTesting(),
		pipeline.Task{Name: "hypocenter", Period: time.Second, Run: func(context.Context) error {
			close(entered)
			<-release
			return nil
		}},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Start(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	<-entered

	err := s.Stop(20 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still running")
	assert.True(t, s.Running())

	close(release)
	require.NoError(t, s.Stop(time.Second))
}

func TestScheduler_CheckReadiness(t *testing.T) {
	s := pipeline.NewScheduler(clockwork.NewFakeClock(), discardLogger(), observability.NewMetricsForTesting())
	require.Error(t, s.CheckReadiness(context.Background()))
	require.NoError(t, s.Stop(time.Second))

	s.Start(context.Background())
	require.NoError(t, s.CheckReadiness(context.Background()))
	s.Start(context.Background())
	require.NoError(t, s.Stop(time.Second))
	require.Error(t, s.CheckReadiness(context.Background()))
}
