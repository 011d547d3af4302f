package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s := NewScheduler(logger, time.Minute)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func TestSchedulerRegister(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context) error { return nil }
	require.NoError(t, s.AddCronJob("b", "@hourly", noop))
	require.NoError(t, s.AddCronJob("a", "0 3 * * *", noop))
	assert.ErrorIs(t, s.AddCronJob("a", "@hourly", noop), ErrJobExists)
	assert.Error(t, s.AddCronJob("bad", "not a spec", noop))

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "0 3 * * *", jobs[0].Spec)

	assert.ErrorIs(t, s.TriggerNow("missing"), ErrJobNotFound)
	assert.ErrorIs(t, s.Pause("missing"), ErrJobNotFound)
}

func TestSchedulerCoalescesFires(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	require.NoError(t, s.AddCronJob("monitor", "@every 1h", func(context.Context) error {
		if runs.Add(1) == 1 {
			started <- struct{}{}
			<-release
		}
		return nil
	}))

	require.NoError(t, s.TriggerNow("monitor"))
	<-started
	// 运行期间的多次触发只补跑一次
	require.NoError(t, s.TriggerNow("monitor"))
	require.NoError(t, s.TriggerNow("monitor"))
	assert.True(t, s.Jobs()[0].Running)
	close(release)

	assert.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return runs.Load() > 2 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return !s.Jobs()[0].Running }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, s.Jobs()[0].Runs)
}

func TestSchedulerDropsLateFollowUp(t *testing.T) {
	s := newTestScheduler(t)
	s.misfire = 10 * time.Millisecond
	var runs atomic.Int32
	started := make(chan struct{}, 1)
	require.NoError(t, s.AddCronJob("slow", "@every 1h", func(context.Context) error {
		if runs.Add(1) == 1 {
			started <- struct{}{}
			time.Sleep(80 * time.Millisecond)
		}
		return nil
	}))

	require.NoError(t, s.TriggerNow("slow"))
	<-started
	require.NoError(t, s.TriggerNow("slow"))

	assert.Eventually(t, func() bool { return !s.Jobs()[0].Running }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestSchedulerPause(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32
	require.NoError(t, s.AddCronJob("j", "@every 1h", func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.NoError(t, s.Pause("j"))
	j, err := s.get("j")
	require.NoError(t, err)

	s.fire(j)
	assert.Never(t, func() bool { return runs.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.True(t, s.Jobs()[0].Paused)

	// 手动触发不受暂停影响
	require.NoError(t, s.TriggerNow("j"))
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Resume("j"))
	assert.Eventually(t, func() bool { return !s.Jobs()[0].Running }, time.Second, 5*time.Millisecond)
	s.fire(j)
	assert.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerRecordsErrors(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.AddCronJob("fail", "@hourly", func(context.Context) error { return errors.New("boom") }))
	require.NoError(t, s.AddCronJob("panic", "@hourly", func(context.Context) error { panic("bad state") }))
	require.NoError(t, s.TriggerNow("fail"))
	require.NoError(t, s.TriggerNow("panic"))

	assert.Eventually(t, func() bool {
		jobs := s.Jobs()
		return jobs[0].Runs == 1 && jobs[1].Runs == 1
	}, time.Second, 5*time.Millisecond)
	jobs := s.Jobs()
	assert.Equal(t, "boom", jobs[0].LastError)
	assert.Contains(t, jobs[1].LastError, "bad state")
}

func TestSchedulerStopCancelsJobs(t *testing.T) {
	s := newTestScheduler(t)
	started := make(chan struct{})
	var cancelled atomic.Bool
	require.NoError(t, s.AddCronJob("long", "@every 1h", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))
	s.Start()
	require.NoError(t, s.TriggerNow("long"))
	<-started

	begin := time.Now()
	require.NoError(t, s.Stop(context.Background()))
	assert.Less(t, time.Since(begin), time.Second)
	assert.True(t, cancelled.Load())

	// 停止后不再触发
	require.NoError(t, s.TriggerNow("long"))
	assert.False(t, s.Jobs()[0].Running)
}

func TestSchedulerStopGraceExceeded(t *testing.T) {
	s := newTestScheduler(t)
	s.stopGrace = 30 * time.Millisecond
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	require.NoError(t, s.AddCronJob("stuck", "@every 1h", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	require.NoError(t, s.TriggerNow("stuck"))
	<-started
	assert.Error(t, s.Stop(context.Background()))
}
