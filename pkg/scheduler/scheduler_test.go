package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fadedpez/pointledger/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockExpirer struct {
	mock.Mock
}

func (m *mockExpirer) ExpireMemberships(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

type mockPurger struct {
	mock.Mock
}

func (m *mockPurger) Purge(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func taskRuns(t *testing.T, m *metrics.Metrics, task, success string) float64 {
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "pointledger_scheduler_task_runs_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range metric.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["task"] == task && labels["success"] == success {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestIntervalTaskRunsOnStartAndTick(t *testing.T) {
	m := metrics.New()
	s := NewScheduler(m)

	var runs int32
	s.AddTask("count", 20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	after := atomic.LoadInt32(&runs)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&runs), "no runs after stop")
	assert.GreaterOrEqual(t, taskRuns(t, m, "count", "true"), float64(3))
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	s := NewScheduler(nil)

	var runs int32
	s.AddTask("once", time.Hour, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	s.Start(context.Background())
	s.Start(context.Background())
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestFailedRunsAreCounted(t *testing.T) {
	m := metrics.New()
	s := NewScheduler(m)
	s.AddTask("broken", time.Hour, func(ctx context.Context) error {
		return errors.New("boom")
	})

	s.Start(context.Background())
	assert.Eventually(t, func() bool {
		return taskRuns(t, m, "broken", "false") == 1
	}, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestAddCronRejectsBadSpec(t *testing.T) {
	s := NewScheduler(nil)
	err := s.AddCron("bad", "not a schedule", func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestCronTaskRuns(t *testing.T) {
	s := NewScheduler(nil)

	var runs int32
	require.NoError(t, s.AddCron("tick", "@every 1s", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}))

	s.Start(context.Background())
	defer s.Stop()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestExpiryJob(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e := &mockExpirer{}
	e.On("ExpireMemberships", mock.Anything, now).Return(2, nil).Once()
	e.On("ExpireMemberships", mock.Anything, now).Return(0, errors.New("store down")).Once()

	job := ExpiryJob(e, func() time.Time { return now })
	assert.NoError(t, job(context.Background()))
	assert.EqualError(t, job(context.Background()), "store down")
	e.AssertExpectations(t)
}

func TestPurgeJob(t *testing.T) {
	p := &mockPurger{}
	p.On("Purge", mock.Anything).Return(4, nil)

	assert.NoError(t, PurgeJob(p)(context.Background()))
	p.AssertExpectations(t)
}
