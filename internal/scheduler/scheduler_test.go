package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tornflow/tornflow/pkg/config"
)

type fakeTask struct {
	endpoint *config.Endpoint
	runs     int32
	panic    bool
	block    chan struct{}
}

func newFakeTask(t *testing.T, name, freq string) *fakeTask {
	t.Helper()
	e := &config.Endpoint{
		Name:        name,
		Kind:        name,
		URL:         "https://x?key={key}",
		Table:       "p.d." + name,
		Frequency:   freq,
		StorageMode: config.StorageModeReplace,
	}
	require.NoError(t, e.Validate())
	return &fakeTask{endpoint: e}
}

func (f *fakeTask) Endpoint() *config.Endpoint { return f.endpoint }

func (f *fakeTask) Run(ctx context.Context) error {
	atomic.AddInt32(&f.runs, 1)
	if f.panic {
		panic("boom")
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	return nil
}

func TestSchedulerTicksTask(t *testing.T) {
	s := New(2, zap.NewNop())
	task := newFakeTask(t, "fast", "PT1S")
	s.Add(task)

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&task.runs) >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestSchedulerContainsPanics(t *testing.T) {
	s := New(2, zap.NewNop())
	bad := newFakeTask(t, "bad", "PT1S")
	bad.panic = true
	good := newFakeTask(t, "good", "PT1S")
	s.Add(bad)
	s.Add(good)

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&bad.runs) >= 2 && atomic.LoadInt32(&good.runs) >= 2
	}, 5*time.Second, 50*time.Millisecond,
		"a panicking task keeps its schedule and never takes others down")
}

func TestSchedulerNeverOverlapsSameEndpoint(t *testing.T) {
	s := New(4, zap.NewNop())
	task := newFakeTask(t, "slow", "PT1S")
	task.block = make(chan struct{})
	s.Add(task)

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&task.runs) >= 1
	}, 3*time.Second, 50*time.Millisecond)

	// Several ticks fire while the first cycle is still blocked; even
	// with free pool capacity they must be skipped, not run in parallel.
	time.Sleep(2500 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&task.runs))

	close(task.block)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&task.runs) >= 2
	}, 3*time.Second, 50*time.Millisecond, "later ticks resume once the cycle finishes")
}

func TestSchedulerStopCancelsRunningTasks(t *testing.T) {
	s := New(1, zap.NewNop())
	task := newFakeTask(t, "blocker", "PT1S")
	task.block = make(chan struct{}) // only released by cancellation
	s.Add(task)

	s.Start()
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&task.runs) >= 1
	}, 3*time.Second, 50*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not drain running tasks after cancellation")
	}
}
