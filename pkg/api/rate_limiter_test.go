package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacerEnforcesMinimumSpacing(t *testing.T) {
	const interval = 50 * time.Millisecond
	p := NewPacer(interval)
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(ctx, "default"))
		stamps = append(stamps, time.Now())
	}

	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		assert.GreaterOrEqual(t, gap, interval-5*time.Millisecond,
			"request %d followed too quickly", i)
	}
}

func TestPacerCredentialsIndependent(t *testing.T) {
	p := NewPacer(200 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, p.Wait(ctx, "a"))

	start := time.Now()
	require.NoError(t, p.Wait(ctx, "b"))
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"a different credential must not wait behind the first")
}

func TestPacerConcurrentCallersSerialize(t *testing.T) {
	const interval = 30 * time.Millisecond
	p := NewPacer(interval)
	ctx := context.Background()

	var (
		mu     sync.Mutex
		stamps []time.Time
		wg     sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, p.Wait(ctx, "shared"))
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, stamps, 4)
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		assert.GreaterOrEqual(t, gap, interval-5*time.Millisecond)
	}
}

func TestPacerWaitCancellable(t *testing.T) {
	p := NewPacer(time.Minute)
	ctx := context.Background()
	require.NoError(t, p.Wait(ctx, "default"))

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := p.Wait(cancelCtx, "default")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
