package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tornflow/tornflow/pkg/api"
	"github.com/tornflow/tornflow/pkg/errors"
)

func TestAPITimeSourceReadsServerTime(t *testing.T) {
	fetcher := &fakeFetcher{raw: api.RawResponse{"timestamp": float64(1234567890)}}
	ts := NewAPITimeSource(fetcher, currencyEndpoint(t), zap.NewNop())

	got, err := ts.Now(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1234567890, 0).UTC(), got)
}

func TestAPITimeSourceFallsBackToLocalClock(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New(errors.ErrorTypeConnection, "down")}
	ts := NewAPITimeSource(fetcher, currencyEndpoint(t), zap.NewNop())

	before := time.Now().UTC()
	got, err := ts.Now(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, before, got, 2*time.Second)
}
