package sender

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaceFirstReturnsFastestResult(t *testing.T) {
	value, strategy, err := raceFirst(context.Background(),
		namedStrategy[int]{
			name: "slow",
			run: func(ctx context.Context) (int, error) {
				select {
				case <-ctx.Done():
					return 0, ctx.Err()
				case <-time.After(time.Second):
					return 1, nil
				}
			},
		},
		namedStrategy[int]{
			name: "fast",
			run: func(ctx context.Context) (int, error) {
				return 2, nil
			},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, value)
	assert.Equal(t, "fast", strategy)
}

func TestRaceFirstPropagatesFirstError(t *testing.T) {
	boom := errors.New("boom")
	_, strategy, err := raceFirst(context.Background(),
		namedStrategy[int]{
			name: "failing",
			run: func(ctx context.Context) (int, error) {
				return 0, boom
			},
		},
		namedStrategy[int]{
			name: "pending",
			run: func(ctx context.Context) (int, error) {
				<-ctx.Done()
				return 0, ctx.Err()
			},
		},
	)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "failing", strategy)
}

func TestRaceFirstJoinsLosersBeforeReturning(t *testing.T) {
	var exited atomic.Bool
	_, _, err := raceFirst(context.Background(),
		namedStrategy[int]{
			name: "winner",
			run: func(ctx context.Context) (int, error) {
				return 1, nil
			},
		},
		namedStrategy[int]{
			name: "loser",
			run: func(ctx context.Context) (int, error) {
				<-ctx.Done()
				exited.Store(true)
				return 0, ctx.Err()
			},
		},
	)
	require.NoError(t, err)
	assert.True(t, exited.Load(), "loser strategy was still running after raceFirst returned")
}
