package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"pak-finance/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledJobIsNotRegistered(t *testing.T) {
	s := New(logging.Discard())
	require.NoError(t, s.Every(context.Background(), "heartbeat", 0, func(context.Context) error { return nil }))
	assert.Equal(t, 0, s.Jobs())
}

func TestJobRunsPeriodically(t *testing.T) {
	s := New(logging.Discard())
	var runs atomic.Int32
	require.NoError(t, s.Every(context.Background(), "tick", 50*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return errors.New("logged and ignored")
	}))
	assert.Equal(t, 1, s.Jobs())

	s.Start()
	defer s.Stop()
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}
