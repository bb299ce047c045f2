package heartbeat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	_, err := New("hl", 0, func(context.Context) {})
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))

	_, err = New("hl", time.Second, nil)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestHeartbeat_FirstTickImmediate(t *testing.T) {
	fired := make(chan struct{}, 1)
	hb, err := New("hl", time.Hour, func(context.Context) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	require.NoError(t, hb.Start(t.Context()))
	defer hb.Stop()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick did not fire immediately")
	}
	assert.True(t, hb.Running())
}

func TestHeartbeat_NoTicksAfterStop(t *testing.T) {
	var count atomic.Int64
	hb, err := New("hl", 20*time.Millisecond, func(context.Context) { count.Add(1) })
	require.NoError(t, err)
	require.NoError(t, hb.Start(t.Context()))

	require.Eventually(t, func() bool { return count.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	hb.Stop()
	stopped := count.Load()
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, stopped, count.Load())
	assert.False(t, hb.Running())
}

func TestHeartbeat_StopCancelsRunningTick(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var canceled atomic.Bool
	hb, err := New("hl", time.Hour, func(ctx context.Context) {
		close(entered)
		<-ctx.Done()
		canceled.Store(true)
		<-release
	})
	require.NoError(t, err)
	require.NoError(t, hb.Start(t.Context()))

	<-entered
	hb.Stop()
	assert.True(t, canceled.Load())
	assert.False(t, hb.Running())

	select {
	case <-hb.Done():
		t.Fatal("shutdown completed while the tick was still running")
	default:
	}

	close(release)
	select {
	case <-hb.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not shut down after the tick returned")
	}
}

func TestHeartbeat_StopFromInsideTick(t *testing.T) {
	var hb *Heartbeat
	returned := make(chan time.Duration, 1)
	hb, err := New("hl", time.Hour, func(context.Context) {
		start := time.Now()
		hb.Stop()
		returned <- time.Since(start)
	})
	require.NoError(t, err)
	require.NoError(t, hb.Start(t.Context()))

	select {
	case took := <-returned:
		assert.Less(t, took, time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop called from the tick did not return")
	}
	assert.False(t, hb.Running())

	select {
	case <-hb.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not shut down")
	}
}

func TestHeartbeat_StopIdleJoinsShutdown(t *testing.T) {
	hb, err := New("hl", time.Hour, func(context.Context) {})
	require.NoError(t, err)
	assert.Nil(t, hb.Done())

	require.NoError(t, hb.Start(t.Context()))
	require.Eventually(t, func() bool { return hb.Ticks() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		hb.mu.Lock()
		defer hb.mu.Unlock()
		return !hb.ticking
	}, 2*time.Second, 5*time.Millisecond)

	hb.Stop()
	select {
	case <-hb.Done():
	default:
		t.Fatal("idle Stop returned before the scheduler shut down")
	}
}

func TestHeartbeat_TicksDoNotOverlap(t *testing.T) {
	var running, overlaps atomic.Int64
	hb, err := New("hl", 5*time.Millisecond, func(context.Context) {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(25 * time.Millisecond)
		running.Add(-1)
	})
	require.NoError(t, err)
	require.NoError(t, hb.Start(t.Context()))

	time.Sleep(150 * time.Millisecond)
	hb.Stop()

	assert.Zero(t, overlaps.Load())
	assert.Positive(t, hb.Ticks())
}

func TestHeartbeat_StartStopIdempotent(t *testing.T) {
	hb, err := New("hl", time.Hour, func(context.Context) {})
	require.NoError(t, err)

	hb.Stop()
	require.NoError(t, hb.Start(context.Background()))
	require.NoError(t, hb.Start(context.Background()))
	hb.Stop()
	hb.Stop()
	assert.False(t, hb.Running())

	require.NoError(t, hb.Start(context.Background()))
	assert.True(t, hb.Running())
	hb.Stop()
}
