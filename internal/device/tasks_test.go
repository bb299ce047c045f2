package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskGroup_ReportsFailures(t *testing.T) {
	var failures []TaskError
	g := newTaskGroup(context.Background(), 1, func(te TaskError) { failures = append(failures, te) })

	id := g.Go("boom", func(context.Context) error { return errors.New("exploded") })
	require.NotEmpty(t, id)

	select {
	case te := <-g.errs:
		assert.Equal(t, id, te.ID)
		assert.Equal(t, "boom", te.Task)
		assert.EqualError(t, te.Unwrap(), "exploded")
		assert.Contains(t, te.Error(), "boom")
	case <-time.After(time.Second):
		t.Fatal("no task error")
	}
	require.NoError(t, g.StopAndWait(context.Background()))
	assert.Len(t, failures, 1)
}

func TestTaskGroup_FullChannelKeepsNewest(t *testing.T) {
	g := newTaskGroup(context.Background(), 1, nil)
	g.fail(TaskError{ID: "1"})
	g.fail(TaskError{ID: "2"})
	te := <-g.errs
	assert.Equal(t, "2", te.ID)
}

func TestTaskGroup_StopCancelsAndRefuses(t *testing.T) {
	g := newTaskGroup(context.Background(), 1, nil)

	started := make(chan struct{})
	g.Go("wait", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	<-started
	assert.Equal(t, 1, g.Running())

	require.NoError(t, g.StopAndWait(context.Background()))
	assert.Equal(t, 0, g.Running())
	assert.Empty(t, g.Go("late", func(context.Context) error { return nil }))
}

func TestTaskGroup_StopBoundedByContext(t *testing.T) {
	g := newTaskGroup(context.Background(), 1, nil)
	release := make(chan struct{})
	defer close(release)
	g.Go("stuck", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.StopAndWait(ctx), context.DeadlineExceeded)
}

func TestTaskGroup_StopClosesErrors(t *testing.T) {
	g := newTaskGroup(context.Background(), 4, nil)
	g.Go("boom", func(context.Context) error { return errors.New("boom") })

	require.NoError(t, g.StopAndWait(context.Background()))
	require.NoError(t, g.StopAndWait(context.Background()))

	var got []string
	for te := range g.errs {
		got = append(got, te.Task)
	}
	assert.Equal(t, []string{"boom"}, got)
}

func TestTaskGroup_ErrorsClosedAfterLateExit(t *testing.T) {
	g := newTaskGroup(context.Background(), 1, nil)
	release := make(chan struct{})
	g.Go("stuck", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, g.StopAndWait(ctx), context.DeadlineExceeded)

	close(release)
	select {
	case _, ok := <-g.errs:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("error channel not closed after the last task exited")
	}
}
