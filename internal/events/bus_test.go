package events

import (
	"context"
	"testing"
	"time"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsubscribe := Subscribe[DeviceStatusChanged](b, 1)
	defer unsubscribe()

	require.NoError(t, b.Publish(context.Background(), DeviceStatusChanged{Device: "hl-01", To: "connected"}))

	select {
	case got := <-ch:
		require.Equal(t, "hl-01", got.Device)
		require.Equal(t, "connected", got.To)
	case <-time.After(250 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_DeviceEventSubscriptionReceivesAllTypes(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsubscribe := Subscribe[DeviceEvent](b, 3)
	defer unsubscribe()

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, DeviceStatusChanged{Device: "a"}))
	require.NoError(t, b.Publish(ctx, InstallProgress{Device: "b", Phase: "started"}))
	require.NoError(t, b.Publish(ctx, TaskFailed{Device: "c", Task: "rename"}))

	var types []string
	for range 3 {
		evt := <-ch
		types = append(types, evt.EventType())
	}
	require.Equal(t, []string{TypeStatusChanged, TypeInstallProgress, TypeTaskFailed}, types)
}

func TestBus_PublishBackpressure(t *testing.T) {
	b := NewBus()
	defer b.Close()

	_, unsubscribe := Subscribe[TaskFailed](b, 0)
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := b.Publish(ctx, TaskFailed{Device: "x"})
	require.Error(t, err)

	classified, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	require.Equal(t, ferrors.CategoryRuntime, classified.Category())
}

func TestBus_TryPublishDropsWhenFull(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsubscribe := Subscribe[InstallProgress](b, 1)
	defer unsubscribe()

	require.Equal(t, 0, b.TryPublish(InstallProgress{Phase: "started"}))
	require.Equal(t, 1, b.TryPublish(InstallProgress{Phase: "completed"}))
	require.Equal(t, uint64(1), b.Dropped())

	got := <-ch
	require.Equal(t, "started", got.Phase)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsubscribe := Subscribe[DeviceStatusChanged](b, 1)
	require.Equal(t, 1, SubscriberCount[DeviceStatusChanged](b))

	unsubscribe()
	unsubscribe()
	require.Equal(t, 0, SubscriberCount[DeviceStatusChanged](b))

	_, ok := <-ch
	require.False(t, ok)
	require.NoError(t, b.Publish(context.Background(), DeviceStatusChanged{}))
}

func TestBus_Close(t *testing.T) {
	b := NewBus()

	ch, _ := Subscribe[DeviceStatusChanged](b, 1)
	b.Close()

	_, ok := <-ch
	require.False(t, ok)

	err := b.Publish(context.Background(), DeviceStatusChanged{})
	require.Error(t, err)
	require.Equal(t, 0, b.TryPublish(DeviceStatusChanged{}))
}

func TestBus_PublishNil(t *testing.T) {
	b := NewBus()
	defer b.Close()

	err := b.Publish(context.Background(), nil)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}
