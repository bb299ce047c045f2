package journal

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/holocommander/internal/events"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
)

const consumerBuffer = 256

// Consumer records every device event published on a bus.
type Consumer struct {
	store      Store
	projection *StatusProjection
}

// NewConsumer records into store and, when projection is non-nil, keeps it
// current.
func NewConsumer(store Store, projection *StatusProjection) *Consumer {
	return &Consumer{store: store, projection: projection}
}

// Subscribe registers on bus and returns the loop to run. Subscribing before
// starting the event sources guarantees no early event is missed.
func (c *Consumer) Subscribe(bus *events.Bus) func(ctx context.Context) error {
	ch, unsubscribe := events.Subscribe[events.DeviceEvent](bus, consumerBuffer)
	return func(ctx context.Context) error {
		defer unsubscribe()
		return c.run(ctx, ch)
	}
}

// Run subscribes and records until ctx is done or the bus closes.
func (c *Consumer) Run(ctx context.Context, bus *events.Bus) error {
	return c.Subscribe(bus)(ctx)
}

func (c *Consumer) run(ctx context.Context, ch <-chan events.DeviceEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			c.record(ctx, evt)
		}
	}
}

func (c *Consumer) record(ctx context.Context, evt events.DeviceEvent) {
	if err := c.store.Append(ctx, evt); err != nil {
		slog.Error("Failed to journal device event",
			logfields.Device(evt.DeviceName()),
			slog.String("type", evt.EventType()),
			logfields.Error(err))
	}
	if c.projection != nil {
		c.projection.Apply(evt)
	}
}
