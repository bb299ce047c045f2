package fleet

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/holocommander/internal/device"
	"git.home.luguber.info/inful/holocommander/internal/events"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
	"git.home.luguber.info/inful/holocommander/internal/portal"
)

// bridge republishes the monitor's notifications on the bus. Publishing never
// blocks: a subscriber with a full buffer misses the event.
func (f *Fleet) bridge(m *device.Monitor) []func() {
	if f.bus == nil {
		return nil
	}
	name := m.Name()
	return []func(){
		m.OnConnectionStatus(func(evt device.StatusEvent) {
			message := evt.Message
			if message == "" && evt.Err != nil {
				message = evt.Err.Error()
			}
			f.publish(events.DeviceStatusChanged{
				ID:           uuid.NewString(),
				Device:       evt.Device,
				Address:      evt.Address,
				From:         evt.From.String(),
				To:           evt.To.String(),
				FirstContact: evt.FirstContact,
				Message:      message,
				At:           time.Now().UTC(),
			})
		}),
		m.OnInstallStatus(func(evt portal.InstallStatusEvent) {
			f.publish(events.InstallProgress{
				ID:      uuid.NewString(),
				Device:  name,
				Phase:   evt.Phase.String(),
				Message: evt.Message,
				At:      time.Now().UTC(),
			})
		}),
		m.OnTaskFailure(func(te device.TaskError) {
			f.publish(events.TaskFailed{
				ID:     uuid.NewString(),
				Device: name,
				TaskID: te.ID,
				Task:   te.Task,
				Error:  te.Err.Error(),
				At:     time.Now().UTC(),
			})
		}),
	}
}

func (f *Fleet) publish(evt events.DeviceEvent) {
	if missed := f.bus.TryPublish(evt); missed > 0 {
		slog.Debug("Device event dropped for slow subscribers",
			logfields.Device(evt.DeviceName()),
			slog.String("type", evt.EventType()),
			slog.Int("missed", missed))
	}
}
