// Package journal records device events in SQLite and projects the last known
// status of every device from them.
package journal

import (
	"context"
	"time"

	"git.home.luguber.info/inful/holocommander/internal/events"
)

// Store persists and retrieves device events.
type Store interface {
	// Append records evt.
	Append(ctx context.Context, evt events.DeviceEvent) error

	// ByDevice returns the newest limit entries of device, oldest first.
	// limit <= 0 returns every entry.
	ByDevice(ctx context.Context, device string, limit int) ([]Entry, error)

	// Range returns the entries that occurred within [start, end].
	Range(ctx context.Context, start, end time.Time) ([]Entry, error)

	Close() error
}

// Entry is one recorded event.
type Entry struct {
	Seq     int64
	EventID string
	Device  string
	Type    string
	At      time.Time
	Payload []byte
}
