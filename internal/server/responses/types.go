// Package responses defines the JSON bodies of the status server.
package responses

import (
	"time"

	"git.home.luguber.info/inful/holocommander/internal/events"
	"git.home.luguber.info/inful/holocommander/internal/fleet"
)

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    float64   `json:"uptime"`
	Devices   int       `json:"devices"`
	Connected int       `json:"connected"`
}

// DevicesResponse lists the fleet.
type DevicesResponse struct {
	Devices   []fleet.DeviceStatus `json:"devices"`
	Count     int                  `json:"count"`
	Timestamp time.Time            `json:"timestamp"`
}

// HistoryResponse lists journaled events of one device, oldest first.
type HistoryResponse struct {
	Device string               `json:"device"`
	Events []events.DeviceEvent `json:"events"`
	Count  int                  `json:"count"`
}
