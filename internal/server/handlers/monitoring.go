package handlers

import (
	"net/http"
	"time"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/fleet"
	"git.home.luguber.info/inful/holocommander/internal/server/responses"
	"git.home.luguber.info/inful/holocommander/internal/version"
)

// FleetView is the fleet state the handlers read.
type FleetView interface {
	Snapshot() []fleet.DeviceStatus
}

// MonitoringHandlers serves liveness.
type MonitoringHandlers struct {
	fleet        FleetView
	started      time.Time
	errorAdapter *ferrors.HTTPErrorAdapter
}

func NewMonitoringHandlers(f FleetView, adapter *ferrors.HTTPErrorAdapter) *MonitoringHandlers {
	return &MonitoringHandlers{fleet: f, started: time.Now(), errorAdapter: adapter}
}

// HandleHealthCheck reports the process as healthy along with how many
// devices are connected.
func (h *MonitoringHandlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := &responses.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   version.Version,
		Uptime:    time.Since(h.started).Seconds(),
	}
	if h.fleet != nil {
		snap := h.fleet.Snapshot()
		health.Devices = len(snap)
		for _, d := range snap {
			if d.State == "connected" {
				health.Connected++
			}
		}
	}

	if err := writeJSONPretty(w, r, http.StatusOK, health); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			ferrors.WrapError(err, ferrors.CategoryInternal, "failed to write health response").Build())
	}
}
