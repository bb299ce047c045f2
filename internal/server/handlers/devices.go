package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"git.home.luguber.info/inful/holocommander/internal/events"
	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/journal"
	"git.home.luguber.info/inful/holocommander/internal/server/responses"
)

const defaultHistoryLimit = 100

// HistoryView reads journaled events.
type HistoryView interface {
	ByDevice(ctx context.Context, device string, limit int) ([]journal.Entry, error)
}

// StatusView reads the journal's last-known status per device.
type StatusView interface {
	All() []journal.LastStatus
}

// DeviceHandlers serves the fleet API.
type DeviceHandlers struct {
	fleet        FleetView
	history      HistoryView
	status       StatusView
	errorAdapter *ferrors.HTTPErrorAdapter
}

// NewDeviceHandlers serves f. history and status may be nil when the journal
// is off.
func NewDeviceHandlers(f FleetView, history HistoryView, status StatusView, adapter *ferrors.HTTPErrorAdapter) *DeviceHandlers {
	return &DeviceHandlers{fleet: f, history: history, status: status, errorAdapter: adapter}
}

// HandleDevices lists every device.
func (h *DeviceHandlers) HandleDevices(w http.ResponseWriter, r *http.Request) {
	snap := h.fleet.Snapshot()
	resp := responses.DevicesResponse{Devices: snap, Count: len(snap), Timestamp: time.Now().UTC()}
	if err := writeJSONPretty(w, r, http.StatusOK, resp); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			ferrors.WrapError(err, ferrors.CategoryInternal, "failed to write devices response").Build())
	}
}

// HandleDevice returns one device by name.
func (h *DeviceHandlers) HandleDevice(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	for _, d := range h.fleet.Snapshot() {
		if d.Name == name {
			if err := writeJSONPretty(w, r, http.StatusOK, d); err != nil {
				h.errorAdapter.WriteErrorResponse(w, r,
					ferrors.WrapError(err, ferrors.CategoryInternal, "failed to write device response").Build())
			}
			return
		}
	}
	h.errorAdapter.WriteErrorResponse(w, r, ferrors.NotFoundError("unknown device").WithContext("device", name).Build())
}

// HandleHistory returns the newest journaled events of a device. The limit
// query parameter bounds the count.
func (h *DeviceHandlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.JournalError("event journal is disabled").Build())
		return
	}

	name := r.PathValue("name")
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.errorAdapter.WriteErrorResponse(w, r, ferrors.ValidationError("limit must be a non-negative integer").
				WithContext("limit", raw).
				Build())
			return
		}
		limit = n
	}

	entries, err := h.history.ByDevice(r.Context(), name, limit)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	resp := responses.HistoryResponse{Device: name, Events: make([]events.DeviceEvent, 0, len(entries))}
	for _, e := range entries {
		evt, err := journal.Decode(e)
		if err != nil {
			continue
		}
		resp.Events = append(resp.Events, evt)
	}
	resp.Count = len(resp.Events)

	if err := writeJSONPretty(w, r, http.StatusOK, resp); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			ferrors.WrapError(err, ferrors.CategoryInternal, "failed to write history response").Build())
	}
}

// HandleLastStatus returns the journaled status of every device seen,
// including devices no longer configured.
func (h *DeviceHandlers) HandleLastStatus(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.JournalError("event journal is disabled").Build())
		return
	}
	all := h.status.All()
	if all == nil {
		all = []journal.LastStatus{}
	}
	if err := writeJSONPretty(w, r, http.StatusOK, all); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			ferrors.WrapError(err, ferrors.CategoryInternal, "failed to write status response").Build())
	}
}
