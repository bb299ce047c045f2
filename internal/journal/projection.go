package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"git.home.luguber.info/inful/holocommander/internal/events"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
)

// LastStatus is the most recent connection state recorded for a device.
type LastStatus struct {
	Device       string    `json:"device"`
	Address      string    `json:"address"`
	State        string    `json:"state"`
	FirstContact bool      `json:"first_contact"`
	Message      string    `json:"message,omitempty"`
	Since        time.Time `json:"since"`
	LastInstall  string    `json:"last_install,omitempty"`
	TaskFailures int       `json:"task_failures"`
}

// StatusProjection keeps the last known status of every device, rebuilt from
// the journal at startup and updated as events are recorded.
type StatusProjection struct {
	mu       sync.RWMutex
	store    Store
	devices  map[string]*LastStatus
	lastSync time.Time
}

func NewStatusProjection(store Store) *StatusProjection {
	return &StatusProjection{
		store:   store,
		devices: make(map[string]*LastStatus),
	}
}

// Rebuild replays every recorded entry.
func (p *StatusProjection) Rebuild(ctx context.Context) error {
	entries, err := p.store.Range(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = make(map[string]*LastStatus)
	for _, e := range entries {
		evt, err := Decode(e)
		if err != nil {
			slog.Warn("Skipping undecodable journal entry",
				slog.Int64("seq", e.Seq),
				slog.String("type", e.Type),
				logfields.Error(err))
			continue
		}
		p.applyLocked(evt)
	}
	p.lastSync = time.Now()
	return nil
}

// Apply folds one event into the projection.
func (p *StatusProjection) Apply(evt events.DeviceEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyLocked(evt)
}

func (p *StatusProjection) applyLocked(evt events.DeviceEvent) {
	name := evt.DeviceName()
	if name == "" {
		return
	}
	st, ok := p.devices[name]
	if !ok {
		st = &LastStatus{Device: name}
		p.devices[name] = st
	}

	switch e := evt.(type) {
	case events.DeviceStatusChanged:
		st.Address = e.Address
		st.State = e.To
		st.FirstContact = e.FirstContact
		st.Message = e.Message
		st.Since = e.At
	case events.InstallProgress:
		st.LastInstall = e.Phase
	case events.TaskFailed:
		st.TaskFailures++
	}
}

// Get returns the status of device.
func (p *StatusProjection) Get(device string) (LastStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.devices[device]
	if !ok {
		return LastStatus{}, false
	}
	return *st, true
}

// All returns every device status sorted by device name.
func (p *StatusProjection) All() []LastStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]LastStatus, 0, len(p.devices))
	for _, st := range p.devices {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out
}

// LastSync is when Rebuild last completed.
func (p *StatusProjection) LastSync() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}

// MarshalJSON renders All.
func (p *StatusProjection) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.All())
}
