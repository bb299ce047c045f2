package fleet

// DeviceStatus is a point-in-time view of one monitor.
type DeviceStatus struct {
	Name         string `json:"name"`
	Address      string `json:"address"`
	State        string `json:"state"`
	FirstContact bool   `json:"first_contact"`
	Heartbeat    bool   `json:"heartbeat"`
	MachineName  string `json:"machine_name,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

// Snapshot returns the status of every device sorted by name.
func (f *Fleet) Snapshot() []DeviceStatus {
	names := f.Names()
	out := make([]DeviceStatus, 0, len(names))
	for _, name := range names {
		m, ok := f.Get(name)
		if !ok {
			continue
		}
		st := DeviceStatus{
			Name:         name,
			Address:      m.Address(),
			State:        m.State().String(),
			FirstContact: m.FirstContact(),
			Heartbeat:    m.HeartbeatRunning(),
			MachineName:  m.Identity().MachineName,
		}
		if err := m.LastError(); err != nil {
			st.LastError = err.Error()
		}
		out = append(out, st)
	}
	return out
}
