package events

import "time"

// DeviceEvent is implemented by every event published for a single device.
// Subscribe[DeviceEvent] receives all of them.
type DeviceEvent interface {
	EventID() string
	DeviceName() string
	EventType() string
	OccurredAt() time.Time
}

// Event type names, used as journal types and NATS subject suffixes.
const (
	TypeStatusChanged   = "status_changed"
	TypeInstallProgress = "install_progress"
	TypeTaskFailed      = "task_failed"
)

// DeviceStatusChanged is emitted on every connection state transition.
type DeviceStatusChanged struct {
	ID           string    `json:"id"`
	Device       string    `json:"device"`
	Address      string    `json:"address"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	FirstContact bool      `json:"first_contact"`
	Message      string    `json:"message,omitempty"`
	At           time.Time `json:"at"`
}

func (e DeviceStatusChanged) EventID() string       { return e.ID }
func (e DeviceStatusChanged) DeviceName() string    { return e.Device }
func (e DeviceStatusChanged) EventType() string     { return TypeStatusChanged }
func (e DeviceStatusChanged) OccurredAt() time.Time { return e.At }

// InstallProgress mirrors one install status notification.
type InstallProgress struct {
	ID      string    `json:"id"`
	Device  string    `json:"device"`
	Phase   string    `json:"phase"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

func (e InstallProgress) EventID() string       { return e.ID }
func (e InstallProgress) DeviceName() string    { return e.Device }
func (e InstallProgress) EventType() string     { return TypeInstallProgress }
func (e InstallProgress) OccurredAt() time.Time { return e.At }

// TaskFailed reports a failed background task, such as rename-then-reboot.
type TaskFailed struct {
	ID     string    `json:"id"`
	Device string    `json:"device"`
	TaskID string    `json:"task_id"`
	Task   string    `json:"task"`
	Error  string    `json:"error"`
	At     time.Time `json:"at"`
}

func (e TaskFailed) EventID() string       { return e.ID }
func (e TaskFailed) DeviceName() string    { return e.Device }
func (e TaskFailed) EventType() string     { return TypeTaskFailed }
func (e TaskFailed) OccurredAt() time.Time { return e.At }
