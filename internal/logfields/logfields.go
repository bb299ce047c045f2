package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyDevice     = "device"
	KeyAddress    = "address"
	KeyOperation  = "operation"
	KeyPackage    = "package"
	KeyFile       = "file"
	KeyState      = "state"
	KeyStatus     = "status"
	KeyTaskID     = "task_id"
	KeyTask       = "task"
	KeyHandshake  = "handshake"
	KeyDurationMS = "duration_ms"
	KeySubject    = "subject"
	KeyPath       = "path"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Device(name string) slog.Attr       { return slog.String(KeyDevice, name) }
func Address(addr string) slog.Attr      { return slog.String(KeyAddress, addr) }
func Operation(op string) slog.Attr      { return slog.String(KeyOperation, op) }
func Package(name string) slog.Attr      { return slog.String(KeyPackage, name) }
func File(name string) slog.Attr         { return slog.String(KeyFile, name) }
func State(s string) slog.Attr           { return slog.String(KeyState, s) }
func Status(s string) slog.Attr          { return slog.String(KeyStatus, s) }
func TaskID(id string) slog.Attr         { return slog.String(KeyTaskID, id) }
func Task(name string) slog.Attr         { return slog.String(KeyTask, name) }
func Handshake(seq uint64) slog.Attr     { return slog.Uint64(KeyHandshake, seq) }
func Subject(s string) slog.Attr         { return slog.String(KeySubject, s) }
func Path(p string) slog.Attr            { return slog.String(KeyPath, p) }
func Duration(d time.Duration) slog.Attr { return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
