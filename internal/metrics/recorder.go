package metrics

import "time"

// ResultLabel enumerates handshake and heartbeat outcomes for counters.
type ResultLabel string

const (
	ResultSuccess   ResultLabel = "success"
	ResultFailed    ResultLabel = "failed"
	ResultError     ResultLabel = "error"
	ResultLost      ResultLabel = "lost"
	ResultReconnect ResultLabel = "reconnect"
)

// Recorder defines observability hooks for device sessions.
type Recorder interface {
	// IncHandshake counts handshake outcomes: success, failed (status event) or
	// error (synchronous setup failure).
	IncHandshake(result ResultLabel)
	// IncHeartbeat counts ticks: success (probe ok), lost (probe failed) or
	// reconnect (handshake attempted).
	IncHeartbeat(result ResultLabel)
	ObserveCommandDuration(operation string, d time.Duration, success bool)
	SetConnected(device string, connected bool)
	IncTaskFailure(task string)
	SetFleetSize(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncHandshake(ResultLabel)                           {}
func (NoopRecorder) IncHeartbeat(ResultLabel)                           {}
func (NoopRecorder) ObserveCommandDuration(string, time.Duration, bool) {}
func (NoopRecorder) SetConnected(string, bool)                          {}
func (NoopRecorder) IncTaskFailure(string)                              {}
func (NoopRecorder) SetFleetSize(int)                                   {}
