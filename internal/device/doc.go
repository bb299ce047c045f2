// Package device implements the per-device connection core: a Monitor owns one
// device's session, drives the heartbeat that establishes and probes it, and
// dispatches commands against it.
//
// Handshake outcomes arrive as asynchronous status events from the portal
// client. The Monitor turns them into guarded state transitions
// (Disconnected, AcquiringCredentials, Handshaking, Connected, Failed and the
// transient RenamingThenRebooting) and never retries a command implicitly:
// reconnecting is the heartbeat's job.
package device
