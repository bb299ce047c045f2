// Package portal defines the seam between the device core and the device-portal
// client that speaks the management protocol.
//
// The core never talks HTTP or WebSocket itself. It consumes a Client, built by a
// Factory from a normalized address and credentials, and reacts to the status
// events that Client delivers. Subpackage wdp binds Client to the portal REST and
// WebSocket surface; subpackage portaltest provides a scriptable fake.
package portal
