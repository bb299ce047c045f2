// Package fleet manages one device.Monitor per configured device.
//
// Monitors are independent: a fleet never shares a session, heartbeat or lock
// between devices. Every monitor's connection, install and task notifications
// are republished on an events.Bus so the journal, the NATS publisher and the
// status server observe the whole fleet through one subscription.
package fleet
