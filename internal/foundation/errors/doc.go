// Package errors provides the classified error primitives used across holocommander.
//
// Every failure that crosses a package boundary is a ClassifiedError carrying a
// category, a severity, a retry strategy and structured context. The device
// layer uses four categories callers are expected to branch on:
//
//   - CategoryConnection: the address is malformed or the portal client could not be built
//   - CategoryHandshake: the device rejected or aborted the session handshake
//   - CategoryNotConnected: a command was issued while no live session exists
//   - CategoryOperation: the portal returned an error for a device operation
//
// Example usage:
//
//	err := errors.OperationFailed("terminate application").
//		WithContext("package", pkg).
//		WithCause(rpcErr).
//		Build()
//
// Use errors.Is against the package sentinels (ErrNotConnected, ...) or HasCategory
// to classify an error after it has been wrapped.
package errors
