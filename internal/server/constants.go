// Package server exposes the session and pipeline over a local HTTP API and
// pushes pipeline events to WebSocket clients.
package server

import "time"

const (
	// maxBodyBytes bounds JSON request bodies.
	maxBodyBytes = 4 << 10

	wsWriteTimeout = 5 * time.Second
	// wsSendBuffer is the per-client queue; a client that falls this far
	// behind is disconnected.
	wsSendBuffer = 32
)
