// Package api implements the HTTP REST API and WebSocket server for the
// Vitrea gateway.
//
// This package provides:
//   - REST endpoints for the device catalog, last known states and commands
//   - A VBox availability probe
//   - WebSocket hub for real-time state and connection broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits beside the MQTT bridge. Commands posted over HTTP run
// through the same validation and frame building as MQTT commands, so both
// surfaces acknowledge in the same format. State changes are taken straight
// from the controller's event stream and broadcast to WebSocket clients.
//
// # Graceful Degradation
//
// The server operates without the bridge. Catalog reads, probes and
// WebSocket broadcasts keep working; state and command endpoints answer 503.
package api
