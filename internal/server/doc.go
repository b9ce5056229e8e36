// Package server wires the HTTP surface: the websocket endpoint, the REST
// API, health checks, and the metrics handler. Each websocket connection
// gets a session that owns the single writer goroutine and dispatches
// inbound envelopes to the delivery engine.
package server
