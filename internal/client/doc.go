// Package client implements the connection-side view of a conversation.
//
// The core is a pure reducer: Apply takes the current message list and a
// Change and returns the next list without mutating the input. Optimistic
// sends enter the list immediately under their temp id; the server copy
// later collapses onto the same slot, so the message keeps its position
// even when other traffic arrived in between. Status updates merge
// monotonically and history snapshots re-adopt any local sends that have
// not been confirmed yet.
//
// Client wraps the reducer with a live websocket connection, ack
// timeouts, and a debounced read receipt for the active conversation.
package client
