// Package delivery implements the chat protocol's server-side semantics.
//
// # Overview
//
// The Engine sits between the websocket sessions and the store/presence
// layers. Sessions decode envelopes and call Engine methods; the Engine
// persists, fans out through the presence registry, and answers the
// requesting session.
//
// # Send Pipeline
//
// message:send runs through a fixed pipeline:
//
//  1. Per-sender rate limit (golang.org/x/time token buckets)
//  2. Conversation lookup and participant check
//  3. Persist with status sent
//  4. Fan out message:receive to both participants' rooms, tempId echoed
//  5. Annotated admin:message copy to the monitoring room
//  6. Conversation activity bookkeeping, unread bump for client messages
//  7. Delayed delivered transition
//
// A failed persist stops the pipeline before any fan-out, so the sender's
// ack error is authoritative: nothing was delivered.
//
// # Delivered vs Read
//
// The delivered transition fires after Config.DeliveredDelay (1s default)
// and is conditional in the store: if a read receipt already marked the
// message read, the transition is skipped and no message:status goes out.
//
// # Presence Lifecycle
//
// Login flips the persisted online flag and rebroadcasts both directory
// snapshots to every connection; only a user's last disconnect does the
// reverse. Directory lists carry online members only.
package delivery
