// ABOUTME: Pure reducer reconciling a conversation's message list against
// ABOUTME: socket events: optimistic sends, server copies, status updates, receipts.

package client

import (
	"github.com/shenzhiyongzhe/online-chat/internal/wire"
)

// ChangeKind names the event being folded into the list.
type ChangeKind int

const (
	// ChangeOptimistic appends a local entry before the server confirms it.
	ChangeOptimistic ChangeKind = iota
	// ChangeServerMessage folds a message:receive copy in.
	ChangeServerMessage
	// ChangeStatus folds a message:status transition in.
	ChangeStatus
	// ChangeReadReceipt folds a messages:read broadcast in.
	ChangeReadReceipt
	// ChangeFailed marks an unacknowledged optimistic entry as failed.
	ChangeFailed
	// ChangeHistory replaces the list with a server history snapshot,
	// keeping local entries the server doesn't know about yet.
	ChangeHistory
)

// Change is one reconciliation step.
type Change struct {
	Kind    ChangeKind
	Message wire.Message       // ChangeOptimistic, ChangeServerMessage
	Status  wire.MessageStatus // ChangeStatus
	Receipt wire.ReadReceipt   // ChangeReadReceipt
	TempID  string             // ChangeFailed
	History []wire.Message     // ChangeHistory
}

// Apply folds one change into the message list and returns the new list.
// The input slice is never mutated. Status transitions are monotonic:
// a lower-ranked status never overwrites a higher one, so a late delivered
// push cannot undo a read.
func Apply(list []wire.Message, ch Change) []wire.Message {
	switch ch.Kind {
	case ChangeOptimistic:
		return applyOptimistic(list, ch.Message)
	case ChangeServerMessage:
		return applyServerMessage(list, ch.Message)
	case ChangeStatus:
		return applyStatus(list, ch.Status)
	case ChangeReadReceipt:
		return applyReadReceipt(list, ch.Receipt)
	case ChangeFailed:
		return applyFailed(list, ch.TempID)
	case ChangeHistory:
		return applyHistory(list, ch.History)
	default:
		return list
	}
}

// applyOptimistic appends a sending-state entry. A retry reuses the same
// tempId and resets the existing failed entry instead of duplicating it.
func applyOptimistic(list []wire.Message, msg wire.Message) []wire.Message {
	if msg.Status == "" {
		msg.Status = wire.StatusSending
	}
	if msg.ID == "" {
		msg.ID = msg.TempID
	}

	if msg.TempID != "" {
		if i := indexByTempID(list, msg.TempID); i >= 0 {
			out := clone(list)
			out[i] = msg
			return out
		}
	}
	return append(clone(list), msg)
}

// applyServerMessage folds the canonical copy in. It collapses the matching
// optimistic entry in place, dedupes repeated copies by id, and otherwise
// appends.
func applyServerMessage(list []wire.Message, msg wire.Message) []wire.Message {
	// Collapse our optimistic entry, keeping its position
	if msg.TempID != "" {
		if i := indexByTempID(list, msg.TempID); i >= 0 {
			out := clone(list)
			msg.Status = higherStatus(out[i].Status, msg.Status)
			out[i] = msg
			return out
		}
	}

	// Duplicate copy of a message we already hold
	if i := indexByID(list, msg.ID); i >= 0 {
		out := clone(list)
		msg.Status = higherStatus(out[i].Status, msg.Status)
		out[i] = msg
		return out
	}

	return append(clone(list), msg)
}

func applyStatus(list []wire.Message, status wire.MessageStatus) []wire.Message {
	i := indexByID(list, status.MessageID)
	if i < 0 {
		return list
	}
	next := higherStatus(list[i].Status, status.Status)
	if next == list[i].Status {
		return list
	}
	out := clone(list)
	out[i].Status = next
	return out
}

// applyReadReceipt marks every message the reader did not send as read.
// The reader's own messages are untouched.
func applyReadReceipt(list []wire.Message, receipt wire.ReadReceipt) []wire.Message {
	var out []wire.Message
	for i, msg := range list {
		if msg.SenderID == receipt.ReaderID {
			continue
		}
		// Unconfirmed local entries don't exist on the server yet
		if msg.Status == wire.StatusSending || msg.Status == wire.StatusFailed {
			continue
		}
		if msg.Status == wire.StatusRead {
			continue
		}
		if out == nil {
			out = clone(list)
		}
		out[i].Status = wire.StatusRead
	}
	if out == nil {
		return list
	}
	return out
}

func applyFailed(list []wire.Message, tempID string) []wire.Message {
	i := indexByTempID(list, tempID)
	if i < 0 {
		return list
	}
	// Only an unconfirmed optimistic entry can fail
	if list[i].Status != wire.StatusSending {
		return list
	}
	out := clone(list)
	out[i].Status = wire.StatusFailed
	return out
}

// applyHistory adopts the server snapshot and re-appends local entries the
// server doesn't have: still-sending optimistic messages and failed ones
// awaiting retry.
func applyHistory(list []wire.Message, history []wire.Message) []wire.Message {
	out := clone(history)
	for _, msg := range list {
		if msg.Status != wire.StatusSending && msg.Status != wire.StatusFailed {
			continue
		}
		if msg.TempID != "" && indexByTempID(out, msg.TempID) >= 0 {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// UnreadCount counts messages not sent by selfID that are not yet read.
func UnreadCount(list []wire.Message, selfID string) int {
	n := 0
	for _, msg := range list {
		if msg.SenderID != selfID && msg.Status != wire.StatusRead {
			n++
		}
	}
	return n
}

func higherStatus(a, b wire.Status) wire.Status {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

func indexByID(list []wire.Message, id string) int {
	for i, msg := range list {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

func indexByTempID(list []wire.Message, tempID string) int {
	for i, msg := range list {
		if msg.TempID == tempID {
			return i
		}
	}
	return -1
}

func clone(list []wire.Message) []wire.Message {
	out := make([]wire.Message, len(list))
	copy(out, list)
	return out
}
